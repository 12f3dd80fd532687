package reconciler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ignite/sendfabric/internal/broker"
	"github.com/ignite/sendfabric/internal/pkg/logger"
)

// Config tunes the reconciler's micro-batch fetch cadence, per spec §4.H's
// batchSize <= 100 / linger <= 250ms bound on how long an inbound webhook
// event can sit before being folded into recipient and batch state.
type Config struct {
	Workers       int
	FetchBatch    int
	FetchLinger   time.Duration
	MaxAckPending int
	MaxDeliver    int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.FetchBatch <= 0 || c.FetchBatch > 100 {
		c.FetchBatch = 100
	}
	if c.FetchLinger <= 0 || c.FetchLinger > 250*time.Millisecond {
		c.FetchLinger = 250 * time.Millisecond
	}
	if c.MaxAckPending <= 0 {
		c.MaxAckPending = 500
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = 5
	}
	return c
}

// Pool runs Workers goroutines pulling micro-batches off the webhooks
// stream's wildcard subject and folding each event through a Processor,
// mirroring tenantworker.Pool's fetch-dispatch-ack loop with a single
// shared consumer instead of one per module.
type Pool struct {
	client    *broker.Client
	processor *Processor
	cfg       Config

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	consumer *broker.Consumer

	totalProcessed int64
	totalAcked     int64
	totalNaked     int64
}

// New creates a reconciler worker pool.
func New(client *broker.Client, processor *Processor, cfg Config) *Pool {
	return &Pool{client: client, processor: processor, cfg: cfg.withDefaults()}
}

// Start binds the durable webhooks consumer and launches the worker goroutines.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.mu.Unlock()

	consumer, err := broker.NewConsumer(p.client, broker.StreamWebhooks, broker.ConsumerConfig{
		Durable:       "reconciler",
		FilterSubject: broker.SubjectWebhooksAll(),
		MaxAckPending: p.cfg.MaxAckPending,
		MaxDeliver:    p.cfg.MaxDeliver,
	})
	if err != nil {
		cancel()
		return err
	}
	p.consumer = consumer

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(runCtx)
	}
	return nil
}

// Stop halts every worker and closes the consumer.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	consumer := p.consumer
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logger.Warn("reconciler: failed to close consumer", "error", err.Error())
		}
	}
}

// Stats reports pool counters for observability.
func (p *Pool) Stats() map[string]int64 {
	return map[string]int64{
		"total_processed": atomic.LoadInt64(&p.totalProcessed),
		"total_acked":     atomic.LoadInt64(&p.totalAcked),
		"total_naked":     atomic.LoadInt64(&p.totalNaked),
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := p.consumer.Fetch(ctx, p.cfg.FetchBatch, p.cfg.FetchLinger)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("reconciler: fetch failed", "error", err.Error())
			continue
		}
		for _, msg := range msgs {
			p.handle(ctx, msg)
		}
	}
}

func (p *Pool) handle(ctx context.Context, msg *nats.Msg) {
	atomic.AddInt64(&p.totalProcessed, 1)
	outcome := p.processor.Process(ctx, msg.Data)
	if outcome == OutcomeAck {
		atomic.AddInt64(&p.totalAcked, 1)
		broker.Ack(msg)
		return
	}
	atomic.AddInt64(&p.totalNaked, 1)
	broker.NakWithDelay(msg, backoffDelay(broker.Deliveries(msg)))
}

// backoffDelay computes min(1s * 2^attempt, 30s), the same redelivery
// ceiling internal/tenantworker.Pool applies.
func backoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > 30*time.Second || delay <= 0 {
		delay = 30 * time.Second
	}
	return delay
}
