package tenantworker

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ignite/sendfabric/internal/broker"
	"github.com/ignite/sendfabric/internal/domain"
	"github.com/ignite/sendfabric/internal/pkg/logger"
	"github.com/ignite/sendfabric/internal/repository"
)

// Config controls the pool's fetch cadence and concurrency, generalizing
// the teacher's SendWorkerPool.numWorkers/batchSize/pollInterval knobs
// (internal/worker/send_worker.go) to a per-module pull-consumer pool.
type Config struct {
	WorkersPerModule int
	FetchBatchSize   int
	FetchTimeout     time.Duration
	MaxAckPending    int
	MaxDeliver       int
}

func (c Config) withDefaults() Config {
	if c.WorkersPerModule <= 0 {
		c.WorkersPerModule = 10
	}
	if c.FetchBatchSize <= 0 {
		c.FetchBatchSize = 20
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 5 * time.Second
	}
	if c.MaxAckPending <= 0 {
		c.MaxAckPending = 100
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = 5
	}
	return c
}

// Pool runs WorkersPerModule goroutines per registered module type, each
// pulling jobs off that module's durable broker consumer and running them
// through a Processor, mirroring the teacher's fixed worker-count pool but
// keyed by channel instead of a single global queue.
type Pool struct {
	client     *broker.Client
	processor  *Processor
	batches    repository.BatchRepository
	sendConfig repository.SendConfigRepository
	moduleTypes []domain.Module
	cfg        Config

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	consumers []*broker.Consumer

	totalProcessed int64
	totalAcked     int64
	totalNaked     int64
}

// New creates a tenant worker pool. moduleTypes is typically
// modules.Registry.Types() — one durable consumer is created per type.
func New(
	client *broker.Client,
	processor *Processor,
	batches repository.BatchRepository,
	sendConfig repository.SendConfigRepository,
	moduleTypes []domain.Module,
	cfg Config,
) *Pool {
	return &Pool{
		client:      client,
		processor:   processor,
		batches:     batches,
		sendConfig:  sendConfig,
		moduleTypes: moduleTypes,
		cfg:         cfg.withDefaults(),
	}
}

// Start binds one durable consumer per module type and launches its worker
// goroutines.
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

	for _, moduleType := range p.moduleTypes {
		consumer, err := broker.NewConsumer(p.client, broker.StreamJobs, broker.ConsumerConfig{
			Durable:       "tenant-worker-" + string(moduleType),
			FilterSubject: broker.SubjectJobsForModule(string(moduleType)),
			MaxAckPending: p.cfg.MaxAckPending,
			MaxDeliver:    p.cfg.MaxDeliver,
		})
		if err != nil {
			cancel()
			return err
		}
		p.consumers = append(p.consumers, consumer)

		for i := 0; i < p.cfg.WorkersPerModule; i++ {
			p.wg.Add(1)
			go p.worker(runCtx, consumer)
		}
	}
	return nil
}

// Stop halts every worker and closes the module consumers.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	consumers := p.consumers
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	for _, c := range consumers {
		if err := c.Close(); err != nil {
			logger.Warn("tenantworker: failed to close consumer", "error", err.Error())
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

func (p *Pool) worker(ctx context.Context, consumer *broker.Consumer) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := consumer.Fetch(ctx, p.cfg.FetchBatchSize, p.cfg.FetchTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("tenantworker: fetch failed", "error", err.Error())
			continue
		}
		for _, msg := range msgs {
			p.handle(ctx, msg)
		}
	}
}

func (p *Pool) handle(ctx context.Context, msg *nats.Msg) {
	var job Job
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		logger.Warn("tenantworker: dropping malformed job", "error", err.Error())
		broker.Ack(msg) // never redeliver an undecodable payload
		return
	}

	batch, err := p.batches.Get(ctx, job.UserID, job.BatchID)
	if err != nil {
		logger.Warn("tenantworker: failed to load batch, nak for redelivery", "batch_id", job.BatchID, "error", err.Error())
		p.nak(msg)
		return
	}
	cfg, err := p.sendConfig.Get(ctx, job.UserID, batch.SendConfigID)
	if err != nil {
		logger.Warn("tenantworker: failed to load send config, nak for redelivery", "batch_id", job.BatchID, "error", err.Error())
		p.nak(msg)
		return
	}

	atomic.AddInt64(&p.totalProcessed, 1)
	outcome := p.processor.Process(ctx, job, batch, cfg)
	if outcome == OutcomeAck {
		atomic.AddInt64(&p.totalAcked, 1)
		broker.Ack(msg)
		return
	}
	p.nak(msg)
}

// nak backs off delivery with backoffDelay, the same ceiling the rest of
// the pipeline uses for retry backoff.
func (p *Pool) nak(msg *nats.Msg) {
	atomic.AddInt64(&p.totalNaked, 1)
	broker.NakWithDelay(msg, backoffDelay(broker.Deliveries(msg)))
}

// backoffDelay computes min(1s * 2^attempt, 30s).
func backoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30 // guard against overflow in the shift below
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > 30*time.Second || delay <= 0 {
		delay = 30 * time.Second
	}
	return delay
}
