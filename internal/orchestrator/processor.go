package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ignite/sendfabric/internal/broker"
	"github.com/ignite/sendfabric/internal/domain"
	"github.com/ignite/sendfabric/internal/pkg/logger"
	"github.com/ignite/sendfabric/internal/repository"
)

// ProcessorConfig controls the processor's durable consumer and per-batch
// recipient paging.
type ProcessorConfig struct {
	Workers       int
	PageSize      int
	FetchBatch    int
	FetchTimeout  time.Duration
	MaxAckPending int
	MaxDeliver    int
}

func (c ProcessorConfig) withDefaults() ProcessorConfig {
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.PageSize <= 0 {
		c.PageSize = 500
	}
	if c.FetchBatch <= 0 {
		c.FetchBatch = 10
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 5 * time.Second
	}
	if c.MaxAckPending <= 0 {
		c.MaxAckPending = 50
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = 5
	}
	return c
}

// orchestrationNotice is the payload the discoverer publishes per claimed
// batch.
type orchestrationNotice struct {
	BatchID string `json:"batchId"`
	UserID  string `json:"userId"`
}

// Processor subscribes to the discoverer's orchestration notices and does
// the actual per-batch work (§4.E steps 1-5): page the batch's pending
// recipients and publish one job per recipient onto the broker's per-module
// job subjects. Unlike the Discoverer, it runs unconditionally on every
// replica — the durable pull consumer load-balances notices across
// whichever processors are up, the same way internal/tenantworker.Pool
// scales the send side.
type Processor struct {
	client     *broker.Client
	batches    repository.BatchRepository
	recipients repository.RecipientRepository
	publish    Publisher
	cfg        ProcessorConfig

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	consumer *broker.Consumer

	totalPublished int64
	totalBatches   int64
}

// NewProcessor creates a batch processor bound to client's orchestration
// stream.
func NewProcessor(client *broker.Client, batches repository.BatchRepository, recipients repository.RecipientRepository, publish Publisher, cfg ProcessorConfig) *Processor {
	return &Processor{
		client:     client,
		batches:    batches,
		recipients: recipients,
		publish:    publish,
		cfg:        cfg.withDefaults(),
	}
}

// Start binds the durable orchestration consumer and launches its worker
// goroutines. Safe to call on every replica concurrently.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)

	consumer, err := broker.NewConsumer(p.client, broker.StreamOrchestration, broker.ConsumerConfig{
		Durable:       "orchestrator-processor",
		FilterSubject: broker.SubjectOrchestrationBatch(),
		MaxAckPending: p.cfg.MaxAckPending,
		MaxDeliver:    p.cfg.MaxDeliver,
	})
	if err != nil {
		cancel()
		p.mu.Unlock()
		return err
	}

	p.running = true
	p.cancel = cancel
	p.consumer = consumer
	p.mu.Unlock()

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(runCtx, consumer)
	}
	return nil
}

// Stop halts every worker and closes the orchestration consumer.
func (p *Processor) Stop() {
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
			logger.Warn("orchestrator: failed to close processor consumer", "error", err.Error())
		}
	}
}

// Stats reports processor counters for observability.
func (p *Processor) Stats() map[string]int64 {
	return map[string]int64{
		"total_published": atomic.LoadInt64(&p.totalPublished),
		"total_batches":   atomic.LoadInt64(&p.totalBatches),
	}
}

func (p *Processor) worker(ctx context.Context, consumer *broker.Consumer) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := consumer.Fetch(ctx, p.cfg.FetchBatch, p.cfg.FetchTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("orchestrator: fetch failed", "error", err.Error())
			continue
		}
		for _, msg := range msgs {
			p.handle(ctx, msg)
		}
	}
}

func (p *Processor) handle(ctx context.Context, msg *nats.Msg) {
	var notice orchestrationNotice
	if err := json.Unmarshal(msg.Data, &notice); err != nil {
		logger.Warn("orchestrator: dropping malformed orchestration notice", "error", err.Error())
		broker.Ack(msg) // never redeliver an undecodable payload
		return
	}

	b, err := p.batches.Get(ctx, notice.UserID, notice.BatchID)
	if err != nil {
		logger.Warn("orchestrator: failed to load batch, nak for redelivery", "batch_id", notice.BatchID, "error", err.Error())
		broker.NakWithDelay(msg, 5*time.Second)
		return
	}

	atomic.AddInt64(&p.totalBatches, 1)
	if _, err := p.PublishRecipients(ctx, b); err != nil {
		logger.Warn("orchestrator: failed to publish recipients, nak for redelivery", "batch_id", b.ID, "error", err.Error())
		broker.NakWithDelay(msg, 5*time.Second)
		return
	}
	broker.Ack(msg)
}

// PublishRecipients exposes the paging/publishing step to callers outside
// this package, namely internal/orchestrator.Recovery's requeue scan, which
// re-enumerates and republishes a stuck batch's still-pending recipients.
func (p *Processor) PublishRecipients(ctx context.Context, b *domain.Batch) (int, error) {
	published := 0
	for {
		current, err := p.batches.Get(ctx, b.UserID, b.ID)
		if err != nil {
			return published, fmt.Errorf("reload batch status: %w", err)
		}
		if current.Status != domain.BatchProcessing {
			break
		}

		claimed, err := p.recipients.ClaimPending(ctx, b.ID, p.cfg.PageSize)
		if err != nil {
			return published, fmt.Errorf("claim pending recipients: %w", err)
		}
		if len(claimed) == 0 {
			break
		}

		for _, rec := range claimed {
			subject := broker.SubjectJob(string(b.Module), b.ID)
			dedupID := broker.DedupKey(rec.ID)
			payload := []byte(fmt.Sprintf(`{"batchId":%q,"recipientId":%q,"userId":%q}`, b.ID, rec.ID, b.UserID))
			if err := p.publish.Publish(ctx, subject, dedupID, payload); err != nil {
				return published, fmt.Errorf("publish job: %w", err)
			}
			published++
		}
		atomic.AddInt64(&p.totalPublished, int64(len(claimed)))

		if len(claimed) < p.cfg.PageSize {
			break
		}
	}
	return published, nil
}
