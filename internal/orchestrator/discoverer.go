// Package orchestrator implements the two-stage batch pipeline of SPEC_FULL
// §4.E: a leader-only Discoverer claims queued batches and publishes one
// lightweight orchestration notice per batch, and a Processor running on
// any replica claims that notice and does the actual recipient paging and
// per-recipient job publishing. Splitting claim-from-page-and-publish this
// way lets the expensive per-recipient work scale across replicas instead
// of bottlenecking on the single leader, generalizing the teacher's
// internal/worker/campaign_processor.go (claim → page → send) accordingly.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/sendfabric/internal/broker"
	"github.com/ignite/sendfabric/internal/repository"
)

// Config controls the discoverer's polling cadence.
type Config struct {
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	return c
}

// Publisher dedup-publishes a job payload onto a broker subject; satisfied
// by *broker.Client.
type Publisher interface {
	Publish(ctx context.Context, subject string, dedupID string, data []byte) error
}

// Discoverer claims queued batches, transitions them to processing, and
// publishes one orchestration notice per claimed batch. It must only run
// while this process holds leadership (see internal/leader): BatchRepository
// .ClaimNextQueued assumes a single active claimant.
type Discoverer struct {
	batches repository.BatchRepository
	broker  Publisher
	cfg     Config

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	totalBatches int64
}

// New creates a batch discoverer.
func New(batches repository.BatchRepository, brokerClient Publisher, cfg Config) *Discoverer {
	return &Discoverer{
		batches: batches,
		broker:  brokerClient,
		cfg:     cfg.withDefaults(),
	}
}

// Start begins the poll loop.
func (d *Discoverer) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.running = true
	d.cancel = cancel
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := d.pollOnce(runCtx); err != nil {
					// fail open: retry on the next tick rather than stop the loop.
					continue
				}
			}
		}
	}()
}

// Stop halts the poll loop and waits for in-flight work to finish.
func (d *Discoverer) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	cancel := d.cancel
	d.mu.Unlock()

	cancel()
	d.wg.Wait()
}

// Stats reports discoverer counters for observability.
func (d *Discoverer) Stats() map[string]int64 {
	return map[string]int64{
		"total_batches": atomic.LoadInt64(&d.totalBatches),
	}
}

// pollOnce claims every currently-queued batch and publishes an
// orchestration notice for each, one ClaimNextQueued call at a time until
// none remain.
func (d *Discoverer) pollOnce(ctx context.Context) error {
	for {
		b, err := d.batches.ClaimNextQueued(ctx)
		if err == repository.ErrNotFound {
			return nil
		}
		if err != nil {
			return fmt.Errorf("claim next queued batch: %w", err)
		}
		atomic.AddInt64(&d.totalBatches, 1)

		payload := []byte(fmt.Sprintf(`{"batchId":%q,"userId":%q}`, b.ID, b.UserID))
		if err := d.broker.Publish(ctx, broker.SubjectOrchestrationBatch(), "orch:"+b.ID, payload); err != nil {
			return fmt.Errorf("publish orchestration notice: %w", err)
		}
	}
}
