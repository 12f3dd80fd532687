package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/sendfabric/internal/auth"
	"github.com/ignite/sendfabric/internal/domain"
	"github.com/ignite/sendfabric/internal/pkg/logger"
	"github.com/ignite/sendfabric/internal/repository"
)

// RecoveryConfig controls the stuck-batch scan, grounded on the teacher's
// internal/worker/queue_recovery.go staleAge/interval pair.
type RecoveryConfig struct {
	Interval time.Duration
	StaleAge time.Duration
}

func (c RecoveryConfig) withDefaults() RecoveryConfig {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.StaleAge <= 0 {
		c.StaleAge = 10 * time.Minute
	}
	return c
}

// Recovery periodically requeues batches that have been stuck in
// BatchProcessing past StaleAge, the same "scan, requeue-or-deadletter"
// idea as the teacher's QueueRecoveryWorker, applied at the batch level
// instead of per queue item: a batch re-publishes its still-pending
// recipients rather than moving straight to dead_letter, since a stuck
// batch usually means a crashed orchestrator replica, not an unsendable
// recipient.
type Recovery struct {
	batches repository.BatchRepository
	publish func(ctx context.Context, b *domain.Batch) (int, error)
	cfg     RecoveryConfig
	signer  *auth.ServiceTokenManager

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRecovery creates a stuck-batch recovery scanner. publish re-enumerates
// and publishes a batch's still-pending recipients (typically
// Processor.PublishRecipients). signer, if non-nil, stamps each requeue
// decision with a signed service token recorded in the audit log so a
// later reconciliation can attribute the requeue to this orchestrator
// replica.
func NewRecovery(batches repository.BatchRepository, publish func(ctx context.Context, b *domain.Batch) (int, error), signer *auth.ServiceTokenManager, cfg RecoveryConfig) *Recovery {
	return &Recovery{batches: batches, publish: publish, signer: signer, cfg: cfg.withDefaults()}
}

// Start begins the recovery scan loop.
func (r *Recovery) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.running = true
	r.cancel = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				r.scan(runCtx)
			}
		}
	}()
}

// Stop halts the recovery loop.
func (r *Recovery) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
}

func (r *Recovery) scan(ctx context.Context) error {
	threshold := time.Now().Add(-r.cfg.StaleAge)
	stuck, err := r.batches.StuckProcessing(ctx, threshold, 100)
	if err != nil {
		return fmt.Errorf("scan stuck batches: %w", err)
	}
	for _, b := range stuck {
		if _, err := r.publish(ctx, &b); err != nil {
			continue
		}
		if r.signer != nil {
			token, err := r.signer.Sign("orchestrator", "requeue", b.ID)
			if err != nil {
				logger.Warn("recovery: failed to sign requeue audit token", "batch_id", b.ID, "error", err.Error())
				continue
			}
			logger.Info("recovery: requeued stuck batch", "batch_id", b.ID, "audit_token", token)
		}
	}
	return nil
}
