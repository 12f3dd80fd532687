// Package scheduler promotes scheduled batches to queued once their
// scheduledAt has passed, grounded on the teacher's
// internal/worker/campaign_scheduler.go poll-and-promote loop, trimmed to
// just the scheduled -> queued transition (the teacher's preparation-window
// and edit-lock campaign UX logic has no SPEC_FULL equivalent).
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/sendfabric/internal/domain"
	"github.com/ignite/sendfabric/internal/pkg/logger"
	"github.com/ignite/sendfabric/internal/repository"
)

// Config controls the scheduler's poll cadence and page size.
type Config struct {
	PollInterval time.Duration
	PageSize     int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.PageSize <= 0 {
		c.PageSize = 200
	}
	return c
}

// Scheduler promotes due scheduled batches to queued.
type Scheduler struct {
	batches repository.BatchRepository
	cfg     Config

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	totalPromoted int64
}

// New creates a scheduler.
func New(batches repository.BatchRepository, cfg Config) *Scheduler {
	return &Scheduler{batches: batches, cfg: cfg.withDefaults()}
}

// Start begins the poll loop. Only meant to run while this process holds
// leadership (see internal/leader), mirroring CampaignScheduler's
// single-active-instance assumption.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.promoteDue(runCtx)
			}
		}
	}()
}

// Stop halts the poll loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

// Stats reports scheduler counters for observability.
func (s *Scheduler) Stats() map[string]int64 {
	return map[string]int64{"total_promoted": atomic.LoadInt64(&s.totalPromoted)}
}

func (s *Scheduler) promoteDue(ctx context.Context) error {
	due, err := s.batches.DueForScheduling(ctx, time.Now(), s.cfg.PageSize)
	if err != nil {
		return fmt.Errorf("list due batches: %w", err)
	}

	for _, b := range due {
		if err := s.batches.TransitionStatus(ctx, b.ID, domain.BatchScheduled, domain.BatchQueued); err != nil {
			if err == repository.ErrConflict {
				continue
			}
			logger.Warn("failed to promote scheduled batch", "batch_id", b.ID, "error", err.Error())
			continue
		}
		atomic.AddInt64(&s.totalPromoted, 1)
	}
	return nil
}
