// Package eventlog buffers EventRecords in memory and periodically flushes
// them to Postgres via COPY, grounded on the teacher's
// internal/worker/bulk_enqueuer.go BulkEnqueuer — same mutex-guarded slice,
// same atomic stats counters, same ticker-driven flush loop — but
// repurposed from subscriber-queue enqueueing to append-only analytics
// event buffering.
package eventlog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/sendfabric/internal/domain"
	"github.com/ignite/sendfabric/internal/pkg/logger"
)

// Inserter persists a batch of events; satisfied by repository.EventRepository.
type Inserter interface {
	BulkInsert(ctx context.Context, events []domain.EventRecord) (int, error)
}

// Buffer accumulates EventRecords and flushes them on a timer or when full.
type Buffer struct {
	repo          Inserter
	flushInterval time.Duration
	maxBatch      int

	mu      sync.Mutex
	pending []domain.EventRecord

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool

	totalBuffered int64
	totalFlushed  int64
	totalFailed   int64
}

// New creates an event buffer. flushInterval and maxBatch default to 2s and
// 5000 respectively when zero.
func New(repo Inserter, flushInterval time.Duration, maxBatch int) *Buffer {
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}
	if maxBatch <= 0 {
		maxBatch = 5000
	}
	return &Buffer{
		repo:          repo,
		flushInterval: flushInterval,
		maxBatch:      maxBatch,
		stopCh:        make(chan struct{}),
	}
}

// Append adds an event to the buffer, flushing immediately if the buffer has
// reached maxBatch.
func (b *Buffer) Append(ev domain.EventRecord) {
	b.mu.Lock()
	b.pending = append(b.pending, ev)
	atomic.AddInt64(&b.totalBuffered, 1)
	full := len(b.pending) >= b.maxBatch
	b.mu.Unlock()

	if full {
		b.flush(context.Background())
	}
}

// Start begins the periodic flush loop.
func (b *Buffer) Start(ctx context.Context) {
	if !b.running.CompareAndSwap(false, true) {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				b.flush(context.Background())
				return
			case <-b.stopCh:
				b.flush(context.Background())
				return
			case <-ticker.C:
				b.flush(ctx)
			}
		}
	}()
}

// Stop halts the flush loop after a final flush.
func (b *Buffer) Stop() {
	if !b.running.CompareAndSwap(true, false) {
		return
	}
	close(b.stopCh)
	b.wg.Wait()
}

func (b *Buffer) flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	n, err := b.repo.BulkInsert(ctx, batch)
	if err != nil {
		atomic.AddInt64(&b.totalFailed, int64(len(batch)))
		logger.Warn("eventlog flush failed", "count", len(batch), "error", err.Error())
		return
	}
	atomic.AddInt64(&b.totalFlushed, int64(n))
}

// Stats reports buffer counters for observability.
func (b *Buffer) Stats() map[string]int64 {
	b.mu.Lock()
	pending := int64(len(b.pending))
	b.mu.Unlock()
	return map[string]int64{
		"total_buffered": atomic.LoadInt64(&b.totalBuffered),
		"total_flushed":  atomic.LoadInt64(&b.totalFlushed),
		"total_failed":   atomic.LoadInt64(&b.totalFailed),
		"pending":        pending,
	}
}
