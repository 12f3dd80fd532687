// Package leader runs a callback only while holding a cluster-wide lease,
// so singleton processes (scheduler, batch discoverer, recovery scans) can run
// multiple replicas for availability without doing the work twice.
package leader

import (
	"context"
	"time"

	"github.com/ignite/sendfabric/internal/pkg/distlock"
	"github.com/ignite/sendfabric/internal/pkg/logger"
)

// Extender is implemented by lock backends that support renewing an
// already-held lease without releasing it. distlock.RedisLock satisfies
// this; the PostgreSQL advisory-lock fallback does not need it since the
// lock is held for the life of the DB session.
type Extender interface {
	Extend(ctx context.Context, ttl time.Duration) error
}

// Elector runs a single callback at a time across any number of
// replicas contending for the same lock key.
type Elector struct {
	lock   distlock.DistLock
	ttl    time.Duration
	renew  time.Duration
}

// New creates an Elector around an already-constructed DistLock.
func New(lock distlock.DistLock, ttl, renewEvery time.Duration) *Elector {
	return &Elector{lock: lock, ttl: ttl, renew: renewEvery}
}

// Run blocks until ctx is cancelled, repeatedly attempting to acquire
// leadership and, once acquired, invoking fn in a child context that is
// cancelled the moment leadership is lost (lease expired, renewal failed,
// or Release was called by the lock backend going away).
func (e *Elector) Run(ctx context.Context, name string, fn func(ctx context.Context)) {
	retry := 2 * time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		acquired, err := e.lock.Acquire(ctx)
		if err != nil {
			logger.Warn("leader acquire failed", "name", name, "error", err.Error())
			sleep(ctx, retry)
			continue
		}
		if !acquired {
			sleep(ctx, retry)
			continue
		}

		logger.Info("leadership acquired", "name", name)
		e.holdAndRun(ctx, name, fn)
	}
}

func (e *Elector) holdAndRun(ctx context.Context, name string, fn func(ctx context.Context)) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer func() {
		releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer releaseCancel()
		if err := e.lock.Release(releaseCtx); err != nil {
			logger.Warn("leader release failed", "name", name, "error", err.Error())
		}
		logger.Info("leadership released", "name", name)
	}()

	done := make(chan struct{})
	go func() {
		fn(runCtx)
		close(done)
	}()

	ticker := time.NewTicker(e.renew)
	defer ticker.Stop()

	ext, extendable := e.lock.(Extender)
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !extendable {
				continue
			}
			if err := ext.Extend(ctx, e.ttl); err != nil {
				logger.Warn("leader lease renewal failed, stepping down", "name", name, "error", err.Error())
				cancel()
				return
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
