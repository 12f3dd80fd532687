package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return client, func() {
		client.Close()
		mr.Close()
	}
}

func TestAcquireWithinBurst(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	f := New(client, 10*time.Second)
	limit := Bucket{RequestsPerSecond: 5, Burst: 5}

	now := time.Now()
	for i := 0; i < 5; i++ {
		res, err := f.Acquire(context.Background(), "test:burst", limit, 1, now)
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("acquire %d: expected allowed, got denied (reason=%d)", i, res.Reason)
		}
	}

	res, err := f.Acquire(context.Background(), "test:burst", limit, 1, now)
	if err != nil {
		t.Fatalf("acquire after burst: %v", err)
	}
	if res.Allowed {
		t.Fatalf("expected denial once burst is exhausted")
	}
	if res.RetryAfter <= 0 {
		t.Fatalf("expected a positive retry-after, got %v", res.RetryAfter)
	}
}

func TestAcquireRefillsOverTime(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	f := New(client, 10*time.Second)
	limit := Bucket{RequestsPerSecond: 10, Burst: 1}

	now := time.Now()
	res, err := f.Acquire(context.Background(), "test:refill", limit, 1, now)
	if err != nil || !res.Allowed {
		t.Fatalf("first acquire should succeed: %v %+v", err, res)
	}

	denied, err := f.Acquire(context.Background(), "test:refill", limit, 1, now)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if denied.Allowed {
		t.Fatalf("second acquire should be denied immediately after exhausting burst of 1")
	}

	later := now.Add(200 * time.Millisecond) // at 10/s, 200ms refills ~2 tokens
	res, err = f.Acquire(context.Background(), "test:refill", limit, 1, later)
	if err != nil {
		t.Fatalf("acquire after refill: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("expected token to have refilled after 200ms at 10 req/s")
	}
}

func TestAcquireDailyLimit(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	f := New(client, 10*time.Second)
	limit := Bucket{RequestsPerSecond: 1000, Burst: 1000, DailyLimit: 2}

	now := time.Now()
	for i := 0; i < 2; i++ {
		res, err := f.Acquire(context.Background(), "test:daily", limit, 1, now)
		if err != nil || !res.Allowed {
			t.Fatalf("acquire %d should succeed under daily limit: %v %+v", i, err, res)
		}
	}

	res, err := f.Acquire(context.Background(), "test:daily", limit, 1, now)
	if err != nil {
		t.Fatalf("acquire over daily limit: %v", err)
	}
	if res.Allowed {
		t.Fatalf("expected denial once daily limit is reached")
	}
	if res.Reason != DenialDailyLimit {
		t.Fatalf("expected DenialDailyLimit, got %v", res.Reason)
	}
}

func TestAcquireUnboundedWhenNoRate(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	f := New(client, 10*time.Second)
	res, err := f.Acquire(context.Background(), "test:unbounded", Bucket{}, 1, time.Now())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("a zero-value bucket should mean unbounded")
	}
}

func TestAcquireFailsOpenOnRedisOutage(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	cleanup() // close miniredis immediately so the script call errors

	f := New(client, 10*time.Second)
	limit := Bucket{RequestsPerSecond: 1, Burst: 1}

	res, err := f.Acquire(context.Background(), "test:outage", limit, 1, time.Now())
	if err != nil {
		t.Fatalf("fabric should fail open, not error: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("fabric should fail open on redis errors")
	}
}

func TestAcquireWithTimeoutSucceedsAfterWait(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	f := New(client, 10*time.Second)
	limit := Bucket{RequestsPerSecond: 20, Burst: 1}

	ctx := context.Background()
	first, err := f.Acquire(ctx, "test:timeout", limit, 1, time.Now())
	if err != nil || !first.Allowed {
		t.Fatalf("first acquire should succeed: %v %+v", err, first)
	}

	res, err := f.AcquireWithTimeout(ctx, "test:timeout", limit, 1, time.Second)
	if err != nil {
		t.Fatalf("acquire with timeout: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("expected acquire to eventually succeed within the timeout window")
	}
}
