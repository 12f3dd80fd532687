package hotstate

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

func TestMarkSentIsIdempotent(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	s := New(client, time.Minute)
	ctx := context.Background()

	won, err := s.MarkSent(ctx, "rec-1")
	if err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	if !won {
		t.Fatalf("expected first MarkSent to win the race")
	}

	won, err = s.MarkSent(ctx, "rec-1")
	if err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	if won {
		t.Fatalf("expected second MarkSent to lose the race")
	}

	seen, err := s.WasSent(ctx, "rec-1")
	if err != nil {
		t.Fatalf("WasSent: %v", err)
	}
	if !seen {
		t.Fatalf("expected WasSent to report true")
	}
}

func TestMarkWebhookSeen(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	s := New(client, time.Minute)
	ctx := context.Background()

	won, err := s.MarkWebhookSeen(ctx, "ses:msg-1")
	if err != nil {
		t.Fatalf("MarkWebhookSeen: %v", err)
	}
	if !won {
		t.Fatalf("expected first MarkWebhookSeen to win the race")
	}

	won, err = s.MarkWebhookSeen(ctx, "ses:msg-1")
	if err != nil {
		t.Fatalf("MarkWebhookSeen: %v", err)
	}
	if won {
		t.Fatalf("expected duplicate webhook to lose the race")
	}
}

func TestCounterAccumulateAndFlush(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	s := New(client, time.Minute)
	ctx := context.Background()

	if err := s.IncrementCounter(ctx, "batch-1", "sent", 3); err != nil {
		t.Fatalf("IncrementCounter: %v", err)
	}
	if err := s.IncrementCounter(ctx, "batch-1", "sent", 2); err != nil {
		t.Fatalf("IncrementCounter: %v", err)
	}
	if err := s.IncrementCounter(ctx, "batch-1", "failed", 1); err != nil {
		t.Fatalf("IncrementCounter: %v", err)
	}

	counters, err := s.FlushCounters(ctx, "batch-1")
	if err != nil {
		t.Fatalf("FlushCounters: %v", err)
	}
	if counters.Sent != 5 || counters.Failed != 1 {
		t.Fatalf("unexpected counters: %+v", counters)
	}

	again, err := s.FlushCounters(ctx, "batch-1")
	if err != nil {
		t.Fatalf("second FlushCounters: %v", err)
	}
	if again != (BatchCounters{}) {
		t.Fatalf("expected empty counters after flush, got %+v", again)
	}
}
