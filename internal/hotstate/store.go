// Package hotstate caches the fast-moving, read-heavy slices of send-pipeline
// state in Redis: idempotency markers for the tenant worker, per-batch
// counters ahead of their periodic flush to Postgres, and webhook dedup keys
// for the reconciler. It uses the same redis.Client the rate fabric shares,
// following the teacher's pattern of keeping hot counters in Redis and the
// system of record in Postgres (internal/worker/rate_limiter.go,
// internal/worker/webhook_receiver.go's EventAggregator poll-and-flush loop).
package hotstate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store wraps a Redis client with the key conventions used across the send
// pipeline's hot path.
type Store struct {
	redis *redis.Client
	ttl   time.Duration
}

// New creates a hot-state store. ttl bounds how long idempotency and dedup
// markers survive; it should comfortably exceed the broker's MaxDeliver
// redelivery window.
func New(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{redis: client, ttl: ttl}
}

// MarkSent records that a job was already processed, for the tenant worker's
// idempotency gate: a redelivered message whose dedup key is already present
// is acked without resending. Returns true if this call won the race (i.e.
// the key was not already set).
func (s *Store) MarkSent(ctx context.Context, dedupKey string) (bool, error) {
	ok, err := s.redis.SetNX(ctx, sentKey(dedupKey), 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark sent: %w", err)
	}
	return ok, nil
}

// WasSent reports whether a dedup key has already been marked sent, without
// attempting to claim it.
func (s *Store) WasSent(ctx context.Context, dedupKey string) (bool, error) {
	n, err := s.redis.Exists(ctx, sentKey(dedupKey)).Result()
	if err != nil {
		return false, fmt.Errorf("check sent: %w", err)
	}
	return n > 0, nil
}

// MarkWebhookSeen records that a (provider, event id) pair has already been
// ingested, so the reconciler can drop duplicate provider retries before
// touching Postgres. Returns true if this call won the race.
func (s *Store) MarkWebhookSeen(ctx context.Context, dedupKey string) (bool, error) {
	ok, err := s.redis.SetNX(ctx, webhookKey(dedupKey), 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark webhook seen: %w", err)
	}
	return ok, nil
}

// BatchCounters is the in-flight aggregate for a batch, accumulated in Redis
// between periodic flushes to the batches table's counter columns.
type BatchCounters struct {
	Sent       int64
	Delivered  int64
	Bounced    int64
	Complained int64
	Failed     int64
	Clamped    int64
}

// IncrementCounter bumps a single named counter for a batch (sent, delivered,
// bounced, complained, failed, clamped) by delta, atomically.
func (s *Store) IncrementCounter(ctx context.Context, batchID, field string, delta int64) error {
	key := counterKey(batchID)
	pipe := s.redis.TxPipeline()
	pipe.HIncrBy(ctx, key, field, delta)
	pipe.Expire(ctx, key, s.ttl)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("increment counter: %w", err)
	}
	return nil
}

// FlushCounters atomically reads and clears a batch's accumulated counters,
// returning the snapshot to apply to Postgres. A zero-value result with no
// error means nothing had accumulated since the last flush.
func (s *Store) FlushCounters(ctx context.Context, batchID string) (BatchCounters, error) {
	key := counterKey(batchID)

	fields := []string{"sent", "delivered", "bounced", "complained", "failed", "clamped"}
	pipe := s.redis.TxPipeline()
	hm := pipe.HMGet(ctx, key, fields...)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return BatchCounters{}, fmt.Errorf("read and clear counters: %w", err)
	}
	vals := hm.Val()

	var out BatchCounters
	out.Sent = parseCounter(vals[0])
	out.Delivered = parseCounter(vals[1])
	out.Bounced = parseCounter(vals[2])
	out.Complained = parseCounter(vals[3])
	out.Failed = parseCounter(vals[4])
	out.Clamped = parseCounter(vals[5])
	return out, nil
}

func parseCounter(v interface{}) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	var n int64
	fmt.Sscanf(s, "%d", &n)
	return n
}

func sentKey(dedupKey string) string    { return "hotstate:sent:" + dedupKey }
func webhookKey(dedupKey string) string { return "hotstate:webhook:" + dedupKey }
func counterKey(batchID string) string  { return "hotstate:counters:" + batchID }
