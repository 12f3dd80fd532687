package repository

import (
	"context"
	"time"

	"github.com/ignite/sendfabric/internal/domain"
)

// UserRepository manages accounts that own send-configs, keys and batches.
type UserRepository interface {
	Get(ctx context.Context, id string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) (string, error)
}

// APIKeyRepository resolves bearer credentials to the user that owns them.
type APIKeyRepository interface {
	GetByHash(ctx context.Context, hash string) (*domain.APIKey, error)
	Create(ctx context.Context, k *domain.APIKey) (string, error)
}

// SendConfigRepository manages reusable provider configurations.
type SendConfigRepository interface {
	Get(ctx context.Context, userID, id string) (*domain.SendConfig, error)
	GetDefault(ctx context.Context, userID string, module domain.Module) (*domain.SendConfig, error)
	List(ctx context.Context, userID string) ([]domain.SendConfig, error)
	Create(ctx context.Context, c *domain.SendConfig) (string, error)
}

// BatchListFilter controls pagination and filtering for batch listing.
type BatchListFilter struct {
	Status domain.BatchStatus
	Limit  int
	Offset int
}

// BatchRepository manages the lifecycle of send batches.
type BatchRepository interface {
	Get(ctx context.Context, userID, id string) (*domain.Batch, error)
	List(ctx context.Context, userID string, f BatchListFilter) ([]domain.Batch, int, error)
	Create(ctx context.Context, b *domain.Batch) (string, error)

	// TransitionStatus moves a batch from expectedCurrent to next, atomically.
	// Returns ErrConflict if the batch's current status no longer matches
	// expectedCurrent, and ErrInvalidTransition if the edge is not legal.
	TransitionStatus(ctx context.Context, id string, expectedCurrent, next domain.BatchStatus) error

	// DueForScheduling returns scheduled batches whose ScheduledAt has
	// passed, for the scheduler to promote to queued.
	DueForScheduling(ctx context.Context, now time.Time, limit int) ([]domain.Batch, error)

	// StuckProcessing returns batches that have been in BatchProcessing
	// since before threshold, for the recovery scan to requeue.
	StuckProcessing(ctx context.Context, threshold time.Time, limit int) ([]domain.Batch, error)

	// IncrementCounters atomically bumps a batch's aggregate counters and
	// marks it completed if every recipient has reached a terminal outcome.
	IncrementCounters(ctx context.Context, id string, delta BatchCounterDelta) error

	// ClaimNextQueued atomically claims one queued batch system-wide
	// (across all users), transitioning it to processing, for the
	// orchestrator's discovery poll. Returns ErrNotFound if none are queued.
	ClaimNextQueued(ctx context.Context) (*domain.Batch, error)
}

// BatchCounterDelta is an additive update to a batch's aggregate counters.
type BatchCounterDelta struct {
	Sent       int
	Delivered  int
	Bounced    int
	Complained int
	Failed     int
	Clamped    int
}

// RecipientRepository manages individual recipients within a batch.
type RecipientRepository interface {
	Get(ctx context.Context, id string) (*domain.Recipient, error)
	GetByProviderMessageID(ctx context.Context, provider, providerMessageID string) (*domain.Recipient, error)
	BulkCreate(ctx context.Context, batchID string, recipients []domain.Recipient) (int, error)

	// ClaimPending claims up to limit pending recipients for a batch using
	// FOR UPDATE SKIP LOCKED, marking them queued, so concurrent
	// orchestrator processors never publish the same recipient twice.
	ClaimPending(ctx context.Context, batchID string, limit int) ([]domain.Recipient, error)

	// TransitionStatus is the conditional, concurrency-safe status update
	// used both by the tenant worker (pending/queued -> sent/failed) and
	// the reconciler (sent -> delivered/bounced/complained).
	TransitionStatus(ctx context.Context, id string, expectedCurrent, next domain.RecipientStatus, providerMessageID *string, lastErr *string) error

	// CountByStatus returns the number of recipients per status for a batch.
	CountByStatus(ctx context.Context, batchID string) (map[domain.RecipientStatus]int, error)
}

// MessageIndexRepository maps provider message IDs back to recipients, so
// inbound webhook events can be reconciled.
type MessageIndexRepository interface {
	Create(ctx context.Context, idx *domain.MessageIndex) error
	GetByProviderMessageID(ctx context.Context, provider, providerMessageID string) (*domain.MessageIndex, error)
}

// EventRepository bulk-appends immutable event records.
type EventRepository interface {
	BulkInsert(ctx context.Context, events []domain.EventRecord) (int, error)
}
