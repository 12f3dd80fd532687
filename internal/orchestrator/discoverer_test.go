package orchestrator

import (
	"context"
	"sync"
	"testing"

	"github.com/ignite/sendfabric/internal/domain"
	"github.com/ignite/sendfabric/internal/repository"
)

type fakeBatchRepo struct {
	repository.BatchRepository
	queued  []domain.Batch
	claimed int
}

func (f *fakeBatchRepo) ClaimNextQueued(ctx context.Context) (*domain.Batch, error) {
	if f.claimed >= len(f.queued) {
		return nil, repository.ErrNotFound
	}
	b := f.queued[f.claimed]
	f.claimed++
	return &b, nil
}

func (f *fakeBatchRepo) Get(ctx context.Context, userID, id string) (*domain.Batch, error) {
	return &domain.Batch{ID: id, UserID: userID, Status: domain.BatchProcessing, Module: domain.ModuleEmail}, nil
}

type fakeRecipientRepo struct {
	repository.RecipientRepository
	pages [][]domain.Recipient
	idx   int
}

func (f *fakeRecipientRepo) ClaimPending(ctx context.Context, batchID string, limit int) ([]domain.Recipient, error) {
	if f.idx >= len(f.pages) {
		return nil, nil
	}
	page := f.pages[f.idx]
	f.idx++
	return page, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	dedupIDs []string
}

func (f *fakePublisher) Publish(ctx context.Context, subject, dedupID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	f.dedupIDs = append(f.dedupIDs, dedupID)
	return nil
}

func TestPollOnceClaimsAndPublishesNoticeUntilDry(t *testing.T) {
	batches := &fakeBatchRepo{queued: []domain.Batch{
		{ID: "b1", UserID: "u1", Status: domain.BatchQueued, Module: domain.ModuleEmail},
	}}
	pub := &fakePublisher{}

	d := New(batches, pub, Config{})

	if err := d.pollOnce(context.Background()); err != nil {
		t.Fatalf("pollOnce() error = %v", err)
	}

	if len(pub.subjects) != 1 {
		t.Fatalf("expected 1 published orchestration notice, got %d", len(pub.subjects))
	}
	if d.Stats()["total_batches"] != 1 {
		t.Fatalf("expected total_batches = 1, got %d", d.Stats()["total_batches"])
	}
}

func TestPollOnceNoQueuedBatches(t *testing.T) {
	batches := &fakeBatchRepo{}
	pub := &fakePublisher{}

	d := New(batches, pub, Config{})
	if err := d.pollOnce(context.Background()); err != nil {
		t.Fatalf("pollOnce() error = %v", err)
	}
	if len(pub.subjects) != 0 {
		t.Fatalf("expected no publishes, got %d", len(pub.subjects))
	}
}
