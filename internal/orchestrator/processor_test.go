package orchestrator

import (
	"context"
	"testing"

	"github.com/ignite/sendfabric/internal/domain"
)

func TestPublishRecipientsPagesUntilDry(t *testing.T) {
	batches := &fakeBatchRepo{}
	recipients := &fakeRecipientRepo{pages: [][]domain.Recipient{
		{{ID: "r1"}, {ID: "r2"}},
	}}
	pub := &fakePublisher{}

	p := NewProcessor(nil, batches, recipients, pub, ProcessorConfig{PageSize: 10})

	b := &domain.Batch{ID: "b1", UserID: "u1", Status: domain.BatchProcessing, Module: domain.ModuleEmail}
	n, err := p.PublishRecipients(context.Background(), b)
	if err != nil {
		t.Fatalf("PublishRecipients() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 recipients published, got %d", n)
	}
	if len(pub.subjects) != 2 {
		t.Fatalf("expected 2 job publishes, got %d", len(pub.subjects))
	}
	if p.Stats()["total_published"] != 2 {
		t.Fatalf("expected total_published = 2, got %d", p.Stats()["total_published"])
	}
}

func TestPublishRecipientsStopsWhenBatchNoLongerProcessing(t *testing.T) {
	batches := &fakeBatchRepo{}
	recipients := &fakeRecipientRepo{pages: [][]domain.Recipient{
		{{ID: "r1"}},
	}}
	pub := &fakePublisher{}

	p := NewProcessor(nil, &pausedBatchRepo{fakeBatchRepo: batches}, recipients, pub, ProcessorConfig{PageSize: 10})

	b := &domain.Batch{ID: "b1", UserID: "u1", Status: domain.BatchProcessing, Module: domain.ModuleEmail}
	n, err := p.PublishRecipients(context.Background(), b)
	if err != nil {
		t.Fatalf("PublishRecipients() error = %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 recipients published once batch is paused, got %d", n)
	}
}

// pausedBatchRepo reports a batch as paused rather than processing, so
// PublishRecipients should stop pagination without publishing anything.
type pausedBatchRepo struct {
	*fakeBatchRepo
}

func (p *pausedBatchRepo) Get(ctx context.Context, userID, id string) (*domain.Batch, error) {
	return &domain.Batch{ID: id, UserID: userID, Status: domain.BatchPaused, Module: domain.ModuleEmail}, nil
}
