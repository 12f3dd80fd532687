package reconciler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/sendfabric/internal/domain"
	"github.com/ignite/sendfabric/internal/hotstate"
	"github.com/ignite/sendfabric/internal/repository"
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

type fakeRecipientRepo struct {
	repository.RecipientRepository
	rec         *domain.Recipient
	transitions []domain.RecipientStatus
}

func (f *fakeRecipientRepo) GetByProviderMessageID(ctx context.Context, provider, providerMessageID string) (*domain.Recipient, error) {
	if f.rec == nil {
		return nil, repository.ErrNotFound
	}
	return f.rec, nil
}

func (f *fakeRecipientRepo) TransitionStatus(ctx context.Context, id string, expectedCurrent, next domain.RecipientStatus, providerMessageID, lastErr *string) error {
	if expectedCurrent != f.rec.Status {
		return repository.ErrConflict
	}
	f.transitions = append(f.transitions, next)
	f.rec.Status = next
	return nil
}

type fakeBatchRepo struct {
	repository.BatchRepository
	deltas []repository.BatchCounterDelta
}

func (f *fakeBatchRepo) IncrementCounters(ctx context.Context, id string, delta repository.BatchCounterDelta) error {
	f.deltas = append(f.deltas, delta)
	return nil
}

type fakeEvents struct {
	appended []domain.EventRecord
}

func (f *fakeEvents) Append(ev domain.EventRecord) { f.appended = append(f.appended, ev) }

func newTestProcessor(t *testing.T, rec *fakeRecipientRepo, batches *fakeBatchRepo, events *fakeEvents) (*Processor, func()) {
	client, cleanup := setupTestRedis(t)
	hs := hotstate.New(client, time.Minute)
	return NewProcessor(hs, rec, batches, events), cleanup
}

func marshalEvent(t *testing.T, ev WebhookEvent) []byte {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return data
}

func TestProcessDeliveredTransitionsAndCounts(t *testing.T) {
	rec := &fakeRecipientRepo{rec: &domain.Recipient{ID: "rec-1", BatchID: "batch-1", Status: domain.RecipientSent}}
	batches := &fakeBatchRepo{}
	events := &fakeEvents{}

	p, cleanup := newTestProcessor(t, rec, batches, events)
	defer cleanup()

	raw := marshalEvent(t, WebhookEvent{Provider: "ses", ProviderMessageID: "msg-1", EventType: "delivered"})
	outcome := p.Process(context.Background(), raw)

	if outcome != OutcomeAck {
		t.Fatalf("expected OutcomeAck, got %v", outcome)
	}
	if rec.rec.Status != domain.RecipientDelivered {
		t.Fatalf("expected recipient delivered, got %v", rec.rec.Status)
	}
	if len(batches.deltas) != 1 || batches.deltas[0].Delivered != 1 {
		t.Fatalf("expected one delivered counter delta, got %+v", batches.deltas)
	}
	if len(events.appended) != 1 || events.appended[0].Type != domain.EventDelivered {
		t.Fatalf("expected one delivered event, got %+v", events.appended)
	}
}

func TestProcessDuplicateEventIsDeduped(t *testing.T) {
	rec := &fakeRecipientRepo{rec: &domain.Recipient{ID: "rec-1", BatchID: "batch-1", Status: domain.RecipientSent}}
	batches := &fakeBatchRepo{}
	events := &fakeEvents{}

	p, cleanup := newTestProcessor(t, rec, batches, events)
	defer cleanup()

	raw := marshalEvent(t, WebhookEvent{Provider: "ses", ProviderMessageID: "msg-1", EventType: "delivered"})
	p.Process(context.Background(), raw)
	outcome := p.Process(context.Background(), raw)

	if outcome != OutcomeAck {
		t.Fatalf("expected OutcomeAck for a duplicate delivery, got %v", outcome)
	}
	if len(batches.deltas) != 1 {
		t.Fatalf("expected the duplicate to be dropped before counting, got %+v", batches.deltas)
	}
}

func TestProcessBounceAfterDeliveredIsIgnored(t *testing.T) {
	rec := &fakeRecipientRepo{rec: &domain.Recipient{ID: "rec-1", BatchID: "batch-1", Status: domain.RecipientDelivered}}
	batches := &fakeBatchRepo{}
	events := &fakeEvents{}

	p, cleanup := newTestProcessor(t, rec, batches, events)
	defer cleanup()

	raw := marshalEvent(t, WebhookEvent{Provider: "ses", ProviderMessageID: "msg-1", EventType: "bounced"})
	outcome := p.Process(context.Background(), raw)

	if outcome != OutcomeAck {
		t.Fatalf("expected OutcomeAck, got %v", outcome)
	}
	if rec.rec.Status != domain.RecipientDelivered {
		t.Fatalf("expected delivered status to stick, got %v", rec.rec.Status)
	}
	if len(batches.deltas) != 0 {
		t.Fatalf("expected no counter write for an illegal transition, got %+v", batches.deltas)
	}
	if len(events.appended) != 1 {
		t.Fatalf("expected the bounce to still be logged as an event, got %+v", events.appended)
	}
}

func TestProcessUnknownRecipientIsAcked(t *testing.T) {
	rec := &fakeRecipientRepo{rec: nil}
	batches := &fakeBatchRepo{}
	events := &fakeEvents{}

	p, cleanup := newTestProcessor(t, rec, batches, events)
	defer cleanup()

	raw := marshalEvent(t, WebhookEvent{Provider: "ses", ProviderMessageID: "unknown", EventType: "delivered"})
	outcome := p.Process(context.Background(), raw)

	if outcome != OutcomeAck {
		t.Fatalf("expected OutcomeAck for an unresolvable provider message id, got %v", outcome)
	}
	if len(batches.deltas) != 0 {
		t.Fatalf("expected no counter write, got %+v", batches.deltas)
	}
}

func TestProcessBounceAfterDeliveredIncrementsDroppedTerminalStat(t *testing.T) {
	rec := &fakeRecipientRepo{rec: &domain.Recipient{ID: "rec-1", BatchID: "batch-1", Status: domain.RecipientDelivered}}
	batches := &fakeBatchRepo{}
	events := &fakeEvents{}

	p, cleanup := newTestProcessor(t, rec, batches, events)
	defer cleanup()

	raw := marshalEvent(t, WebhookEvent{Provider: "ses", ProviderMessageID: "msg-1", EventType: "bounced"})
	p.Process(context.Background(), raw)

	stats := p.Stats()
	if stats["webhook_dropped_terminal"] != 1 {
		t.Fatalf("expected webhook_dropped_terminal = 1, got %+v", stats)
	}
	if stats["total_processed"] != 1 {
		t.Fatalf("expected total_processed = 1, got %+v", stats)
	}
}

func TestProcessComplaintAfterDeliveredTransitionsAndCounts(t *testing.T) {
	rec := &fakeRecipientRepo{rec: &domain.Recipient{ID: "rec-1", BatchID: "batch-1", Status: domain.RecipientDelivered}}
	batches := &fakeBatchRepo{}
	events := &fakeEvents{}

	p, cleanup := newTestProcessor(t, rec, batches, events)
	defer cleanup()

	raw := marshalEvent(t, WebhookEvent{Provider: "ses", ProviderMessageID: "msg-1", EventType: "complained"})
	outcome := p.Process(context.Background(), raw)

	if outcome != OutcomeAck {
		t.Fatalf("expected OutcomeAck, got %v", outcome)
	}
	if rec.rec.Status != domain.RecipientComplained {
		t.Fatalf("expected recipient complained, got %v", rec.rec.Status)
	}
	if len(batches.deltas) != 1 || batches.deltas[0].Complained != 1 {
		t.Fatalf("expected one complained counter delta, got %+v", batches.deltas)
	}
	if stats := p.Stats(); stats["webhook_dropped_terminal"] != 0 {
		t.Fatalf("expected a post-delivery complaint not to be dropped as terminal, got %+v", stats)
	}
}

func TestProcessOpenedEventLogsWithoutStatusChange(t *testing.T) {
	rec := &fakeRecipientRepo{rec: &domain.Recipient{ID: "rec-1", BatchID: "batch-1", Status: domain.RecipientSent}}
	batches := &fakeBatchRepo{}
	events := &fakeEvents{}

	p, cleanup := newTestProcessor(t, rec, batches, events)
	defer cleanup()

	raw := marshalEvent(t, WebhookEvent{Provider: "ses", ProviderMessageID: "msg-1", EventType: "opened"})
	outcome := p.Process(context.Background(), raw)

	if outcome != OutcomeAck {
		t.Fatalf("expected OutcomeAck, got %v", outcome)
	}
	if rec.rec.Status != domain.RecipientSent {
		t.Fatalf("expected status unchanged by an opened event, got %v", rec.rec.Status)
	}
	if len(batches.deltas) != 0 {
		t.Fatalf("expected no counter write for an opened event, got %+v", batches.deltas)
	}
	if len(events.appended) != 1 {
		t.Fatalf("expected the open to still be logged as an event, got %+v", events.appended)
	}
}

func TestBackoffDelayCapsAtThirtySeconds(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{5, 30 * time.Second},
		{100, 30 * time.Second},
	}
	for _, c := range cases {
		if got := backoffDelay(c.attempt); got != c.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}
