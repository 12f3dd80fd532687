package tenantworker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/sendfabric/internal/domain"
	"github.com/ignite/sendfabric/internal/hotstate"
	"github.com/ignite/sendfabric/internal/modules"
	"github.com/ignite/sendfabric/internal/ratelimit"
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

func (f *fakeRecipientRepo) Get(ctx context.Context, id string) (*domain.Recipient, error) {
	return f.rec, nil
}

func (f *fakeRecipientRepo) TransitionStatus(ctx context.Context, id string, expectedCurrent, next domain.RecipientStatus, providerMessageID, lastErr *string) error {
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

type fakeMsgIndexRepo struct {
	repository.MessageIndexRepository
	created []domain.MessageIndex
}

func (f *fakeMsgIndexRepo) Create(ctx context.Context, idx *domain.MessageIndex) error {
	f.created = append(f.created, *idx)
	return nil
}

type fakeEvents struct {
	appended []domain.EventRecord
}

func (f *fakeEvents) Append(ev domain.EventRecord) { f.appended = append(f.appended, ev) }

type mockModule struct {
	result modules.ExecResult
	gotFields map[string]interface{}
}

func (m *mockModule) Type() domain.Module    { return domain.ModuleEmail }
func (m *mockModule) Name() string           { return "mock" }
func (m *mockModule) SupportsBatch() bool    { return false }
func (m *mockModule) ValidateConfig(modules.ProviderConfig) modules.ValidationResult { return modules.ValidationResult{Valid: true} }
func (m *mockModule) ValidatePayload(modules.Payload) modules.ValidationResult       { return modules.ValidationResult{Valid: true} }
func (m *mockModule) Execute(ctx context.Context, p modules.Payload, cfg modules.ProviderConfig) (modules.ExecResult, error) {
	m.gotFields = p.Fields
	return m.result, nil
}

func newTestProcessor(t *testing.T, rec *fakeRecipientRepo, batches *fakeBatchRepo, msgindex *fakeMsgIndexRepo, events *fakeEvents, mod *mockModule) (*Processor, func()) {
	client, cleanup := setupTestRedis(t)
	hs := hotstate.New(client, time.Minute)
	rates := ratelimit.New(client, 10*time.Second)
	registry := modules.NewRegistry()
	registry.Register(mod)
	p := NewProcessor(hs, rates, registry, rec, batches, msgindex, events)
	return p, cleanup
}

func TestProcessSendsSuccessfully(t *testing.T) {
	rec := &fakeRecipientRepo{rec: &domain.Recipient{
		ID: "rec-1", BatchID: "batch-1", Identifier: "user@example.com",
		Status: domain.RecipientQueued, Variables: map[string]string{"name": "Ada"},
	}}
	batches := &fakeBatchRepo{}
	msgindex := &fakeMsgIndexRepo{}
	events := &fakeEvents{}
	mod := &mockModule{result: modules.ExecResult{Success: true, ProviderMessageID: "prov-1"}}

	p, cleanup := newTestProcessor(t, rec, batches, msgindex, events, mod)
	defer cleanup()

	batch := &domain.Batch{ID: "batch-1", Module: domain.ModuleEmail, Payload: []byte(`{"subject":"Hi {{name}}"}`)}
	cfg := &domain.SendConfig{ID: "cfg-1", Module: domain.ModuleEmail, Provider: "mock"}

	outcome := p.Process(context.Background(), Job{BatchID: "batch-1", RecipientID: "rec-1"}, batch, cfg)
	if outcome != OutcomeAck {
		t.Fatalf("expected OutcomeAck, got %v", outcome)
	}
	if rec.rec.Status != domain.RecipientSent {
		t.Fatalf("expected recipient status sent, got %v", rec.rec.Status)
	}
	if len(batches.deltas) != 1 || batches.deltas[0].Sent != 1 {
		t.Fatalf("expected one sent counter delta, got %+v", batches.deltas)
	}
	if len(msgindex.created) != 1 || msgindex.created[0].ProviderMessageID != "prov-1" {
		t.Fatalf("expected message index write, got %+v", msgindex.created)
	}
	if mod.gotFields["subject"] != "Hi Ada" {
		t.Fatalf("expected template substitution, got %+v", mod.gotFields)
	}
}

func TestProcessSkipsAlreadyTerminalRecipient(t *testing.T) {
	rec := &fakeRecipientRepo{rec: &domain.Recipient{ID: "rec-1", Status: domain.RecipientDelivered}}
	batches := &fakeBatchRepo{}
	msgindex := &fakeMsgIndexRepo{}
	events := &fakeEvents{}
	mod := &mockModule{}

	p, cleanup := newTestProcessor(t, rec, batches, msgindex, events, mod)
	defer cleanup()

	batch := &domain.Batch{ID: "batch-1", Module: domain.ModuleEmail}
	cfg := &domain.SendConfig{ID: "cfg-1", Module: domain.ModuleEmail, Provider: "mock"}

	outcome := p.Process(context.Background(), Job{BatchID: "batch-1", RecipientID: "rec-1"}, batch, cfg)
	if outcome != OutcomeAck {
		t.Fatalf("expected OutcomeAck for terminal recipient, got %v", outcome)
	}
	if len(batches.deltas) != 0 {
		t.Fatalf("expected no counter writes for a terminal recipient, got %+v", batches.deltas)
	}
}

func TestProcessRateLimitNakDoesNotPoisonIdempotencyKey(t *testing.T) {
	rec := &fakeRecipientRepo{rec: &domain.Recipient{ID: "rec-1", BatchID: "batch-1", Status: domain.RecipientQueued}}
	batches := &fakeBatchRepo{}
	msgindex := &fakeMsgIndexRepo{}
	events := &fakeEvents{}
	mod := &mockModule{result: modules.ExecResult{Success: true, ProviderMessageID: "prov-1"}}

	p, cleanup := newTestProcessor(t, rec, batches, msgindex, events, mod)
	defer cleanup()

	batch := &domain.Batch{ID: "batch-1", Module: domain.ModuleEmail}
	cfg := &domain.SendConfig{ID: "cfg-1", Module: domain.ModuleEmail, Provider: "mock",
		RateLimit: domain.RateLimit{RequestsPerSecond: 10, DailyLimit: 1}}

	// Exhaust today's daily allowance directly so the next Acquire inside
	// Process is denied deterministically, without waiting on refill.
	configBucket := ratelimit.ConfigBucketName(cfg.ID)
	if _, err := p.rates.Acquire(context.Background(), configBucket,
		ratelimit.Bucket{RequestsPerSecond: 10, DailyLimit: 1}, 1, time.Now()); err != nil {
		t.Fatalf("failed to pre-exhaust daily bucket: %v", err)
	}

	outcome := p.Process(context.Background(), Job{BatchID: "batch-1", RecipientID: "rec-1"}, batch, cfg)
	if outcome != OutcomeNak {
		t.Fatalf("expected OutcomeNak when the config bucket rejects, got %v", outcome)
	}

	cfg.RateLimit = domain.RateLimit{RequestsPerSecond: 10, DailyLimit: 1000}
	outcome = p.Process(context.Background(), Job{BatchID: "batch-1", RecipientID: "rec-1"}, batch, cfg)
	if outcome != OutcomeAck {
		t.Fatalf("expected OutcomeAck once redelivered with capacity, got %v", outcome)
	}
	if rec.rec.Status != domain.RecipientSent {
		t.Fatalf("expected redelivered job to actually send, got %v", rec.rec.Status)
	}
}

func TestProcessDryRunBypassesModule(t *testing.T) {
	rec := &fakeRecipientRepo{rec: &domain.Recipient{ID: "rec-1", BatchID: "batch-1", Status: domain.RecipientQueued}}
	batches := &fakeBatchRepo{}
	msgindex := &fakeMsgIndexRepo{}
	events := &fakeEvents{}
	mod := &mockModule{result: modules.ExecResult{Success: false}} // would fail if actually invoked

	p, cleanup := newTestProcessor(t, rec, batches, msgindex, events, mod)
	defer cleanup()

	batch := &domain.Batch{ID: "batch-1", Module: domain.ModuleEmail, DryRun: true}
	cfg := &domain.SendConfig{ID: "cfg-1", Module: domain.ModuleEmail, Provider: "mock"}

	outcome := p.Process(context.Background(), Job{BatchID: "batch-1", RecipientID: "rec-1"}, batch, cfg)
	if outcome != OutcomeAck {
		t.Fatalf("expected OutcomeAck for dry run, got %v", outcome)
	}
	if rec.rec.Status != domain.RecipientSent {
		t.Fatalf("expected dry run to mark recipient sent, got %v", rec.rec.Status)
	}
	if mod.gotFields != nil {
		t.Fatalf("expected module Execute to be skipped on dry run")
	}
}
