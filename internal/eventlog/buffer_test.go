package eventlog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ignite/sendfabric/internal/domain"
)

type fakeInserter struct {
	mu     sync.Mutex
	events []domain.EventRecord
}

func (f *fakeInserter) BulkInsert(ctx context.Context, events []domain.EventRecord) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, events...)
	return len(events), nil
}

func (f *fakeInserter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func TestBufferFlushesOnMaxBatch(t *testing.T) {
	repo := &fakeInserter{}
	buf := New(repo, time.Hour, 3)

	buf.Append(domain.EventRecord{ID: "1"})
	buf.Append(domain.EventRecord{ID: "2"})
	if repo.count() != 0 {
		t.Fatalf("expected no flush before max batch, got %d", repo.count())
	}
	buf.Append(domain.EventRecord{ID: "3"})

	if repo.count() != 3 {
		t.Fatalf("expected flush at max batch, got %d", repo.count())
	}
}

func TestBufferFlushesOnStop(t *testing.T) {
	repo := &fakeInserter{}
	buf := New(repo, time.Hour, 1000)

	buf.Start(context.Background())
	buf.Append(domain.EventRecord{ID: "1"})
	buf.Stop()

	if repo.count() != 1 {
		t.Fatalf("expected final flush on Stop, got %d", repo.count())
	}
}
