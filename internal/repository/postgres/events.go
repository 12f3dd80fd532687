package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/sendfabric/internal/domain"
)

// EventRepo implements repository.EventRepository against PostgreSQL, using
// COPY for bulk inserts the same way the teacher's internal/worker/bulk_enqueuer.go
// bulk-loads campaign queue rows.
type EventRepo struct{ db *sql.DB }

// NewEventRepo creates a Postgres-backed event repository.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

func (r *EventRepo) BulkInsert(ctx context.Context, events []domain.EventRecord) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin bulk insert events: %w", err)
	}
	defer txn.Rollback()

	stmt, err := txn.Prepare(pq.CopyIn(
		"sendfabric_events",
		"id", "batch_id", "recipient_id", "type", "provider", "detail", "occurred_at",
	))
	if err != nil {
		return 0, fmt.Errorf("prepare copy: %w", err)
	}

	n := 0
	for _, ev := range events {
		id := ev.ID
		if id == "" {
			id = uuid.New().String()
		}
		occurredAt := ev.OccurredAt
		if occurredAt.IsZero() {
			occurredAt = time.Now()
		}
		if _, err := stmt.Exec(id, ev.BatchID, ev.RecipientID, ev.Type, ev.Provider, ev.Detail, occurredAt); err != nil {
			return n, fmt.Errorf("copy event: %w", err)
		}
		n++
	}

	if _, err := stmt.Exec(); err != nil {
		return 0, fmt.Errorf("flush copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return 0, fmt.Errorf("close copy statement: %w", err)
	}
	if err := txn.Commit(); err != nil {
		return 0, fmt.Errorf("commit bulk insert events: %w", err)
	}
	return n, nil
}
