package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/sendfabric/internal/domain"
	"github.com/ignite/sendfabric/internal/repository"
)

// RecipientRepo implements repository.RecipientRepository against PostgreSQL.
type RecipientRepo struct{ db *sql.DB }

// NewRecipientRepo creates a Postgres-backed recipient repository.
func NewRecipientRepo(db *sql.DB) *RecipientRepo { return &RecipientRepo{db: db} }

const recipientColumns = `
	id, batch_id, identifier, variables, status, provider_message_id, attempts, last_error,
	queued_at, sent_at, resolved_at, created_at, updated_at`

func scanRecipient(row interface{ Scan(...interface{}) error }) (*domain.Recipient, error) {
	rec := &domain.Recipient{}
	var rawVars []byte
	err := row.Scan(
		&rec.ID, &rec.BatchID, &rec.Identifier, &rawVars, &rec.Status, &rec.ProviderMessageID, &rec.Attempts, &rec.LastError,
		&rec.QueuedAt, &rec.SentAt, &rec.ResolvedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return rec, err
	}
	if len(rawVars) > 0 {
		if err := json.Unmarshal(rawVars, &rec.Variables); err != nil {
			return rec, fmt.Errorf("decode recipient variables: %w", err)
		}
	}
	return rec, nil
}

func (r *RecipientRepo) Get(ctx context.Context, id string) (*domain.Recipient, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recipientColumns+`
		FROM sendfabric_recipients
		WHERE id = $1
	`, id)
	rec, err := scanRecipient(row)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get recipient: %w", err)
	}
	return rec, nil
}

func (r *RecipientRepo) GetByProviderMessageID(ctx context.Context, provider, providerMessageID string) (*domain.Recipient, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT rec.`+recipientColumns+`
		FROM sendfabric_recipients rec
		JOIN sendfabric_message_index idx ON idx.recipient_id = rec.id
		WHERE idx.provider = $1 AND idx.provider_message_id = $2
	`, provider, providerMessageID)
	rec, err := scanRecipient(row)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get recipient by provider message id: %w", err)
	}
	return rec, nil
}

// BulkCreate enumerates a batch's recipients via COPY, the same pattern the
// teacher uses in internal/worker/bulk_enqueuer.go for inserting campaign
// queue rows at high throughput.
func (r *RecipientRepo) BulkCreate(ctx context.Context, batchID string, recipients []domain.Recipient) (int, error) {
	if len(recipients) == 0 {
		return 0, nil
	}

	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin bulk create recipients: %w", err)
	}
	defer txn.Rollback()

	stmt, err := txn.Prepare(pq.CopyIn(
		"sendfabric_recipients",
		"id", "batch_id", "identifier", "variables", "status", "created_at", "updated_at",
	))
	if err != nil {
		return 0, fmt.Errorf("prepare copy: %w", err)
	}

	n := 0
	for _, rec := range recipients {
		id := rec.ID
		if id == "" {
			id = uuid.New().String()
		}
		status := rec.Status
		if status == "" {
			status = domain.RecipientPending
		}
		var rawVars []byte
		if len(rec.Variables) > 0 {
			rawVars, err = json.Marshal(rec.Variables)
			if err != nil {
				return n, fmt.Errorf("encode recipient variables: %w", err)
			}
		}
		if _, err := stmt.Exec(id, batchID, rec.Identifier, rawVars, status, "now()", "now()"); err != nil {
			return n, fmt.Errorf("copy recipient: %w", err)
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
		return 0, fmt.Errorf("commit bulk create: %w", err)
	}
	return n, nil
}

// ClaimPending claims up to limit pending recipients for a batch using
// FOR UPDATE SKIP LOCKED, the concurrent-claiming pattern the teacher uses
// for its send queue (internal/worker/send_worker_batch.go), so multiple
// orchestrator processor replicas never hand out the same recipient twice.
func (r *RecipientRepo) ClaimPending(ctx context.Context, batchID string, limit int) ([]domain.Recipient, error) {
	rows, err := r.db.QueryContext(ctx, `
		WITH claimed AS (
			SELECT id
			FROM sendfabric_recipients
			WHERE batch_id = $1 AND status = $2
			ORDER BY created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE sendfabric_recipients rec
		SET status = $4, queued_at = NOW(), updated_at = NOW()
		FROM claimed c
		WHERE rec.id = c.id
		RETURNING rec.`+recipientColumns+`
	`, batchID, domain.RecipientPending, limit, domain.RecipientQueued)
	if err != nil {
		return nil, fmt.Errorf("claim pending recipients: %w", err)
	}
	defer rows.Close()

	var out []domain.Recipient
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed recipient: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// TransitionStatus conditionally updates a recipient's status, attempts,
// provider_message_id and last_error only if its current status still
// matches expectedCurrent.
func (r *RecipientRepo) TransitionStatus(ctx context.Context, id string, expectedCurrent, next domain.RecipientStatus, providerMessageID, lastErr *string) error {
	rec := &domain.Recipient{Status: expectedCurrent}
	if !rec.CanTransitionTo(next) {
		return repository.ErrInvalidTransition
	}

	var sentAtClause, resolvedAtClause string
	if next == domain.RecipientSent {
		sentAtClause = ", sent_at = NOW()"
	}
	if next.IsTerminal() {
		resolvedAtClause = ", resolved_at = NOW()"
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE sendfabric_recipients
		SET status = $1, attempts = attempts + 1,
		    provider_message_id = COALESCE($2, provider_message_id),
		    last_error = $3,
		    updated_at = NOW()`+sentAtClause+resolvedAtClause+`
		WHERE id = $4 AND status = $5
	`, next, providerMessageID, lastErr, id, expectedCurrent)
	if err != nil {
		return fmt.Errorf("transition recipient status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return repository.ErrConflict
	}
	return nil
}

func (r *RecipientRepo) CountByStatus(ctx context.Context, batchID string) (map[domain.RecipientStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM sendfabric_recipients
		WHERE batch_id = $1
		GROUP BY status
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("count recipients by status: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.RecipientStatus]int)
	for rows.Next() {
		var status domain.RecipientStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		out[status] = count
	}
	return out, rows.Err()
}
