package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/sendfabric/internal/domain"
	"github.com/ignite/sendfabric/internal/repository"
)

// BatchRepo implements repository.BatchRepository against PostgreSQL.
type BatchRepo struct{ db *sql.DB }

// NewBatchRepo creates a Postgres-backed batch repository.
func NewBatchRepo(db *sql.DB) *BatchRepo { return &BatchRepo{db: db} }

const batchColumns = `
	id, user_id, send_config_id, module, status, dry_run, payload, scheduled_at,
	total_recipients, sent_count, delivered_count, bounced_count, complained_count,
	failed_count, clamp_count, started_at, completed_at, created_at, updated_at`

func scanBatch(row interface{ Scan(...interface{}) error }) (*domain.Batch, error) {
	b := &domain.Batch{}
	err := row.Scan(
		&b.ID, &b.UserID, &b.SendConfigID, &b.Module, &b.Status, &b.DryRun, &b.Payload, &b.ScheduledAt,
		&b.TotalRecipients, &b.SentCount, &b.DeliveredCount, &b.BouncedCount, &b.ComplainedCount,
		&b.FailedCount, &b.ClampCount, &b.StartedAt, &b.CompletedAt, &b.CreatedAt, &b.UpdatedAt,
	)
	return b, err
}

func (r *BatchRepo) Get(ctx context.Context, userID, id string) (*domain.Batch, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+batchColumns+`
		FROM sendfabric_batches
		WHERE id = $1 AND user_id = $2
	`, id, userID)
	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return b, nil
}

func (r *BatchRepo) List(ctx context.Context, userID string, f repository.BatchListFilter) ([]domain.Batch, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	countQ := `SELECT COUNT(*) FROM sendfabric_batches WHERE user_id = $1`
	countArgs := []interface{}{userID}
	if f.Status != "" {
		countQ += " AND status = $2"
		countArgs = append(countArgs, f.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQ, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count batches: %w", err)
	}

	q := `SELECT ` + batchColumns + ` FROM sendfabric_batches WHERE user_id = $1`
	args := []interface{}{userID}
	idx := 2
	if f.Status != "" {
		q += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var out []domain.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan batch: %w", err)
		}
		out = append(out, *b)
	}
	return out, total, rows.Err()
}

func (r *BatchRepo) Create(ctx context.Context, b *domain.Batch) (string, error) {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.Status == "" {
		b.Status = domain.BatchDraft
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sendfabric_batches
			(id, user_id, send_config_id, module, status, dry_run, payload, scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	`, b.ID, b.UserID, b.SendConfigID, b.Module, b.Status, b.DryRun, b.Payload, b.ScheduledAt)
	if err != nil {
		return "", fmt.Errorf("create batch: %w", err)
	}
	return b.ID, nil
}

// TransitionStatus is a conditional UPDATE: it only succeeds if the row's
// current status still matches expectedCurrent, preventing two racing
// callers (e.g. a worker completing a batch while the recovery scan also
// touches it) from clobbering each other's transition.
func (r *BatchRepo) TransitionStatus(ctx context.Context, id string, expectedCurrent, next domain.BatchStatus) error {
	b := &domain.Batch{Status: expectedCurrent}
	if !b.CanTransitionTo(next) {
		return repository.ErrInvalidTransition
	}

	var startedAtClause string
	if next == domain.BatchProcessing {
		startedAtClause = ", started_at = COALESCE(started_at, NOW())"
	}
	if next.IsTerminal() {
		startedAtClause += ", completed_at = NOW()"
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE sendfabric_batches
		SET status = $1, updated_at = NOW()`+startedAtClause+`
		WHERE id = $2 AND status = $3
	`, next, id, expectedCurrent)
	if err != nil {
		return fmt.Errorf("transition batch status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return repository.ErrConflict
	}
	return nil
}

// ClaimNextQueued uses the same FOR UPDATE SKIP LOCKED claiming pattern as
// RecipientRepo.ClaimPending so multiple orchestrator replicas never race to
// process the same batch.
func (r *BatchRepo) ClaimNextQueued(ctx context.Context) (*domain.Batch, error) {
	row := r.db.QueryRowContext(ctx, `
		WITH claimed AS (
			SELECT id
			FROM sendfabric_batches
			WHERE status = $1
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE sendfabric_batches b
		SET status = $2, started_at = COALESCE(started_at, NOW()), updated_at = NOW()
		FROM claimed c
		WHERE b.id = c.id
		RETURNING b.`+batchColumns+`
	`, domain.BatchQueued, domain.BatchProcessing)

	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("claim next queued batch: %w", err)
	}
	return b, nil
}

func (r *BatchRepo) DueForScheduling(ctx context.Context, now time.Time, limit int) ([]domain.Batch, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+batchColumns+`
		FROM sendfabric_batches
		WHERE status = $1 AND scheduled_at <= $2
		ORDER BY scheduled_at ASC
		LIMIT $3
	`, domain.BatchScheduled, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due batches: %w", err)
	}
	defer rows.Close()

	var out []domain.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (r *BatchRepo) StuckProcessing(ctx context.Context, threshold time.Time, limit int) ([]domain.Batch, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+batchColumns+`
		FROM sendfabric_batches
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`, domain.BatchProcessing, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("query stuck batches: %w", err)
	}
	defer rows.Close()

	var out []domain.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// IncrementCounters bumps a batch's aggregate counters, clamping each one
// at total_recipients via LEAST so a duplicate webhook delivery (the dedup
// cache is best-effort, not a hard guarantee) can never push a counter past
// the recipient count, per spec §4.H step 4. Any clamp that actually bites
// also bumps clamp_count, the Open Question #2 counter.
func (r *BatchRepo) IncrementCounters(ctx context.Context, id string, delta repository.BatchCounterDelta) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sendfabric_batches
		SET sent_count       = LEAST(sent_count + $1, total_recipients),
		    delivered_count  = LEAST(delivered_count + $2, total_recipients),
		    bounced_count    = LEAST(bounced_count + $3, total_recipients),
		    complained_count = LEAST(complained_count + $4, total_recipients),
		    failed_count     = LEAST(failed_count + $5, total_recipients),
		    clamp_count      = clamp_count + $6
		        + GREATEST(sent_count + $1 - LEAST(sent_count + $1, total_recipients), 0)
		        + GREATEST(delivered_count + $2 - LEAST(delivered_count + $2, total_recipients), 0)
		        + GREATEST(bounced_count + $3 - LEAST(bounced_count + $3, total_recipients), 0)
		        + GREATEST(complained_count + $4 - LEAST(complained_count + $4, total_recipients), 0)
		        + GREATEST(failed_count + $5 - LEAST(failed_count + $5, total_recipients), 0),
		    status = CASE
		        WHEN status = 'processing' AND LEAST(sent_count + $1, total_recipients) + LEAST(failed_count + $5, total_recipients) >= total_recipients
		        THEN 'completed' ELSE status END,
		    completed_at = CASE
		        WHEN status = 'processing' AND LEAST(sent_count + $1, total_recipients) + LEAST(failed_count + $5, total_recipients) >= total_recipients
		        THEN NOW() ELSE completed_at END,
		    updated_at = NOW()
		WHERE id = $7
	`, delta.Sent, delta.Delivered, delta.Bounced, delta.Complained, delta.Failed, delta.Clamped, id)
	if err != nil {
		return fmt.Errorf("increment batch counters: %w", err)
	}
	return nil
}
