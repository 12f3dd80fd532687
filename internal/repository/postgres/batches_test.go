package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ignite/sendfabric/internal/domain"
	"github.com/ignite/sendfabric/internal/repository"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return db, mock, func() { db.Close() }
}

func TestBatchRepo_TransitionStatus_Success(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewBatchRepo(db)

	mock.ExpectExec("UPDATE sendfabric_batches").
		WithArgs(domain.BatchProcessing, "batch-1", domain.BatchQueued).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.TransitionStatus(context.Background(), "batch-1", domain.BatchQueued, domain.BatchProcessing)
	if err != nil {
		t.Fatalf("TransitionStatus() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestBatchRepo_TransitionStatus_Conflict(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewBatchRepo(db)

	mock.ExpectExec("UPDATE sendfabric_batches").
		WithArgs(domain.BatchProcessing, "batch-1", domain.BatchQueued).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.TransitionStatus(context.Background(), "batch-1", domain.BatchQueued, domain.BatchProcessing)
	if err != repository.ErrConflict {
		t.Fatalf("TransitionStatus() error = %v, want ErrConflict", err)
	}
}

func TestBatchRepo_TransitionStatus_InvalidEdge(t *testing.T) {
	db, _, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewBatchRepo(db)

	err := repo.TransitionStatus(context.Background(), "batch-1", domain.BatchCompleted, domain.BatchProcessing)
	if err != repository.ErrInvalidTransition {
		t.Fatalf("TransitionStatus() error = %v, want ErrInvalidTransition", err)
	}
}

func TestBatchRepo_IncrementCounters(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewBatchRepo(db)

	mock.ExpectExec("UPDATE sendfabric_batches").
		WithArgs(1, 0, 0, 0, 0, 0, "batch-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.IncrementCounters(context.Background(), "batch-1", repository.BatchCounterDelta{Sent: 1})
	if err != nil {
		t.Fatalf("IncrementCounters() error = %v", err)
	}
}

func TestBatchRepo_DueForScheduling(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewBatchRepo(db)

	rows := sqlmock.NewRows([]string{
		"id", "user_id", "send_config_id", "module", "status", "dry_run", "payload", "scheduled_at",
		"total_recipients", "sent_count", "delivered_count", "bounced_count", "complained_count",
		"failed_count", "clamp_count", "started_at", "completed_at", "created_at", "updated_at",
	}).AddRow(
		"batch-1", "user-1", "cfg-1", domain.ModuleEmail, domain.BatchScheduled, false, []byte("{}"), nil,
		10, 0, 0, 0, 0, 0, 0, nil, nil, time.Now(), time.Now(),
	)

	mock.ExpectQuery("SELECT").WillReturnRows(rows)

	batches, err := repo.DueForScheduling(context.Background(), time.Now(), 10)
	if err != nil {
		t.Fatalf("DueForScheduling() error = %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}
	if batches[0].ID != "batch-1" {
		t.Errorf("got batch id %q, want batch-1", batches[0].ID)
	}
}
