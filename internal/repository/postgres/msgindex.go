package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/sendfabric/internal/domain"
	"github.com/ignite/sendfabric/internal/repository"
)

// MessageIndexRepo implements repository.MessageIndexRepository against PostgreSQL.
type MessageIndexRepo struct{ db *sql.DB }

// NewMessageIndexRepo creates a Postgres-backed message-index repository.
func NewMessageIndexRepo(db *sql.DB) *MessageIndexRepo { return &MessageIndexRepo{db: db} }

func (r *MessageIndexRepo) Create(ctx context.Context, idx *domain.MessageIndex) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sendfabric_message_index
			(provider_message_id, provider, batch_id, recipient_id, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (provider, provider_message_id) DO NOTHING
	`, idx.ProviderMessageID, idx.Provider, idx.BatchID, idx.RecipientID)
	if err != nil {
		return fmt.Errorf("create message index entry: %w", err)
	}
	return nil
}

func (r *MessageIndexRepo) GetByProviderMessageID(ctx context.Context, provider, providerMessageID string) (*domain.MessageIndex, error) {
	idx := &domain.MessageIndex{}
	err := r.db.QueryRowContext(ctx, `
		SELECT provider_message_id, provider, batch_id, recipient_id, created_at
		FROM sendfabric_message_index
		WHERE provider = $1 AND provider_message_id = $2
	`, provider, providerMessageID).Scan(
		&idx.ProviderMessageID, &idx.Provider, &idx.BatchID, &idx.RecipientID, &idx.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message index entry: %w", err)
	}
	return idx, nil
}
