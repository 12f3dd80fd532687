package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/sendfabric/internal/domain"
	"github.com/ignite/sendfabric/internal/repository"
)

// UserRepo implements repository.UserRepository against PostgreSQL.
type UserRepo struct{ db *sql.DB }

// NewUserRepo creates a Postgres-backed user repository.
func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{db: db} }

func (r *UserRepo) Get(ctx context.Context, id string) (*domain.User, error) {
	u := &domain.User{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, display_name, created_at, updated_at
		FROM sendfabric_users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.DisplayName, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *UserRepo) Create(ctx context.Context, u *domain.User) (string, error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sendfabric_users (id, display_name, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
	`, u.ID, u.DisplayName)
	if err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}
	return u.ID, nil
}

// APIKeyRepo implements repository.APIKeyRepository against PostgreSQL.
type APIKeyRepo struct{ db *sql.DB }

// NewAPIKeyRepo creates a Postgres-backed API key repository.
func NewAPIKeyRepo(db *sql.DB) *APIKeyRepo { return &APIKeyRepo{db: db} }

func (r *APIKeyRepo) GetByHash(ctx context.Context, hash string) (*domain.APIKey, error) {
	k := &domain.APIKey{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, key_hash, key_prefix, is_test, expires_at, created_at
		FROM sendfabric_api_keys
		WHERE key_hash = $1
	`, hash).Scan(&k.ID, &k.UserID, &k.Hash, &k.Prefix, &k.IsTest, &k.ExpiresAt, &k.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return k, nil
}

func (r *APIKeyRepo) Create(ctx context.Context, k *domain.APIKey) (string, error) {
	if k.ID == "" {
		k.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sendfabric_api_keys (id, user_id, key_hash, key_prefix, is_test, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, k.ID, k.UserID, k.Hash, k.Prefix, k.IsTest, k.ExpiresAt)
	if err != nil {
		return "", fmt.Errorf("create api key: %w", err)
	}
	return k.ID, nil
}
