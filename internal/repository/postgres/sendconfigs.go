package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/sendfabric/internal/domain"
	"github.com/ignite/sendfabric/internal/modules"
	"github.com/ignite/sendfabric/internal/repository"
)

// SendConfigRepo implements repository.SendConfigRepository against PostgreSQL.
type SendConfigRepo struct{ db *sql.DB }

// NewSendConfigRepo creates a Postgres-backed send-config repository.
func NewSendConfigRepo(db *sql.DB) *SendConfigRepo { return &SendConfigRepo{db: db} }

const sendConfigColumns = `
	id, user_id, name, module, provider, mode, config,
	requests_per_second, recipients_per_request, daily_limit,
	is_default, is_active, created_at, updated_at`

func scanSendConfig(row interface{ Scan(...interface{}) error }) (*domain.SendConfig, error) {
	c := &domain.SendConfig{}
	err := row.Scan(
		&c.ID, &c.UserID, &c.Name, &c.Module, &c.Provider, &c.Mode, &c.Config,
		&c.RateLimit.RequestsPerSecond, &c.RateLimit.RecipientsPerRequest, &c.RateLimit.DailyLimit,
		&c.IsDefault, &c.IsActive, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

func (r *SendConfigRepo) Get(ctx context.Context, userID, id string) (*domain.SendConfig, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sendConfigColumns+`
		FROM sendfabric_send_configs
		WHERE id = $1 AND user_id = $2
	`, id, userID)
	c, err := scanSendConfig(row)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get send config: %w", err)
	}
	return c, nil
}

func (r *SendConfigRepo) GetDefault(ctx context.Context, userID string, module domain.Module) (*domain.SendConfig, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sendConfigColumns+`
		FROM sendfabric_send_configs
		WHERE user_id = $1 AND module = $2 AND is_default = true AND is_active = true
		LIMIT 1
	`, userID, module)
	c, err := scanSendConfig(row)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get default send config: %w", err)
	}
	return c, nil
}

func (r *SendConfigRepo) List(ctx context.Context, userID string) ([]domain.SendConfig, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sendConfigColumns+`
		FROM sendfabric_send_configs
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list send configs: %w", err)
	}
	defer rows.Close()

	var out []domain.SendConfig
	for rows.Next() {
		c, err := scanSendConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan send config: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *SendConfigRepo) Create(ctx context.Context, c *domain.SendConfig) (string, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if !c.Mode.Valid() {
		c.Mode = domain.ModeBYOK
	}
	modules.ApplyProviderLimit(c)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sendfabric_send_configs
			(id, user_id, name, module, provider, mode, config,
			 requests_per_second, recipients_per_request, daily_limit,
			 is_default, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
	`, c.ID, c.UserID, c.Name, c.Module, c.Provider, c.Mode, c.Config,
		c.RateLimit.RequestsPerSecond, c.RateLimit.RecipientsPerRequest, c.RateLimit.DailyLimit,
		c.IsDefault, c.IsActive)
	if err != nil {
		return "", fmt.Errorf("create send config: %w", err)
	}
	return c.ID, nil
}
