// Package domain holds the core entities of the send pipeline: users,
// send-configs, batches, recipients, event records and the message index.
package domain

import "time"

// User owns send-configs, api-keys and batches.
type User struct {
	ID          string    `json:"id" db:"id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// APIKey is a bearer credential for a User. Only the SHA-256 hash of the
// raw key is persisted; Prefix is kept for display and for fast dry-run
// detection without re-deriving it from the (never-stored) raw key.
type APIKey struct {
	ID        string     `json:"id" db:"id"`
	UserID    string     `json:"user_id" db:"user_id"`
	Hash      string     `json:"-" db:"key_hash"`
	Prefix    string     `json:"prefix" db:"key_prefix"`
	IsTest    bool       `json:"is_test" db:"is_test"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// TestKeyPrefix marks API keys that force dry_run=true at batch creation (§6).
const TestKeyPrefix = "bsk_test_"

// LiveKeyPrefix marks ordinary production API keys.
const LiveKeyPrefix = "bsk_live_"
