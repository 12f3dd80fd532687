// Package auth issues and verifies API keys. Keys are generated with
// crypto/rand the same way the teacher's internal/auth.AuthManager
// generates OAuth state/session tokens, but only the SHA-256 hash is ever
// persisted — the raw key is returned once, at creation time, and never
// seen by the core again.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/sendfabric/internal/domain"
)

// ErrInvalidKey is returned when a raw API key fails hash lookup or has
// expired.
var ErrInvalidKey = errors.New("invalid or expired api key")

// GeneratedKey is the one-time, raw-key response returned from key creation.
type GeneratedKey struct {
	Raw  string
	Hash string
}

// GenerateKey creates a new API key with the given live/test prefix, e.g.
// domain.LiveKeyPrefix or domain.TestKeyPrefix, and returns both the raw
// value (to hand to the caller once) and its SHA-256 hash (to persist).
func GenerateKey(prefix string) (GeneratedKey, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return GeneratedKey{}, fmt.Errorf("generate api key: %w", err)
	}
	raw := prefix + hex.EncodeToString(b)
	return GeneratedKey{Raw: raw, Hash: HashKey(raw)}, nil
}

// HashKey computes the SHA-256 hash of a raw API key for lookup/storage.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// IsTestKey reports whether a raw key carries the test-key prefix, without
// needing a database round-trip — used by the API layer to set
// Batch.DryRun = true at creation time per §6.
func IsTestKey(raw string) bool {
	return len(raw) >= len(domain.TestKeyPrefix) && raw[:len(domain.TestKeyPrefix)] == domain.TestKeyPrefix
}

// Expired reports whether a resolved API key has passed its expiry.
func Expired(k *domain.APIKey, now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}
