package domain

import "time"

// Module identifies a delivery channel.
type Module string

const (
	ModuleEmail   Module = "email"
	ModuleSMS     Module = "sms"
	ModuleWebhook Module = "webhook"
	ModulePush    Module = "push"
)

// Valid reports whether m is a recognized channel module.
func (m Module) Valid() bool {
	switch m {
	case ModuleEmail, ModuleSMS, ModuleWebhook, ModulePush:
		return true
	}
	return false
}

// RateLimit bounds how fast a SendConfig may push traffic through its
// module. RequestsPerSecond and DailyLimit are both optional (zero means
// unbounded) so a config can cap one axis without the other.
type RateLimit struct {
	RequestsPerSecond    float64 `json:"requests_per_second" db:"requests_per_second"`
	RecipientsPerRequest int     `json:"recipients_per_request" db:"recipients_per_request"`
	DailyLimit           int64   `json:"daily_limit" db:"daily_limit"`
}

// SendConfigMode selects whose provider credentials a SendConfig sends
// through, which in turn decides whether it contends for the shared
// managed:{provider} rate-limit bucket (see internal/ratelimit).
type SendConfigMode string

const (
	// ModeManaged sends through the platform's own provider credentials,
	// shared with every other managed-mode SendConfig for that provider.
	ModeManaged SendConfigMode = "managed"
	// ModeBYOK sends through the tenant's own provider credentials,
	// contending only with the module's system-wide bucket and its own
	// per-config bucket (no shared managed-provider bucket).
	ModeBYOK SendConfigMode = "byok"
)

// Valid reports whether m is a recognized send config mode.
func (m SendConfigMode) Valid() bool {
	switch m {
	case ModeManaged, ModeBYOK:
		return true
	}
	return false
}

// SendConfig is a named, reusable provider configuration a User attaches
// batches to: which module to use, its provider credentials reference,
// and the rate limit to enforce against it.
type SendConfig struct {
	ID        string         `json:"id" db:"id"`
	UserID    string         `json:"user_id" db:"user_id"`
	Name      string         `json:"name" db:"name"`
	Module    Module         `json:"module" db:"module"`
	Provider  string         `json:"provider" db:"provider"` // e.g. "ses", "telnyx", "resend", "generic"
	Mode      SendConfigMode `json:"mode" db:"mode"`         // managed: shared platform credentials; byok: tenant's own
	Config    []byte         `json:"config" db:"config"`     // opaque per-provider settings (fromEmail, signingSecret, ...)
	RateLimit RateLimit      `json:"rate_limit" db:"-"`
	IsDefault bool           `json:"is_default" db:"is_default"`
	IsActive  bool           `json:"is_active" db:"is_active"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}
