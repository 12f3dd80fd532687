// Package modules implements the pluggable per-channel capability registry:
// a sealed {validateConfig, validatePayload, execute, executeBatch?} record
// per module type (email, sms, webhook, push), generalized from the
// teacher's internal/service/sending.Sender/BatchSender/SenderFactory
// interfaces and internal/worker/esp_distributor.go's provider selection.
package modules

import (
	"context"
	"time"

	"github.com/ignite/sendfabric/internal/domain"
)

// ValidationResult reports whether an opaque config or payload is acceptable
// for a given module, and why not if it isn't.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

func invalid(errs ...string) ValidationResult { return ValidationResult{Valid: false, Errors: errs} }
func valid() ValidationResult                 { return ValidationResult{Valid: true} }

// ExecResult is the outcome of sending a single payload through a module.
type ExecResult struct {
	Success           bool
	ProviderMessageID string
	StatusCode        int
	Error             string
	Latency           time.Duration
}

// ProviderConfig is the resolved, module-specific provider settings carried
// on a domain.SendConfig (the JSON opaque blob decoded by validateConfig).
type ProviderConfig struct {
	Provider string
	Settings map[string]interface{}
}

// Payload is the merged, template-substituted per-recipient send payload:
// batchPayload > sendConfig.config precedence has already been applied by
// the tenant worker before Execute is called. There is no separate
// legacy-field layer in that merge.
type Payload struct {
	Identifier string
	Fields     map[string]interface{}
}

// Module is a sealed per-channel capability set. Implementations must be
// safe for concurrent use, mirroring the teacher's Sender contract.
type Module interface {
	Type() domain.Module
	Name() string
	SupportsBatch() bool

	ValidateConfig(cfg ProviderConfig) ValidationResult
	ValidatePayload(p Payload) ValidationResult

	Execute(ctx context.Context, p Payload, cfg ProviderConfig) (ExecResult, error)
}

// BatchModule extends Module with a bulk send path, for providers capable
// of accepting multiple recipients in one call.
type BatchModule interface {
	Module
	ExecuteBatch(ctx context.Context, payloads []Payload, cfg ProviderConfig) ([]ExecResult, error)
	MaxBatchSize() int
}

// ProviderLimit caps the rate and batch size a user-configured SendConfig
// may request for a given provider.
type ProviderLimit struct {
	MaxBatchSize        int
	MaxRequestsPerSecond float64
}

// ProviderLimits is the static table consulted when clamping user-configured
// rate/batch sizes to what a provider can actually sustain.
var ProviderLimits = map[string]ProviderLimit{
	"ses":     {MaxBatchSize: 50, MaxRequestsPerSecond: 14},
	"telnyx":  {MaxBatchSize: 1, MaxRequestsPerSecond: 50},
	"resend":  {MaxBatchSize: 100, MaxRequestsPerSecond: 10},
	"generic": {MaxBatchSize: 1, MaxRequestsPerSecond: 25},
	"mock":    {MaxBatchSize: 500, MaxRequestsPerSecond: 1000},
}

// ApplyProviderLimit defaults an absent requests-per-second / batch size on
// cfg from ProviderLimits[cfg.Provider], and caps either value down to the
// provider's hard limit if the configured value exceeds it. A provider
// absent from the table is left untouched.
func ApplyProviderLimit(cfg *domain.SendConfig) {
	limit, ok := ProviderLimits[cfg.Provider]
	if !ok {
		return
	}
	if cfg.RateLimit.RequestsPerSecond <= 0 || cfg.RateLimit.RequestsPerSecond > limit.MaxRequestsPerSecond {
		cfg.RateLimit.RequestsPerSecond = limit.MaxRequestsPerSecond
	}
	if limit.MaxBatchSize > 0 && (cfg.RateLimit.RecipientsPerRequest <= 0 || cfg.RateLimit.RecipientsPerRequest > limit.MaxBatchSize) {
		cfg.RateLimit.RecipientsPerRequest = limit.MaxBatchSize
	}
}
