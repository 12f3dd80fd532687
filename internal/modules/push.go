package modules

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/sendfabric/internal/domain"
)

// PushModule is a mock-only push notification module: no pack example repo
// carries a real push provider SDK (APNs/FCM), so this module only
// implements the mock provider, enough to exercise the Module Registry's
// polymorphism contract end to end for a fourth channel kind.
type PushModule struct{}

// NewPushModule creates the push module.
func NewPushModule() *PushModule { return &PushModule{} }

func (m *PushModule) Type() domain.Module { return domain.ModulePush }
func (m *PushModule) Name() string        { return "push" }
func (m *PushModule) SupportsBatch() bool { return false }

func (m *PushModule) ValidateConfig(cfg ProviderConfig) ValidationResult {
	if cfg.Provider != "mock" {
		return invalid(fmt.Sprintf("unsupported push provider %q (only mock is implemented)", cfg.Provider))
	}
	return valid()
}

func (m *PushModule) ValidatePayload(p Payload) ValidationResult {
	if p.Identifier == "" {
		return invalid("identifier (device token) is required")
	}
	return valid()
}

func (m *PushModule) Execute(ctx context.Context, p Payload, cfg ProviderConfig) (ExecResult, error) {
	start := time.Now()
	return ExecResult{
		Success:           true,
		ProviderMessageID: "mock-" + uuid.New().String(),
		StatusCode:        200,
		Latency:           time.Since(start),
	}, nil
}
