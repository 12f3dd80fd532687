package modules

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/sendfabric/internal/domain"
	"github.com/ignite/sendfabric/internal/pkg/httpretry"
)

// WebhookModule delivers a payload by POSTing it to a user-configured URL,
// signing the body with HMAC-SHA256 the same way the teacher signs its own
// outbound SNS/webhook callbacks, so recipients can verify authenticity.
type WebhookModule struct {
	http *httpretry.RetryClient
}

// NewWebhookModule creates the outbound webhook module.
func NewWebhookModule() *WebhookModule {
	return &WebhookModule{http: httpretry.NewRetryClient(&http.Client{Timeout: 30 * time.Second}, 3)}
}

func (m *WebhookModule) Type() domain.Module { return domain.ModuleWebhook }
func (m *WebhookModule) Name() string        { return "webhook" }
func (m *WebhookModule) SupportsBatch() bool { return false }

func (m *WebhookModule) ValidateConfig(cfg ProviderConfig) ValidationResult {
	if cfg.Provider != "generic" && cfg.Provider != "mock" {
		return invalid(fmt.Sprintf("unsupported webhook provider %q", cfg.Provider))
	}
	return valid()
}

func (m *WebhookModule) ValidatePayload(p Payload) ValidationResult {
	if p.Identifier == "" {
		return invalid("identifier (destination URL) is required")
	}
	return valid()
}

func (m *WebhookModule) Execute(ctx context.Context, p Payload, cfg ProviderConfig) (ExecResult, error) {
	start := time.Now()

	if cfg.Provider == "mock" {
		return ExecResult{
			Success:           true,
			ProviderMessageID: "mock-" + uuid.New().String(),
			StatusCode:        200,
			Latency:           time.Since(start),
		}, nil
	}

	body, err := json.Marshal(p.Fields)
	if err != nil {
		return ExecResult{}, fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Identifier, bytes.NewReader(body))
	if err != nil {
		return ExecResult{}, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if secret, ok := cfg.Settings["signingSecret"].(string); ok && secret != "" {
		req.Header.Set("X-Sendfabric-Signature", signHMAC(secret, body))
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return ExecResult{Success: false, Error: err.Error(), Latency: time.Since(start)}, nil
	}
	defer resp.Body.Close()

	requestID := uuid.New().String()
	if resp.StatusCode >= 300 {
		return ExecResult{
			Success:    false,
			StatusCode: resp.StatusCode,
			Error:      fmt.Sprintf("webhook endpoint returned status %d", resp.StatusCode),
			Latency:    time.Since(start),
		}, nil
	}
	return ExecResult{
		Success:           true,
		ProviderMessageID: requestID,
		StatusCode:        resp.StatusCode,
		Latency:           time.Since(start),
	}, nil
}

func signHMAC(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
