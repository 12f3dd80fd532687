package modules

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/sendfabric/internal/domain"
	"github.com/ignite/sendfabric/internal/pkg/httpretry"
)

const telnyxAPIURL = "https://api.telnyx.com/v2/messages"

// SMSModule dispatches to Telnyx or a mock provider.
type SMSModule struct {
	http *httpretry.RetryClient
}

// NewSMSModule creates the SMS module.
func NewSMSModule() *SMSModule {
	return &SMSModule{http: httpretry.NewRetryClient(&http.Client{Timeout: 30 * time.Second}, 3)}
}

func (m *SMSModule) Type() domain.Module { return domain.ModuleSMS }
func (m *SMSModule) Name() string        { return "sms" }
func (m *SMSModule) SupportsBatch() bool { return false }

func (m *SMSModule) ValidateConfig(cfg ProviderConfig) ValidationResult {
	switch cfg.Provider {
	case "telnyx", "mock":
	default:
		return invalid(fmt.Sprintf("unsupported sms provider %q", cfg.Provider))
	}
	if cfg.Provider == "telnyx" {
		if _, ok := cfg.Settings["apiKey"]; !ok {
			return invalid("apiKey is required")
		}
		if _, ok := cfg.Settings["fromNumber"]; !ok {
			return invalid("fromNumber is required")
		}
	}
	return valid()
}

func (m *SMSModule) ValidatePayload(p Payload) ValidationResult {
	if p.Identifier == "" {
		return invalid("identifier (recipient phone number) is required")
	}
	if _, ok := p.Fields["text"]; !ok {
		return invalid("text is required")
	}
	return valid()
}

func (m *SMSModule) Execute(ctx context.Context, p Payload, cfg ProviderConfig) (ExecResult, error) {
	start := time.Now()

	if cfg.Provider == "mock" {
		return ExecResult{
			Success:           true,
			ProviderMessageID: "mock-" + uuid.New().String(),
			StatusCode:        200,
			Latency:           time.Since(start),
		}, nil
	}

	apiKey, _ := cfg.Settings["apiKey"].(string)
	from, _ := cfg.Settings["fromNumber"].(string)
	text, _ := p.Fields["text"].(string)

	id, status, err := m.sendTelnyx(ctx, apiKey, from, p.Identifier, text)
	if err != nil {
		return ExecResult{Success: false, StatusCode: status, Error: err.Error(), Latency: time.Since(start)}, nil
	}
	return ExecResult{Success: true, ProviderMessageID: id, StatusCode: status, Latency: time.Since(start)}, nil
}

type telnyxRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
}

type telnyxResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (m *SMSModule) sendTelnyx(ctx context.Context, apiKey, from, to, text string) (string, int, error) {
	body, err := json.Marshal(telnyxRequest{From: from, To: to, Text: text})
	if err != nil {
		return "", 0, fmt.Errorf("marshal telnyx request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, telnyxAPIURL, bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("build telnyx request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("telnyx request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", resp.StatusCode, fmt.Errorf("telnyx returned status %d", resp.StatusCode)
	}

	var out telnyxResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", resp.StatusCode, fmt.Errorf("decode telnyx response: %w", err)
	}
	return out.Data.ID, resp.StatusCode, nil
}
