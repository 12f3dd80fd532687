package modules

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/sendfabric/internal/pkg/httpretry"
)

const resendAPIURL = "https://api.resend.com/emails"

// resendClient sends a single email through Resend's HTTP API, wrapped in
// the teacher's httpretry.RetryClient for 429/5xx resilience.
type resendClient struct {
	apiKey string
	http   *httpretry.RetryClient
}

func newResendClient(apiKey string) *resendClient {
	return &resendClient{
		apiKey: apiKey,
		http:   httpretry.NewRetryClient(&http.Client{Timeout: 30 * time.Second}, 3),
	}
}

type resendRequest struct {
	From    string `json:"from"`
	To      []string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

type resendResponse struct {
	ID string `json:"id"`
}

func (c *resendClient) send(ctx context.Context, from, to, subject, html string) (string, int, error) {
	body, err := json.Marshal(resendRequest{From: from, To: []string{to}, Subject: subject, HTML: html})
	if err != nil {
		return "", 0, fmt.Errorf("marshal resend request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, resendAPIURL, bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("build resend request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("resend request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", resp.StatusCode, fmt.Errorf("resend returned status %d", resp.StatusCode)
	}

	var out resendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", resp.StatusCode, fmt.Errorf("decode resend response: %w", err)
	}
	return out.ID, resp.StatusCode, nil
}
