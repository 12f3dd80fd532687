package webhookingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	dedupIDs []string
}

func (f *fakePublisher) Publish(ctx context.Context, subject, dedupID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	f.dedupIDs = append(f.dedupIDs, dedupID)
	return nil
}

func signGeneric(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestHandleGenericValidSignatureEnqueues(t *testing.T) {
	pub := &fakePublisher{}
	ing := NewIngestor(pub, ProviderSecrets{HMACSecrets: map[string]string{"generic": "shh"}})

	body := []byte(`{"providerMessageId":"msg-1","eventType":"delivered"}`)
	timestamp := "1700000000"
	sig := signGeneric("shh", timestamp, body)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/generic", strings.NewReader(string(body)))
	req.Header.Set("X-Sendfabric-Timestamp", timestamp)
	req.Header.Set("X-Sendfabric-Signature", sig)
	rec := httptest.NewRecorder()

	ing.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(pub.subjects) != 1 || pub.subjects[0] != "sendfabric.webhooks.generic.delivered" {
		t.Fatalf("unexpected publish: %+v", pub.subjects)
	}
	if ing.Stats()["total_enqueued"] != 1 {
		t.Fatalf("expected total_enqueued = 1, got %d", ing.Stats()["total_enqueued"])
	}
}

func TestHandleGenericBadSignatureRejected(t *testing.T) {
	pub := &fakePublisher{}
	ing := NewIngestor(pub, ProviderSecrets{HMACSecrets: map[string]string{"generic": "shh"}})

	body := []byte(`{"providerMessageId":"msg-1","eventType":"delivered"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/generic", strings.NewReader(string(body)))
	req.Header.Set("X-Sendfabric-Timestamp", "1700000000")
	req.Header.Set("X-Sendfabric-Signature", "deadbeef")
	rec := httptest.NewRecorder()

	ing.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(pub.subjects) != 0 {
		t.Fatalf("expected no publish on bad signature, got %+v", pub.subjects)
	}
	if ing.Stats()["total_rejected"] != 1 {
		t.Fatalf("expected total_rejected = 1, got %d", ing.Stats()["total_rejected"])
	}
}

func TestHandleSESSubscriptionConfirmationReturns200WithoutPublish(t *testing.T) {
	pub := &fakePublisher{}
	ing := NewIngestor(pub, ProviderSecrets{})

	confirmServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer confirmServer.Close()

	body := `{"Type":"SubscriptionConfirmation","SubscribeURL":"` + confirmServer.URL + `"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/ses", strings.NewReader(body))
	rec := httptest.NewRecorder()

	ing.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(pub.subjects) != 0 {
		t.Fatalf("expected no publish for a subscription confirmation, got %+v", pub.subjects)
	}
}

func TestHandleSESDeliveryNotificationEnqueues(t *testing.T) {
	pub := &fakePublisher{}
	ing := NewIngestor(pub, ProviderSecrets{})

	inner := `{"notificationType":"Delivery","mail":{"messageId":"ses-msg-1"}}`
	body := `{"Type":"Notification","Message":` + jsonQuote(inner) + `}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/ses", strings.NewReader(body))
	rec := httptest.NewRecorder()

	ing.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(pub.subjects) != 1 || pub.subjects[0] != "sendfabric.webhooks.ses.delivered" {
		t.Fatalf("unexpected publish: %+v", pub.subjects)
	}
}

// jsonQuote escapes s for embedding as a JSON string value in a hand-built test fixture.
func jsonQuote(s string) string {
	out := "\""
	for _, r := range s {
		if r == '"' {
			out += `\"`
		} else {
			out += string(r)
		}
	}
	return out + "\""
}
