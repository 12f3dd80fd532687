package auth

import (
	"testing"
	"time"
)

func TestServiceTokenSignVerifyRoundTrip(t *testing.T) {
	m := NewServiceTokenManager("test-secret", time.Minute)

	token, err := m.Sign("orchestrator", "requeue", "batch-123")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	claims, err := m.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Component != "orchestrator" || claims.Action != "requeue" || claims.BatchID != "batch-123" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestServiceTokenVerifyRejectsWrongSecret(t *testing.T) {
	signer := NewServiceTokenManager("secret-a", time.Minute)
	verifier := NewServiceTokenManager("secret-b", time.Minute)

	token, err := signer.Sign("orchestrator", "requeue", "batch-1")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	if _, err := verifier.Verify(token); err == nil {
		t.Error("expected Verify to reject a token signed with a different secret")
	}
}

func TestServiceTokenVerifyRejectsExpired(t *testing.T) {
	m := NewServiceTokenManager("test-secret", time.Millisecond)

	token, err := m.Sign("orchestrator", "requeue", "batch-1")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	if _, err := m.Verify(token); err == nil {
		t.Error("expected Verify to reject an expired token")
	}
}

func TestNewServiceTokenManagerDefaultsDuration(t *testing.T) {
	m := NewServiceTokenManager("test-secret", 0)
	if m.tokenDuration != 5*time.Minute {
		t.Errorf("expected default duration of 5m, got %v", m.tokenDuration)
	}
}
