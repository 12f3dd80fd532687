package webhookingest

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"
)

func TestVerifyHMACRoundTrip(t *testing.T) {
	secret := "shh"
	body := []byte(`{"event":"delivered"}`)
	timestamp := "1700000000"

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "."))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	if !VerifyHMAC(secret, timestamp, body, sig) {
		t.Fatalf("expected valid signature to verify")
	}
	if VerifyHMAC(secret, timestamp, body, "deadbeef") {
		t.Fatalf("expected tampered signature to fail")
	}
	if VerifyHMAC("wrong-secret", timestamp, body, sig) {
		t.Fatalf("expected wrong secret to fail")
	}
}

func TestVerifyEd25519RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	body := []byte(`{"data":{"event_type":"message.sent"}}`)
	timestamp := "1700000000"
	signed := append([]byte(timestamp+"|"), body...)
	sig := ed25519.Sign(priv, signed)

	pubB64 := base64.StdEncoding.EncodeToString(pub)
	sigB64 := base64.StdEncoding.EncodeToString(sig)

	ok, err := VerifyEd25519(pubB64, timestamp, body, sigB64)
	if err != nil {
		t.Fatalf("VerifyEd25519: %v", err)
	}
	if !ok {
		t.Fatalf("expected valid Ed25519 signature to verify")
	}

	ok, err = VerifyEd25519(pubB64, timestamp, []byte("tampered"), sigB64)
	if err != nil {
		t.Fatalf("VerifyEd25519: %v", err)
	}
	if ok {
		t.Fatalf("expected tampered body to fail verification")
	}
}
