package webhookingest

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// VerifyHMAC checks a provider's HMAC-SHA256 signature over
// "{timestamp}.{rawBody}", hex-encoded, using a constant-time compare so
// the check leaks no timing information about the secret.
func VerifyHMAC(secret, timestamp string, body []byte, signatureHex string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "."))
	mac.Write(body)
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}

// VerifyEd25519 checks Telnyx's Ed25519 signature over
// "{timestamp}|{rawBody}" against the provider's base64 public key.
func VerifyEd25519(publicKeyBase64, timestamp string, body []byte, signatureBase64 string) (bool, error) {
	pubKeyBytes, err := base64.StdEncoding.DecodeString(publicKeyBase64)
	if err != nil {
		return false, fmt.Errorf("decode public key: %w", err)
	}
	if len(pubKeyBytes) != ed25519.PublicKeySize {
		return false, fmt.Errorf("unexpected public key size %d", len(pubKeyBytes))
	}
	sig, err := base64.StdEncoding.DecodeString(signatureBase64)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}

	signed := append([]byte(timestamp+"|"), body...)
	return ed25519.Verify(ed25519.PublicKey(pubKeyBytes), signed, sig), nil
}
