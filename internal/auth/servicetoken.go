package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ServiceClaims identifies which internal component performed an action and
// why, signed into the recovery/audit trail a requeue leaves behind.
type ServiceClaims struct {
	Component string `json:"component"`
	Action    string `json:"action"`
	BatchID   string `json:"batchId"`
	jwt.RegisteredClaims
}

// ServiceTokenManager signs and verifies short-lived service-to-service
// bearer tokens, grounded on the pack's JWTManager
// (adred-codev-ws_poc/go-server/internal/auth/jwt.go) but carrying a
// component/action/batch claim set instead of a user identity, since the
// token here attests to an internal requeue decision, not a logged-in user.
type ServiceTokenManager struct {
	secretKey     []byte
	tokenDuration time.Duration
}

// NewServiceTokenManager creates a signer/verifier for a given shared secret.
func NewServiceTokenManager(secretKey string, tokenDuration time.Duration) *ServiceTokenManager {
	if tokenDuration <= 0 {
		tokenDuration = 5 * time.Minute
	}
	return &ServiceTokenManager{secretKey: []byte(secretKey), tokenDuration: tokenDuration}
}

// Sign issues a token asserting that component performed action against batchID.
func (m *ServiceTokenManager) Sign(component, action, batchID string) (string, error) {
	claims := &ServiceClaims{
		Component: component,
		Action:    action,
		BatchID:   batchID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "sendfabric-orchestrator",
			Subject:   batchID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// Verify validates a service token and returns its claims.
func (m *ServiceTokenManager) Verify(tokenString string) (*ServiceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ServiceClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid service token: %w", err)
	}

	claims, ok := token.Claims.(*ServiceClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid service token claims")
	}
	return claims, nil
}
