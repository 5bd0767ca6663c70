package router

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ServiceTokenSigner чеканит короткоживущий EdDSA-токен для следующего хопа —
// режим "service" из конфигурации relay. Ключ вызывающего при этом
// дальше шлюза не уходит.
type ServiceTokenSigner struct {
	key ed25519.PrivateKey
	ttl time.Duration
}

func NewServiceTokenSigner(key ed25519.PrivateKey, ttl time.Duration) *ServiceTokenSigner {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &ServiceTokenSigner{key: key, ttl: ttl}
}

// Mint выпускает токен, связывающий конкретную пару consumer→provider.
func (s *ServiceTokenSigner) Mint(consumerID, providerID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    "nexus-gateway",
		Subject:   consumerID,
		Audience:  jwt.ClaimStrings{providerID},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		ID:        uuid.New().String(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("mint service token: %w", err)
	}
	return token, nil
}
