package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = 24 * time.Hour

var (
	ErrMissingSecret = errors.New("JWT secret is required")
	ErrInvalidToken  = errors.New("invalid token")
)

// JWTClaims represents the claims in our JWT token
type JWTClaims struct {
	ClientID string `json:"client_id"`
	Role     string `json:"role"` // "client"
	jwt.RegisteredClaims
}

// Signer issues and validates HS256 relay tokens.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner creates a signer. ttl defaults to 24h.
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// GenerateClientToken generates a JWT token for a relay client
func (s *Signer) GenerateClientToken(clientID string) (string, error) {
	now := s.now()
	claims := &JWTClaims{
		ClientID: clientID,
		Role:     "client",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken validates a JWT token and returns the claims
func (s *Signer) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid && claims.ClientID != "" {
		return claims, nil
	}

	return nil, ErrInvalidToken
}
