// Package auth provides account registration, login, and request
// authentication for the HTTP and WebSocket layers.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tritex/internal/apperr"
)

// UserClaims is the identity carried inside an access token.
type UserClaims struct {
	UserID   string `json:"userId"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Claims combines identity with the registered JWT claims.
type Claims struct {
	UserClaims
	jwt.RegisteredClaims
}

// JWTManager signs and validates access tokens.
type JWTManager struct {
	secret        []byte
	tokenDuration time.Duration
}

// NewJWTManager creates a manager with the given signing secret.
func NewJWTManager(secret string, tokenDuration time.Duration) *JWTManager {
	return &JWTManager{
		secret:        []byte(secret),
		tokenDuration: tokenDuration,
	}
}

// Generate issues a signed HS256 access token.
func (m *JWTManager) Generate(claims UserClaims) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserClaims: claims,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenDuration)),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "tritex",
		},
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate parses a token and returns its identity claims.
func (m *JWTManager) Validate(tokenString string) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindAuthRequired, err, "invalid token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperr.New(apperr.KindAuthRequired, "invalid token")
	}
	return &claims.UserClaims, nil
}

// TokenDuration returns the configured access-token lifetime.
func (m *JWTManager) TokenDuration() time.Duration {
	return m.tokenDuration
}
