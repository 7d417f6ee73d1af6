// Package auth provides JWT generation and validation for interview sessions.
// This is a leaf package with no domain dependencies. The session orchestrator
// validates tokens; issuing them is the identity service's job. The generate
// functions here exist for that service, for operators, and for tests.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token types carried in the "token_type" claim. Only an access token grants
// entry to a live interview session; refresh tokens are explicitly rejected.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Default lifetimes, overridable per Verifier.
const (
	DefaultAccessExpiry  = 30 * time.Minute
	DefaultRefreshExpiry = 7 * 24 * time.Hour
)

var (
	// ErrEmptyToken is returned when the presented token string is empty.
	ErrEmptyToken = errors.New("token is empty")

	// ErrWrongTokenType is returned when a non-access token is presented
	// where an access token is required.
	ErrWrongTokenType = errors.New("wrong token type")
)

// Claims are the JWT claims for kaiwa tokens.
// Subject (RegisteredClaims.Subject) carries the user id.
type Claims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Verifier signs and validates HS256 tokens with a shared secret.
// The secret is injected at construction so a missing secret is a startup
// failure, not a per-request one.
type Verifier struct {
	secret        []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
}

// NewVerifier creates a Verifier. Returns an error if secret is empty.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("auth: JWT secret is empty")
	}
	return &Verifier{
		secret:        []byte(secret),
		accessExpiry:  DefaultAccessExpiry,
		refreshExpiry: DefaultRefreshExpiry,
	}, nil
}

// GenerateAccessToken creates a signed access token for userID.
func (v *Verifier) GenerateAccessToken(userID string) (string, error) {
	return v.generate(userID, TokenTypeAccess, v.accessExpiry)
}

// GenerateRefreshToken creates a signed refresh token for userID.
func (v *Verifier) GenerateRefreshToken(userID string) (string, error) {
	return v.generate(userID, TokenTypeRefresh, v.refreshExpiry)
}

func (v *Verifier) generate(userID, tokenType string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates signature, expiry, and not-before, and returns the claims.
// The signing method is pinned to HMAC to prevent algorithm substitution.
func (v *Verifier) ParseToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrEmptyToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims or signature")
	}
	return claims, nil
}

// ParseAccessToken is ParseToken plus a token-type check. Refresh tokens and
// untyped tokens fail with ErrWrongTokenType.
func (v *Verifier) ParseAccessToken(tokenString string) (*Claims, error) {
	claims, err := v.ParseToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeAccess {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrWrongTokenType, claims.TokenType, TokenTypeAccess)
	}
	return claims, nil
}
