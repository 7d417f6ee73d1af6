package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-not-for-production"

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}
	return v
}

func TestNewVerifier_EmptySecret_ReturnsError(t *testing.T) {
	t.Parallel()

	if _, err := NewVerifier(""); err == nil {
		t.Error("expected error for empty secret, got nil")
	}
}

func TestParseAccessToken_RoundTrip(t *testing.T) {
	t.Parallel()

	v := newTestVerifier(t)
	token, err := v.GenerateAccessToken("user-123")
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	claims, err := v.ParseAccessToken(token)
	if err != nil {
		t.Fatalf("ParseAccessToken failed: %v", err)
	}
	if claims.Subject != "user-123" {
		t.Errorf("subject = %q, want %q", claims.Subject, "user-123")
	}
	if claims.TokenType != TokenTypeAccess {
		t.Errorf("token_type = %q, want %q", claims.TokenType, TokenTypeAccess)
	}
}

func TestParseAccessToken_RefreshToken_Rejected(t *testing.T) {
	t.Parallel()

	v := newTestVerifier(t)
	token, err := v.GenerateRefreshToken("user-123")
	if err != nil {
		t.Fatalf("GenerateRefreshToken failed: %v", err)
	}

	_, err = v.ParseAccessToken(token)
	if !errors.Is(err, ErrWrongTokenType) {
		t.Errorf("expected ErrWrongTokenType, got %v", err)
	}
}

func TestParseToken_EmptyString(t *testing.T) {
	t.Parallel()

	v := newTestVerifier(t)
	if _, err := v.ParseToken(""); !errors.Is(err, ErrEmptyToken) {
		t.Errorf("expected ErrEmptyToken, got %v", err)
	}
}

func TestParseToken_WrongSecret_Rejected(t *testing.T) {
	t.Parallel()

	v := newTestVerifier(t)
	token, err := v.GenerateAccessToken("user-123")
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	other, err := NewVerifier("a-different-secret")
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}
	if _, err := other.ParseToken(token); err == nil {
		t.Error("expected error for wrong secret, got nil")
	}
}

func TestParseToken_Expired_Rejected(t *testing.T) {
	t.Parallel()

	v := newTestVerifier(t)
	claims := &Claims{
		TokenType: TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	if _, err := v.ParseToken(signed); err == nil {
		t.Error("expected error for expired token, got nil")
	}
}

func TestParseToken_NoneAlgorithm_Rejected(t *testing.T) {
	t.Parallel()

	v := newTestVerifier(t)
	token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		TokenType:        TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-123"},
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	if _, err := v.ParseToken(signed); err == nil {
		t.Error("expected error for alg=none token, got nil")
	}
	if !strings.Contains(signed, ".") {
		t.Fatal("sanity: token should contain segments")
	}
}
