package service_test

import (
	"errors"
	"testing"
	"time"

	"github.com/jetsuite/jetsuite-api/internal/domain"
	"github.com/jetsuite/jetsuite-api/internal/service"

	"github.com/golang-jwt/jwt/v5"
)

const testJWTSecret = "super-secret-jwt-token-with-at-least-32-characters"

func signToken(t *testing.T, secret string, claims jwt.Claims, method jwt.SigningMethod) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func userClaims(sub string, aud string, exp time.Time) *service.SupabaseClaims {
	return &service.SupabaseClaims{
		Email: "Owner@Example.com",
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Audience:  jwt.ClaimStrings{aud},
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
}

func TestTokenVerifier_Valid(t *testing.T) {
	v := service.NewTokenVerifier(testJWTSecret)
	tok := signToken(t, testJWTSecret, userClaims("user-1", "authenticated", time.Now().Add(time.Hour)), jwt.SigningMethodHS256)

	user, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if user.ID != "user-1" || user.Email != "owner@example.com" {
		t.Errorf("unexpected user: %+v", user)
	}
}

func TestTokenVerifier_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"expired", signToken(t, testJWTSecret, userClaims("u", "authenticated", time.Now().Add(-time.Minute)), jwt.SigningMethodHS256)},
		{"wrong audience", signToken(t, testJWTSecret, userClaims("u", "anon", time.Now().Add(time.Hour)), jwt.SigningMethodHS256)},
		{"wrong secret", signToken(t, "another-secret-another-secret-another", userClaims("u", "authenticated", time.Now().Add(time.Hour)), jwt.SigningMethodHS256)},
		{"wrong alg", signToken(t, testJWTSecret, userClaims("u", "authenticated", time.Now().Add(time.Hour)), jwt.SigningMethodHS512)},
		{"no subject", signToken(t, testJWTSecret, userClaims("", "authenticated", time.Now().Add(time.Hour)), jwt.SigningMethodHS256)},
		{"garbage", "not-a-jwt"},
	}

	v := service.NewTokenVerifier(testJWTSecret)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			var unauth *domain.ErrUnauthorized
			if !errors.As(err, &unauth) {
				t.Errorf("expected ErrUnauthorized, got %v", err)
			}
		})
	}
}
