// Package service provides the business logic layer (use cases).
package service

import (
	"fmt"
	"strings"

	"github.com/jetsuite/jetsuite-api/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// supabaseAudience is the "aud" claim Supabase puts on signed-in user tokens.
const supabaseAudience = "authenticated"

// SupabaseClaims are the claims of a Supabase access token.
type SupabaseClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// TokenVerifier validates Supabase-issued JWTs.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a verifier for the project's JWT secret.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify checks signature, expiry and audience and returns the user.
func (v *TokenVerifier) Verify(tokenString string) (*domain.User, error) {
	if len(v.secret) == 0 {
		return nil, &domain.ErrNotConfigured{Feature: "authentication"}
	}

	claims := &SupabaseClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(supabaseAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "invalid or expired token"}
	}
	if claims.Subject == "" {
		return nil, &domain.ErrUnauthorized{Message: "token has no subject"}
	}

	return &domain.User{
		ID:    claims.Subject,
		Email: strings.ToLower(claims.Email),
		Role:  claims.Role,
	}, nil
}
