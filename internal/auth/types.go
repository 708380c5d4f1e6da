// Package auth verifies bearer tokens issued by the external auth service.
package auth

import (
	"context"
)

// Claims are the verified token claims exposed to handlers.
type Claims struct {
	Subject string `json:"sub"`
	Email   string `json:"email,omitempty"`
	Role    string `json:"role,omitempty"`
}

type contextKey string

const claimsContextKey contextKey = "auth_claims"

// ClaimsFromContext retrieves the verified claims from the context.
func ClaimsFromContext(ctx context.Context) *Claims {
	if claims, ok := ctx.Value(claimsContextKey).(*Claims); ok {
		return claims
	}
	return nil
}

// ContextWithClaims returns a new context with the claims attached.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}
