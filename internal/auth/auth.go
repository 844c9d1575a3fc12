// Package auth validates the HS256 bearer tokens presented to the read API and
// the WebSocket gateway.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrForbidden    = errors.New("token subject does not match user")
)

// AuthManager validates JWTs signed with a shared secret
type AuthManager struct {
	jwtSecret []byte
}

// NewAuthManager creates a manager. An empty secret disables authentication.
func NewAuthManager(jwtSecret string) *AuthManager {
	return &AuthManager{
		jwtSecret: []byte(jwtSecret),
	}
}

// Enabled reports whether tokens are checked at all
func (m *AuthManager) Enabled() bool {
	return len(m.jwtSecret) > 0
}

// ValidateToken checks the signature and expiry and returns the user ID from
// the user_id claim, falling back to sub
func (m *AuthManager) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}

	if userID, ok := claims["user_id"].(string); ok && userID != "" {
		return userID, nil
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	return "", fmt.Errorf("%w: user_id not found in token", ErrInvalidToken)
}

// ExtractToken returns the token from "Bearer <token>" or a bare "<token>"
func ExtractToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrMissingToken
	}

	parts := strings.Fields(authHeader)
	switch len(parts) {
	case 1:
		return parts[0], nil
	case 2:
		if !strings.EqualFold(parts[0], "bearer") {
			return "", fmt.Errorf("%w: unsupported authorization scheme", ErrInvalidToken)
		}
		return parts[1], nil
	}
	return "", fmt.Errorf("%w: malformed authorization header", ErrInvalidToken)
}

// Authenticate resolves the caller of r from the Authorization header, or the
// token query parameter for browser WebSocket clients
func (m *AuthManager) Authenticate(r *http.Request) (string, error) {
	raw := r.Header.Get("Authorization")
	if raw == "" {
		raw = r.URL.Query().Get("token")
	}
	token, err := ExtractToken(raw)
	if err != nil {
		return "", err
	}
	return m.ValidateToken(token)
}

type contextKey struct{}

// WithUser stores the authenticated user ID in ctx
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserFromContext returns the authenticated user ID, if any
func UserFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(contextKey{}).(string)
	return userID, ok && userID != ""
}

// Authorize checks that the caller in ctx may act on userID. With
// authentication disabled every caller is allowed.
func (m *AuthManager) Authorize(ctx context.Context, userID string) error {
	if !m.Enabled() {
		return nil
	}
	caller, ok := UserFromContext(ctx)
	if !ok {
		return ErrMissingToken
	}
	if caller != userID {
		return ErrForbidden
	}
	return nil
}
