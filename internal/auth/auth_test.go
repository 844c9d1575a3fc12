package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("Failed to create token: %v", err)
	}
	return tokenString
}

func TestManager_ValidateToken(t *testing.T) {
	m := NewAuthManager(testSecret)

	tokenString := signToken(t, testSecret, jwt.MapClaims{
		"user_id": "user-1",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	userID, err := m.ValidateToken(tokenString)
	if err != nil {
		t.Fatalf("Failed to validate token: %v", err)
	}
	if userID != "user-1" {
		t.Errorf("Expected user ID %s, got %s", "user-1", userID)
	}
}

func TestManager_ValidateToken_SubjectFallback(t *testing.T) {
	m := NewAuthManager(testSecret)

	tokenString := signToken(t, testSecret, jwt.MapClaims{
		"sub": "user-2",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	userID, err := m.ValidateToken(tokenString)
	if err != nil {
		t.Fatalf("Failed to validate token: %v", err)
	}
	if userID != "user-2" {
		t.Errorf("Expected user ID %s, got %s", "user-2", userID)
	}
}

func TestManager_ValidateToken_Rejects(t *testing.T) {
	m := NewAuthManager(testSecret)

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", signToken(t, "wrong-secret", jwt.MapClaims{"user_id": "user-1"})},
		{"expired", signToken(t, testSecret, jwt.MapClaims{"user_id": "user-1", "exp": time.Now().Add(-time.Minute).Unix()})},
		{"no user", signToken(t, testSecret, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})},
		{"garbage", "not-a-jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.ValidateToken(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr error
	}{
		{"Bearer abc", "abc", nil},
		{"bearer abc", "abc", nil},
		{"abc", "abc", nil},
		{"", "", ErrMissingToken},
		{"Basic abc", "", ErrInvalidToken},
		{"Bearer a b", "", ErrInvalidToken},
	}

	for _, tt := range tests {
		got, err := ExtractToken(tt.header)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ExtractToken(%q) error = %v, want %v", tt.header, err, tt.wantErr)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ExtractToken(%q) = %q, %v; want %q", tt.header, got, err, tt.want)
		}
	}
}

func TestManager_Authenticate_QueryToken(t *testing.T) {
	m := NewAuthManager(testSecret)
	tokenString := signToken(t, testSecret, jwt.MapClaims{"user_id": "user-3"})

	req := httptest.NewRequest("GET", "/ws?token="+tokenString, nil)
	userID, err := m.Authenticate(req)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if userID != "user-3" {
		t.Errorf("Expected user-3, got %s", userID)
	}

	req = httptest.NewRequest("GET", "/ws", nil)
	if _, err := m.Authenticate(req); !errors.Is(err, ErrMissingToken) {
		t.Errorf("Expected ErrMissingToken, got %v", err)
	}
}

func TestManager_Authorize(t *testing.T) {
	m := NewAuthManager(testSecret)
	ctx := WithUser(context.Background(), "user-1")

	if err := m.Authorize(ctx, "user-1"); err != nil {
		t.Errorf("Expected own data to be allowed, got %v", err)
	}
	if err := m.Authorize(ctx, "user-2"); !errors.Is(err, ErrForbidden) {
		t.Errorf("Expected ErrForbidden, got %v", err)
	}
	if err := m.Authorize(context.Background(), "user-1"); !errors.Is(err, ErrMissingToken) {
		t.Errorf("Expected ErrMissingToken, got %v", err)
	}

	disabled := NewAuthManager("")
	if disabled.Enabled() {
		t.Error("Expected auth to be disabled without a secret")
	}
	if err := disabled.Authorize(context.Background(), "anyone"); err != nil {
		t.Errorf("Expected disabled auth to allow all, got %v", err)
	}
}
