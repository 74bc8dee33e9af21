package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestAuthService_TokenRoundTrip(t *testing.T) {
	s := NewAuthService(nil, "test-secret")

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  int64(42),
		"username": "trader1",
		"exp":      time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	userID, err := s.GetUserFromToken(signed)
	if err != nil {
		t.Fatalf("GetUserFromToken failed: %v", err)
	}
	if userID != 42 {
		t.Errorf("user id = %d, want 42", userID)
	}
}

func TestAuthService_RejectsBadTokens(t *testing.T) {
	s := NewAuthService(nil, "test-secret")

	// Wrong secret.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": int64(42),
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	if _, err := s.GetUserFromToken(signed); err == nil {
		t.Error("expected error for token signed with a different secret")
	}

	// Expired.
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": int64(42),
		"exp":     time.Now().Add(-time.Hour).Unix(),
	})
	signed, err = expired.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	if _, err := s.GetUserFromToken(signed); err == nil {
		t.Error("expected error for expired token")
	}

	// Missing user_id claim.
	anonymous := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err = anonymous.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	if _, err := s.GetUserFromToken(signed); err == nil {
		t.Error("expected error for token without user_id")
	}

	if _, err := s.GetUserFromToken("not.a.token"); err == nil {
		t.Error("expected error for malformed token")
	}
}

func TestAuthService_RegisterValidation(t *testing.T) {
	s := NewAuthService(nil, "test-secret")

	long := make([]byte, 101)
	for i := range long {
		long[i] = 'a'
	}

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"empty username", "", "password"},
		{"empty password", "trader1", ""},
		{"username too long", string(long[:51]), "password"},
		{"password too long", "trader1", string(long)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Register(context.Background(), tt.username, tt.password); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}
