package service

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lernquiz/account-system/internal/core/domain"
)

func TestTokenService_RoundTrip(t *testing.T) {
	ts := NewTokenService("test-secret", time.Hour)

	token, err := ts.Issue("alice42", domain.RoleAdmin)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	username, role, err := ts.Parse(token)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if username != "alice42" {
		t.Errorf("username = %q, want %q", username, "alice42")
	}
	if role != domain.RoleAdmin {
		t.Errorf("role = %s, want %s", role, domain.RoleAdmin)
	}
}

func TestTokenService_RejectsForeignSignature(t *testing.T) {
	ts := NewTokenService("test-secret", time.Hour)
	other := NewTokenService("other-secret", time.Hour)

	token, err := other.Issue("alice42", domain.RoleUser)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if _, _, err := ts.Parse(token); !errors.Is(err, domain.ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestTokenService_RejectsExpired(t *testing.T) {
	ts := NewTokenService("test-secret", time.Hour)

	claims := jwt.MapClaims{
		"username": "alice42",
		"role":     string(domain.RoleUser),
		"exp":      time.Now().Add(-time.Minute).Unix(),
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, _, err := ts.Parse(expired); !errors.Is(err, domain.ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestTokenService_RejectsGarbage(t *testing.T) {
	ts := NewTokenService("test-secret", time.Hour)

	if _, _, err := ts.Parse("not.a.token"); !errors.Is(err, domain.ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}
