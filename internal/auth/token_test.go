package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestTokens_IssueAndVerify(t *testing.T) {
	tk, err := NewTokens(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}

	now := time.Now().UTC()
	tok, err := tk.Issue("user-1", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	userID, err := tk.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("expected subject user-1, got %q", userID)
	}
}

func TestTokens_SecretTooShort(t *testing.T) {
	if _, err := NewTokens("short", time.Hour); !errors.Is(err, ErrSecretTooShort) {
		t.Fatalf("expected ErrSecretTooShort, got %v", err)
	}
}

func TestTokens_ExpiredRejected(t *testing.T) {
	tk, err := NewTokens(testSecret, time.Minute)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}

	tok, err := tk.Issue("user-1", time.Now().UTC().Add(-2*time.Minute))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := tk.Verify(tok); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for expired token, got %v", err)
	}
}

func TestTokens_WrongSecretRejected(t *testing.T) {
	tk1, _ := NewTokens(testSecret, time.Hour)
	tk2, _ := NewTokens(strings.Repeat("x", 32), time.Hour)

	tok, err := tk1.Issue("user-1", time.Now().UTC())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := tk2.Verify(tok); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for wrong secret, got %v", err)
	}
}

func TestTokens_GarbageRejected(t *testing.T) {
	tk, _ := NewTokens(testSecret, time.Hour)
	for _, bad := range []string{"", "not.a.jwt", "a.b"} {
		if _, err := tk.Verify(bad); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("token %q: expected ErrTokenInvalid, got %v", bad, err)
		}
	}
}

func TestTokens_EmptySubjectRefused(t *testing.T) {
	tk, _ := NewTokens(testSecret, time.Hour)
	if _, err := tk.Issue("  ", time.Now().UTC()); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for blank subject, got %v", err)
	}
}
