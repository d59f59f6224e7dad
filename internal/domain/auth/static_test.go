package auth

import (
	"errors"
	"testing"
	"time"
)

func TestNewStaticVerifier_NoTokens(t *testing.T) {
	t.Parallel()

	_, err := NewStaticVerifier(nil, nil)
	if !errors.Is(err, ErrNoTokens) {
		t.Errorf("NewStaticVerifier(nil) error = %v, want ErrNoTokens", err)
	}
}

func TestStaticVerifier_Verify(t *testing.T) {
	t.Parallel()

	v, err := NewStaticVerifier([]string{"alpha-token", "beta-token"}, nil)
	if err != nil {
		t.Fatalf("NewStaticVerifier: %v", err)
	}

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"first configured token", "alpha-token", true},
		{"second configured token", "beta-token", true},
		{"unknown token", "gamma-token", false},
		{"empty token", "", false},
		{"prefix of configured token", "alpha", false},
		{"configured token with suffix", "alpha-token-x", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := v.Verify(tt.token); got != tt.want {
				t.Errorf("Verify(%q) = %v, want %v", tt.token, got, tt.want)
			}
		})
	}
}

func TestStaticVerifier_VerifyDuplicateTokens(t *testing.T) {
	t.Parallel()

	// The same token configured twice must still verify cleanly.
	v, err := NewStaticVerifier([]string{"tok", "tok"}, nil)
	if err != nil {
		t.Fatalf("NewStaticVerifier: %v", err)
	}
	if !v.Verify("tok") {
		t.Error("Verify(tok) = false, want true")
	}
}

func TestStaticVerifier_Authenticate(t *testing.T) {
	t.Parallel()

	scopes := []string{"fetch:read"}
	v, err := NewStaticVerifier([]string{"tok-1"}, scopes)
	if err != nil {
		t.Fatalf("NewStaticVerifier: %v", err)
	}

	before := time.Now().UTC()
	info, err := v.Authenticate("tok-1")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	after := time.Now().UTC()

	if info.ClientID != StaticClientID {
		t.Errorf("ClientID = %q, want %q", info.ClientID, StaticClientID)
	}
	if info.Token != "tok-1" {
		t.Errorf("Token = %q, want %q", info.Token, "tok-1")
	}
	if len(info.Scopes) != 1 || info.Scopes[0] != "fetch:read" {
		t.Errorf("Scopes = %v, want %v", info.Scopes, scopes)
	}
	if info.ExpiresAt.Before(before.Add(StaticTokenTTL)) || info.ExpiresAt.After(after.Add(StaticTokenTTL)) {
		t.Errorf("ExpiresAt = %v, want ~now+%v", info.ExpiresAt, StaticTokenTTL)
	}
	if info.IsExpired() {
		t.Error("IsExpired() = true for freshly minted info")
	}

	if _, err := v.Authenticate("wrong"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Authenticate(wrong) error = %v, want ErrInvalidToken", err)
	}
}

func TestInfo_Scopes(t *testing.T) {
	t.Parallel()

	info := &Info{Scopes: []string{"a", "b"}}
	if !info.HasScope("a") {
		t.Error("HasScope(a) = false, want true")
	}
	if info.HasScope("c") {
		t.Error("HasScope(c) = true, want false")
	}
	if !info.HasAllScopes("a", "b") {
		t.Error("HasAllScopes(a, b) = false, want true")
	}
	if info.HasAllScopes("a", "c") {
		t.Error("HasAllScopes(a, c) = true, want false")
	}
	if !info.HasAllScopes() {
		t.Error("HasAllScopes() = false, want true")
	}
}

func TestInfo_IsExpired(t *testing.T) {
	t.Parallel()

	var zero Info
	if zero.IsExpired() {
		t.Error("IsExpired() = true for zero ExpiresAt, want false")
	}

	past := Info{ExpiresAt: time.Now().UTC().Add(-time.Minute)}
	if !past.IsExpired() {
		t.Error("IsExpired() = false for past ExpiresAt, want true")
	}
}
