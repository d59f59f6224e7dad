package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidToken is returned when a presented token matches no
// configured credential.
var ErrInvalidToken = errors.New("invalid token")

// ErrNoTokens is returned when a verifier is constructed with an empty
// token set.
var ErrNoTokens = errors.New("no tokens configured")

// StaticVerifier validates bearer tokens against a fixed set configured
// at startup. Configured tokens are stored as keyed HMAC-SHA256 digests
// under a per-process random key; the raw values are discarded after
// construction.
type StaticVerifier struct {
	key     []byte
	digests [][]byte
	scopes  []string
}

// NewStaticVerifier creates a verifier over the given token set. The
// HMAC key is drawn from crypto/rand, so digests are not comparable
// across restarts.
func NewStaticVerifier(tokens, scopes []string) (*StaticVerifier, error) {
	if len(tokens) == 0 {
		return nil, ErrNoTokens
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating verifier key: %w", err)
	}
	v := &StaticVerifier{key: key, scopes: scopes}
	for _, t := range tokens {
		v.digests = append(v.digests, v.digest(t))
	}
	return v, nil
}

func (v *StaticVerifier) digest(token string) []byte {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(token))
	return mac.Sum(nil)
}

// Verify reports whether token matches a configured credential. The
// presented digest is compared against every stored digest and the
// match bits are accumulated, so verification never short-circuits and
// its duration does not depend on which entry matches, or whether any
// does.
func (v *StaticVerifier) Verify(token string) bool {
	presented := v.digest(token)
	match := 0
	for _, d := range v.digests {
		match |= subtle.ConstantTimeCompare(presented, d)
	}
	return match == 1
}

// Authenticate verifies token and mints the auth info for it. Returns
// ErrInvalidToken when the token matches no configured credential.
func (v *StaticVerifier) Authenticate(token string) (*Info, error) {
	if !v.Verify(token) {
		return nil, ErrInvalidToken
	}
	return &Info{
		Token:     token,
		ClientID:  StaticClientID,
		Scopes:    v.scopes,
		ExpiresAt: time.Now().UTC().Add(StaticTokenTTL),
	}, nil
}
