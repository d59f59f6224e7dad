// Package auth contains the domain types and logic for request
// authentication: static token verification, auth info, and the
// credential fingerprints that bind sessions to their creator.
package auth

import (
	"time"
)

// StaticClientID identifies credentials verified against the static
// token set. Static tokens carry no client identity of their own.
const StaticClientID = "static-token"

// StaticTokenTTL is the validity window reported for static tokens.
const StaticTokenTTL = 24 * time.Hour

// Info describes a verified credential. It is produced once per
// request and lives only for that request's lifetime.
type Info struct {
	// Token is the opaque credential exactly as presented.
	Token string
	// ClientID identifies the credential owner.
	ClientID string
	// Scopes are the scopes granted to this credential.
	Scopes []string
	// ExpiresAt is when the credential expires (zero = unknown).
	ExpiresAt time.Time
	// Resource is the resource URL the credential was minted for, if any.
	Resource string
}

// HasScope returns true if the credential carries the given scope.
func (i *Info) HasScope(scope string) bool {
	for _, s := range i.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// HasAllScopes returns true if the credential carries every one of the
// given scopes. An empty requirement is always satisfied.
func (i *Info) HasAllScopes(scopes ...string) bool {
	for _, scope := range scopes {
		if !i.HasScope(scope) {
			return false
		}
	}
	return true
}

// IsExpired returns true if the credential has expired. A credential
// with zero ExpiresAt never expires.
func (i *Info) IsExpired() bool {
	if i.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().UTC().After(i.ExpiresAt)
}
