package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Fingerprinter derives per-process fingerprints that bind a session to
// the credential that created it. Fingerprints are keyed HMAC digests,
// so session records never hold (or leak) the raw token.
type Fingerprinter struct {
	key []byte
}

// NewFingerprinter creates a Fingerprinter with a random key. Only
// fingerprints produced by the same instance are comparable.
func NewFingerprinter() (*Fingerprinter, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating fingerprint key: %w", err)
	}
	return &Fingerprinter{key: key}, nil
}

// Fingerprint returns the hex HMAC-SHA256 digest of "clientID:token".
func (f *Fingerprinter) Fingerprint(clientID, token string) string {
	mac := hmac.New(sha256.New, f.key)
	mac.Write([]byte(clientID))
	mac.Write([]byte{':'})
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// ForInfo fingerprints the credential carried by info.
func (f *Fingerprinter) ForInfo(info *Info) string {
	return f.Fingerprint(info.ClientID, info.Token)
}
