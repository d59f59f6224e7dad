// Package session defines the per-client MCP session records tracked
// by the gateway and the store that holds them.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is the default session idle timeout.
const DefaultTTL = 30 * time.Minute

// DefaultMaxSessions caps the number of concurrent sessions, counting
// reserved-but-uninitialized slots.
const DefaultMaxSessions = 100

// Record tracks one initialized MCP session. Records are owned by the
// store; callers must not mutate them directly and use Touch to bump
// LastSeen.
type Record struct {
	// ID is the session id issued to the client (uuid v4).
	ID string
	// Transport is the conduit requests for this session are dispatched to.
	Transport Transport
	// AuthFingerprint binds the session to the credential that created it.
	AuthFingerprint string
	// CreatedAt is when the session finished initializing (UTC).
	CreatedAt time.Time
	// LastSeen is the last time the session served a request (UTC).
	LastSeen time.Time
	// ProtocolInitialized is set once the initialize handshake completed.
	ProtocolInitialized bool
}

// ExpiredAt returns true if the record has been idle longer than ttl at
// the given instant.
func (r *Record) ExpiredAt(now time.Time, ttl time.Duration) bool {
	return r.LastSeen.Before(now.Add(-ttl))
}

// NewID generates a session id.
func NewID() string {
	return uuid.NewString()
}

// Transport is the per-session MCP conduit. The gateway owns the
// concrete implementation; the store only closes it on eviction.
type Transport interface {
	// SessionID returns the id the conduit was created with.
	SessionID() string
	// Deliver feeds one inbound JSON-RPC payload to the session and
	// returns the response payload, or nil when the message expects no
	// response.
	Deliver(ctx context.Context, payload []byte) ([]byte, error)
	// Stream returns the channel carrying server-initiated payloads.
	// It is closed when the transport closes.
	Stream() <-chan []byte
	// Close tears down the conduit and the MCP session behind it.
	// Safe to call more than once.
	Close() error
}
