package inbound

import (
	"context"
)

// Transport is the inbound port for a serving surface. Both the HTTP
// gateway and the stdio adapter implement it, so the command layer can
// run either without knowing which.
type Transport interface {
	// Start begins serving clients. Blocks until the context is
	// cancelled or a fatal error occurs. Returns nil on graceful
	// shutdown.
	Start(ctx context.Context) error

	// Close gracefully shuts down the transport and cleans up
	// resources.
	Close() error
}
