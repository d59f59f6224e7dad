// Package stdio serves the MCP gateway over stdin/stdout for clients
// that spawn the process directly.
package stdio

import (
	"context"
	"errors"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/superfetch/superfetch/internal/adapter/inbound/mcpserver"
	"github.com/superfetch/superfetch/internal/port/inbound"
)

// Transport is the inbound adapter that serves a single MCP session
// over stdin/stdout. The spawning process already controls access to
// the pipes, so no authentication or per-client rate limiting applies
// on this path.
type Transport struct {
	factory *mcpserver.Factory
	logger  *slog.Logger
}

// NewTransport creates a stdio transport over the given server factory.
func NewTransport(factory *mcpserver.Factory, logger *slog.Logger) *Transport {
	return &Transport{
		factory: factory,
		logger:  logger,
	}
}

// Start serves MCP on stdin/stdout. It blocks until the client
// disconnects or the context is cancelled.
func (t *Transport) Start(ctx context.Context) error {
	srv := t.factory.NewServer()
	stopWatch := t.factory.WatchCache(srv)
	defer stopWatch()

	t.logger.Info("serving MCP on stdio")
	err := srv.Run(ctx, &mcp.StdioTransport{})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	return err
}

// Close gracefully shuts down the transport. The stdio session ends
// with the process; there is nothing else to release.
func (t *Transport) Close() error {
	return nil
}

// Compile-time check that Transport implements the inbound port.
var _ inbound.Transport = (*Transport)(nil)
