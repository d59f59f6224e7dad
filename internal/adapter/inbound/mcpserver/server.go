// Package mcpserver builds the MCP servers handed to client sessions.
// Every session gets its own server instance wired to the shared fetch
// pipeline and content cache, so protocol state never crosses sessions.
// The HTTP gateway and the stdio command both construct their servers
// through the factory here.
package mcpserver

import (
	"context"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/superfetch/superfetch/internal/domain/transform"
	"github.com/superfetch/superfetch/internal/port/inbound"
	"github.com/superfetch/superfetch/internal/port/outbound"
)

// serverName identifies this server in initialize results.
const serverName = "superfetch"

// Config carries the factory knobs.
type Config struct {
	// Version is reported to clients during initialization.
	Version string
	// MaxInlineChars is the inline markdown budget applied when a tool
	// call does not override it. Zero means the default.
	MaxInlineChars int
}

// Factory builds per-session MCP servers exposing the fetch-url tool
// and the cached-content resources.
type Factory struct {
	fetch     inbound.FetchService
	cache     outbound.ContentCache
	logger    *slog.Logger
	version   string
	maxInline int
}

// NewFactory wires the server factory. contentCache may be nil when
// caching is disabled; cached-content resources and subscriptions are
// then not registered.
func NewFactory(fetchSvc inbound.FetchService, contentCache outbound.ContentCache, logger *slog.Logger, cfg Config) *Factory {
	maxInline := cfg.MaxInlineChars
	if maxInline <= 0 {
		maxInline = transform.DefaultMaxInlineChars
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	return &Factory{
		fetch:     fetchSvc,
		cache:     contentCache,
		logger:    logger,
		version:   version,
		maxInline: maxInline,
	}
}

// NewServer builds a fresh server for one client session.
func (f *Factory) NewServer() *mcp.Server {
	opts := &mcp.ServerOptions{
		InitializedHandler: func(_ context.Context, req *mcp.InitializedRequest) {
			if info := req.Session.InitializeParams().ClientInfo; info != nil {
				f.logger.Debug("mcp client initialized",
					"client", info.Name, "client_version", info.Version)
			}
		},
	}
	if f.cache != nil {
		opts.SubscribeHandler = f.handleSubscribe
		opts.UnsubscribeHandler = f.handleUnsubscribe
	}

	srv := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: f.version}, opts)
	f.registerFetchTool(srv)
	if f.cache != nil {
		f.registerCacheResources(srv)
	}
	return srv
}

// WatchCache forwards cache mutations to the server's resource
// subscribers as resource-updated notifications until stop is called.
// Stop is idempotent and returns after the forwarding goroutine has
// exited. Without a cache the returned stop is a no-op.
func (f *Factory) WatchCache(srv *mcp.Server) (stop func()) {
	if f.cache == nil {
		return func() {}
	}

	events, cancel := f.cache.Subscribe()
	ctx, cancelNotify := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		for ev := range events {
			uri := ev.Key.URI()
			if err := srv.ResourceUpdated(ctx, &mcp.ResourceUpdatedNotificationParams{URI: uri}); err != nil {
				f.logger.Debug("resource update notification failed", "uri", uri, "error", err)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
			cancelNotify()
		})
	}
}
