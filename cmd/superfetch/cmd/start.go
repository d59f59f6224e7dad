package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/superfetch/superfetch/internal/adapter/inbound/http"
	"github.com/superfetch/superfetch/internal/adapter/inbound/mcpserver"
	"github.com/superfetch/superfetch/internal/adapter/outbound/memory"
	"github.com/superfetch/superfetch/internal/adapter/outbound/oauth"
	"github.com/superfetch/superfetch/internal/config"
	"github.com/superfetch/superfetch/internal/domain/auth"
	"github.com/superfetch/superfetch/internal/domain/ratelimit"
	"github.com/superfetch/superfetch/internal/service"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the HTTP MCP server",
	Long: `Start the superfetch HTTP server.

The server speaks MCP over Streamable HTTP on /mcp: POST carries
JSON-RPC requests, GET opens the SSE notification stream, DELETE closes
the session. Cached pages are downloadable under /mcp/downloads/.

Every request must carry a credential. In static mode (the default)
that is a bearer token from ACCESS_TOKENS or the X-API-Key header; in
oauth mode tokens are verified against OAUTH_INTROSPECTION_URL.

Examples:
  # Loopback server with a static token
  ACCESS_TOKENS=my-secret superfetch start

  # Remote-reachable server (requires oauth)
  HOST=0.0.0.0 ALLOW_REMOTE=true AUTH_MODE=oauth \
    OAUTH_INTROSPECTION_URL=https://auth.example.com/introspect \
    superfetch start

  # With a config file
  superfetch --config /etc/superfetch/superfetch.yaml start`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.Server.LogLevel)
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	// stop() restores default signal handling so a second Ctrl+C does a
	// hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("superfetch stopped")
	return nil
}

// run wires the pipeline, stores, and transport, then serves until ctx
// is cancelled. Deferred stops unwind in shutdown order: the rate
// limiter sweeper, the session sweeper, then the cache sweeper and the
// worker pool; the transport drains inbound work before Start returns.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	pipe, err := buildPipeline(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer pipe.close()

	sessions := memory.NewSessionStore(cfg.Session.MaxSessions, cfg.Session.TTL())
	sessions.StartCleanup(ctx)
	defer sessions.Stop()

	// Keys idle for two windows have nothing left to count.
	limiter := memory.NewRateLimiterWithConfig(cfg.RateLimit.Cleanup(), 2*cfg.RateLimit.Window())
	limiter.StartCleanup(ctx)
	defer limiter.Stop()

	authSvc, err := newAuthService(cfg, logger)
	if err != nil {
		return err
	}

	factory := mcpserver.NewFactory(pipe.fetch, pipe.contentCache(),
		logger.With("component", "mcp"),
		mcpserver.Config{
			Version:        Version,
			MaxInlineChars: cfg.Transform.MaxInlineChars,
		})
	gateway := http.NewGateway(factory, sessions, logger.With("component", "gateway"), 0)

	health := http.NewHealthChecker(Version, cfg.Server.IsLoopback(), http.HealthDeps{
		Sessions:   sessions,
		Cache:      pipe.contentCache(),
		Transforms: pipe.pool,
		Limiter:    limiter,
		Stats:      pipe.stats,
		Auth:       authSvc,
	})

	opts := []http.Option{
		http.WithAddr(cfg.Server.Addr()),
		http.WithLogger(logger.With("component", "http")),
		http.WithAllowedHosts(cfg.Server.AllowedHosts),
		http.WithRateLimit(limiter, ratelimit.Config{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window(),
		}),
		http.WithStats(pipe.stats),
		http.WithHealthChecker(health),
		http.WithMetricSources(http.MetricSources{
			Sessions:   sessions,
			Cache:      pipe.contentCache(),
			Limiter:    limiter,
			Transforms: pipe.pool,
			Stats:      pipe.stats,
		}),
	}
	if pipe.cache != nil {
		opts = append(opts, http.WithContentCache(pipe.cache))
	}

	transport := http.NewTransport(gateway, authSvc, opts...)

	logger.Info("superfetch starting",
		"version", Version,
		"addr", cfg.Server.Addr(),
		"auth_mode", cfg.Auth.Mode,
		"cache", pipe.cache != nil,
		"rate_limit_max", cfg.RateLimit.Max,
		"max_sessions", cfg.Session.MaxSessions,
	)
	printBanner(cfg)

	return transport.Start(ctx)
}

// newAuthService builds the credential verifier for the configured
// mode. Static mode accepts ACCESS_TOKENS and API_KEY; oauth mode
// introspects bearer tokens remotely.
func newAuthService(cfg *config.Config, logger *slog.Logger) (*service.AuthService, error) {
	authLogger := logger.With("component", "auth")

	if cfg.Auth.Mode == config.AuthModeOAuth {
		opts := []oauth.Option{oauth.WithTimeout(cfg.Auth.OAuth.Timeout())}
		if cfg.Auth.OAuth.ClientID != "" && cfg.Auth.OAuth.ClientSecret != "" {
			opts = append(opts, oauth.WithClientCredentials(cfg.Auth.OAuth.ClientID, cfg.Auth.OAuth.ClientSecret))
		}
		if cfg.Auth.OAuth.ResourceURL != "" {
			opts = append(opts, oauth.WithResource(cfg.Auth.OAuth.ResourceURL))
		}
		introspector := oauth.NewIntrospector(cfg.Auth.OAuth.IntrospectionURL, opts...)
		return service.NewAuthService(service.AuthModeOAuth, nil, introspector, cfg.Auth.RequiredScopes, authLogger)
	}

	verifier, err := auth.NewStaticVerifier(cfg.Auth.StaticTokens(), cfg.Auth.RequiredScopes)
	if err != nil {
		return nil, fmt.Errorf("static token setup: %w", err)
	}
	return service.NewAuthService(service.AuthModeStatic, verifier, nil, cfg.Auth.RequiredScopes, authLogger)
}

// printBanner prints a formatted startup banner to stderr with the
// endpoints and effective mode. Stderr keeps stdout clean for tooling.
func printBanner(cfg *config.Config) {
	const (
		reset = "\033[0m"
		bold  = "\033[1m"
		cyan  = "\033[36m"
		dim   = "\033[2m"
	)

	addr := cfg.Server.Addr()
	cacheStr := "disabled"
	if cfg.Cache.Enabled {
		cacheStr = fmt.Sprintf("enabled (ttl %s)", cfg.Cache.TTL())
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  %s%ssuperfetch %s%s\n", bold, cyan, Version, reset)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "  %-10s http://%s/mcp\n", "MCP:", addr)
	fmt.Fprintf(os.Stderr, "  %-10s http://%s/health\n", "Health:", addr)
	fmt.Fprintf(os.Stderr, "  %-10s %s\n", "Auth:", cfg.Auth.Mode)
	fmt.Fprintf(os.Stderr, "  %-10s %s\n", "Cache:", cacheStr)
	if len(cfg.Server.AllowedHosts) > 0 {
		fmt.Fprintf(os.Stderr, "  %-10s %s\n", "Hosts:", strings.Join(cfg.Server.AllowedHosts, ", "))
	}
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "\n")
}
