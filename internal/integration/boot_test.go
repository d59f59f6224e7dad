// Package integration wires the real fetch pipeline, session store,
// rate limiter, and HTTP transport together the way the server command
// does and exercises them end to end over live HTTP. Outbound fetches
// never leave the machine: the requests drive the protocol and
// security surface, where every target these tests name is rejected
// before a connection opens.
package integration

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"go.uber.org/goleak"

	httpapi "github.com/superfetch/superfetch/internal/adapter/inbound/http"
	"github.com/superfetch/superfetch/internal/adapter/inbound/mcpserver"
	"github.com/superfetch/superfetch/internal/adapter/outbound/markdown"
	"github.com/superfetch/superfetch/internal/adapter/outbound/memory"
	"github.com/superfetch/superfetch/internal/adapter/outbound/readability"
	"github.com/superfetch/superfetch/internal/adapter/outbound/webfetch"
	"github.com/superfetch/superfetch/internal/domain/auth"
	"github.com/superfetch/superfetch/internal/domain/ratelimit"
	"github.com/superfetch/superfetch/internal/service"
)

// testLogger returns a logger that writes to stderr at error level (quiet tests).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestBootAndGracefulShutdown assembles every component the server
// command wires, binds an ephemeral port, and tears the stack down
// again without leaking a goroutine.
func TestBootAndGracefulShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	logger := testLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := service.NewTransformService(readability.New(), markdown.New(), logger,
		service.PoolConfig{MaxWorkers: 2, TaskTimeout: 5 * time.Second})
	defer pool.Stop()

	contentCache := memory.NewContentCache(16)
	contentCache.StartCleanup(ctx)
	defer contentCache.Stop()

	fetcher := webfetch.New(webfetch.Config{UserAgent: "superfetch-test/1.0"})
	stats := service.NewStatsService()
	fetchSvc := service.NewFetchService(fetcher, pool, contentCache, nil, stats, logger,
		service.FetchConfig{CacheEnabled: true, CacheTTL: time.Minute})

	verifier, err := auth.NewStaticVerifier([]string{"boot-token"}, nil)
	if err != nil {
		t.Fatalf("NewStaticVerifier: %v", err)
	}
	authSvc, err := service.NewAuthService(service.AuthModeStatic, verifier, nil, nil, logger)
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}

	sessions := memory.NewSessionStore(4, time.Minute)
	sessions.StartCleanup(ctx)
	defer sessions.Stop()

	limiter := memory.NewRateLimiter()
	limiter.StartCleanup(ctx)
	defer limiter.Stop()

	factory := mcpserver.NewFactory(fetchSvc, contentCache, logger, mcpserver.Config{Version: "test"})
	gateway := httpapi.NewGateway(factory, sessions, logger, 5*time.Second)
	health := httpapi.NewHealthChecker("test", true, httpapi.HealthDeps{
		Sessions:   sessions,
		Cache:      contentCache,
		Transforms: pool,
		Limiter:    limiter,
		Stats:      stats,
		Auth:       authSvc,
	})

	transport := httpapi.NewTransport(gateway, authSvc,
		httpapi.WithAddr("127.0.0.1:0"),
		httpapi.WithLogger(logger),
		httpapi.WithRateLimit(limiter, ratelimit.Config{Max: 100, Window: time.Minute}),
		httpapi.WithStats(stats),
		httpapi.WithContentCache(contentCache),
		httpapi.WithHealthChecker(health),
		httpapi.WithMetricSources(httpapi.MetricSources{
			Sessions:   sessions,
			Cache:      contentCache,
			Limiter:    limiter,
			Transforms: pool,
			Stats:      stats,
		}),
	)

	done := make(chan error, 1)
	go func() { done <- transport.Start(ctx) }()

	// Let the listener bind before tearing it down.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("transport.Start() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("transport did not shut down within 5s")
	}
}
