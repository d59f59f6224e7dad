package http

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/superfetch/superfetch/internal/domain/ratelimit"
	"github.com/superfetch/superfetch/internal/port/inbound"
	"github.com/superfetch/superfetch/internal/port/outbound"
	"github.com/superfetch/superfetch/internal/service"
)

// shutdownTimeout bounds graceful drain of in-flight requests.
const shutdownTimeout = 10 * time.Second

// Transport is the inbound adapter that serves the gateway over HTTP.
// It owns the listener, the middleware chain, and the auxiliary
// endpoints (health, metrics, downloads).
type Transport struct {
	gateway      *Gateway
	auth         *service.AuthService
	server       *http.Server
	addr         string
	certFile     string
	keyFile      string
	allowedHosts []string
	limiter      ratelimit.Limiter
	rateCfg      ratelimit.Config
	stats        *service.StatsService
	cache        outbound.ContentCache
	health       *HealthChecker
	metrics      *Metrics
	sources      MetricSources
	logger       *slog.Logger
}

// Option is a functional option for configuring Transport.
type Option func(*Transport)

// WithAddr sets the listen address. Default is "127.0.0.1:3000"
// (localhost only).
func WithAddr(addr string) Option {
	return func(t *Transport) {
		t.addr = addr
	}
}

// WithTLS enables TLS with the provided certificate and key files.
// If not set, the server runs without TLS (plain HTTP).
func WithTLS(certFile, keyFile string) Option {
	return func(t *Transport) {
		t.certFile = certFile
		t.keyFile = keyFile
	}
}

// WithAllowedHosts sets the extra hostnames accepted in Host and
// Origin headers. Loopback names and addresses are always accepted.
func WithAllowedHosts(hosts []string) Option {
	return func(t *Transport) {
		t.allowedHosts = hosts
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithRateLimit enables per-client-IP rate limiting.
func WithRateLimit(limiter ratelimit.Limiter, cfg ratelimit.Config) Option {
	return func(t *Transport) {
		t.limiter = limiter
		t.rateCfg = cfg
	}
}

// WithStats wires the counter service recorded by the middleware.
func WithStats(stats *service.StatsService) Option {
	return func(t *Transport) {
		t.stats = stats
	}
}

// WithContentCache enables the downloads endpoint backed by the given
// cache.
func WithContentCache(cache outbound.ContentCache) Option {
	return func(t *Transport) {
		t.cache = cache
	}
}

// WithHealthChecker sets the health checker for the /health endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(t *Transport) {
		t.health = hc
	}
}

// WithMetricSources wires the components exported as gauges and
// counters on /metrics.
func WithMetricSources(src MetricSources) Option {
	return func(t *Transport) {
		t.sources = src
	}
}

// NewTransport creates an HTTP transport serving the given gateway.
func NewTransport(gateway *Gateway, auth *service.AuthService, opts ...Option) *Transport {
	t := &Transport{
		gateway: gateway,
		auth:    auth,
		addr:    "127.0.0.1:3000",
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Start begins accepting HTTP connections and serving MCP sessions.
// It blocks until the context is cancelled or an error occurs.
func (t *Transport) Start(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	t.metrics = NewMetrics(reg, t.sources)

	t.server = &http.Server{
		Addr:    t.addr,
		Handler: t.buildHandler(reg),
	}

	if t.certFile != "" && t.keyFile != "" {
		t.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	errCh := make(chan error, 1)

	go func() {
		var err error
		if t.certFile != "" && t.keyFile != "" {
			t.logger.Info("starting HTTPS server", "addr", t.addr)
			err = t.server.ListenAndServeTLS(t.certFile, t.keyFile)
		} else {
			t.logger.Info("starting HTTP server", "addr", t.addr)
			err = t.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

// buildHandler assembles the route table and middleware chain.
//
// Middleware order (outermost first):
//  1. MetricsMiddleware - record duration and status for every request
//  2. RequestIDMiddleware - extract/generate request ID, enrich logger
//  3. RecoveryMiddleware - turn panics into 500 responses
//  4. RealIPMiddleware - resolve the client IP for limits and logs
//  5. DuplicateHeaderGuard - reject smuggling-prone repeated headers
//  6. HostOriginPolicy - DNS rebinding protection
//  7. CORSMiddleware - CORS headers and preflight
//  8. RateLimitMiddleware - per-client-IP limiting
//  9. mux - route dispatch, with auth on the MCP routes
func (t *Transport) buildHandler(reg *prometheus.Registry) http.Handler {
	health := t.health
	if health == nil {
		health = NewHealthChecker("dev", false, HealthDeps{})
	}

	authed := AuthMiddleware(t.auth, t.logger)

	var metricsHandler http.Handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry: reg,
	})
	// Scrapes are open on loopback binds and credentialed otherwise,
	// matching the verbose health view.
	if !isLoopbackAddr(t.addr) {
		metricsHandler = authed(metricsHandler)
	}

	mux := http.NewServeMux()
	mux.Handle("/health", health.Handler())
	mux.Handle("/metrics", metricsHandler)
	// Favicon handler to prevent browser error noise.
	mux.Handle("/favicon.ico", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.Handle("/mcp", authed(t.gateway))
	if t.cache != nil {
		mux.Handle(downloadsPrefix, authed(NewDownloadsHandler(t.cache)))
	}
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "Not Found")
	}))

	var handler http.Handler = mux
	if t.limiter != nil {
		handler = RateLimitMiddleware(t.limiter, t.rateCfg, t.stats, t.logger)(handler)
	}
	handler = CORSMiddleware(handler)
	handler = HostOriginPolicy(newHostAllowlist(t.allowedHosts))(handler)
	handler = DuplicateHeaderGuard(handler)
	handler = RealIPMiddleware(handler)
	handler = RecoveryMiddleware(handler)
	handler = RequestIDMiddleware(t.logger)(handler)
	handler = MetricsMiddleware(t.metrics)(handler)

	return handler
}

// isLoopbackAddr reports whether addr binds only a loopback interface.
// An empty host (":3000") binds every interface and does not qualify.
func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}

// shutdown performs graceful shutdown of the HTTP server.
func (t *Transport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Close live sessions first. Their SSE connections never go idle,
	// so Shutdown would otherwise stall until the timeout.
	t.gateway.Shutdown()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}

	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *Transport) Close() error {
	if t.server == nil {
		return nil
	}
	return t.shutdown()
}

// Compile-time check that Transport implements the inbound port.
var _ inbound.Transport = (*Transport)(nil)
