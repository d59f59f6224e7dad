package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/superfetch/superfetch/internal/ctxkey"
	"github.com/superfetch/superfetch/internal/domain/fetch"
	"github.com/superfetch/superfetch/internal/domain/ratelimit"
	"github.com/superfetch/superfetch/internal/service"
)

// requestIDContextKey is the type for the request ID context key.
type requestIDContextKey struct{}

// clientIPContextKey is the type for the client IP context key.
type clientIPContextKey struct{}

// authFingerprintContextKey is the type for the fingerprint context key.
type authFingerprintContextKey struct{}

// RequestIDKey is the context key for the request ID.
var RequestIDKey = requestIDContextKey{}

// LoggerKey is the context key for the enriched logger. Uses the shared
// key type from ctxkey so the fetch pipeline can pick the logger up
// without importing this package.
var LoggerKey = ctxkey.LoggerKey{}

// RequestIDMiddleware extracts or generates a request ID and enriches
// the logger with it. The ID is echoed in the X-Request-ID response
// header for correlation.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			enriched := logger.With("request_id", requestID)

			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			ctx = context.WithValue(ctx, LoggerKey, enriched)

			w.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext retrieves the enriched logger from context.
// Returns slog.Default() if no logger is in context.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// RecoveryMiddleware converts handler panics into a 500 JSON envelope.
// net/http would otherwise drop the connection without a response.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				LoggerFromContext(r.Context()).Error("handler panic",
					"panic", rec,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				writeJSONError(w, http.StatusInternalServerError, "Internal Server Error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// RealIPMiddleware resolves the client IP used for rate limiting,
// honoring reverse proxy headers before falling back to RemoteAddr.
func RealIPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := extractRealIP(r)
		ctx := context.WithValue(r.Context(), clientIPContextKey{}, ip)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIPFromContext returns the IP stored by RealIPMiddleware.
func ClientIPFromContext(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPContextKey{}).(string); ok {
		return ip
	}
	return ""
}

// extractRealIP extracts the client's IP address from the request.
// Only the first X-Forwarded-For entry is trusted to avoid spoofing.
func extractRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// singleValueHeaders are request headers that must not repeat. Doubled
// values on these smuggle conflicting session, auth, or framing state
// past downstream checks. Spellings are canonical per net/textproto.
var singleValueHeaders = []string{
	"Authorization",
	"X-Api-Key",
	"Host",
	"Origin",
	"Content-Length",
	"Mcp-Session-Id",
	"X-Mcp-Session-Id",
}

// DuplicateHeaderGuard rejects requests repeating a single-value header.
func DuplicateHeaderGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, name := range singleValueHeaders {
			if len(r.Header[name]) > 1 {
				writeJSONError(w, http.StatusBadRequest, "Duplicate header: "+name)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// hostAllowlist answers whether a hostname may appear in Host or
// Origin. Loopback names and addresses are always allowed.
type hostAllowlist struct {
	allowed map[string]struct{}
}

// newHostAllowlist builds an allowlist from hostnames or host:port
// entries; ports are dropped.
func newHostAllowlist(hosts []string) *hostAllowlist {
	allowed := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if parsed, _, err := net.SplitHostPort(h); err == nil {
			h = parsed
		}
		allowed[h] = struct{}{}
	}
	return &hostAllowlist{allowed: allowed}
}

func (a *hostAllowlist) allows(hostname string) bool {
	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if hostname == "" {
		return false
	}
	if hostname == "localhost" || strings.HasSuffix(hostname, ".localhost") {
		return true
	}
	if ip := net.ParseIP(strings.Trim(hostname, "[]")); ip != nil && ip.IsLoopback() {
		return true
	}
	_, ok := a.allowed[hostname]
	return ok
}

// HostOriginPolicy rejects requests whose Host is outside the allow
// set, and requests whose Origin host is outside it. This is the DNS
// rebinding guard: a rebound name still carries the attacker's Host or
// Origin.
func HostOriginPolicy(allowlist *hostAllowlist) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host := r.Host
			if h, _, err := net.SplitHostPort(host); err == nil {
				host = h
			}
			if !allowlist.allows(host) {
				writeJSONError(w, http.StatusForbidden, "Forbidden: host not allowed")
				return
			}
			if origin := r.Header.Get("Origin"); origin != "" {
				u, err := url.Parse(origin)
				if err != nil || !allowlist.allows(u.Hostname()) {
					writeJSONError(w, http.StatusForbidden, "Forbidden: origin not allowed")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// corsAllowedHeaders lists request headers clients may send cross-origin.
const corsAllowedHeaders = "Content-Type, Authorization, X-API-Key, Mcp-Session-Id, X-Mcp-Session-Id, MCP-Protocol-Version, Last-Event-ID, X-Request-ID"

// CORSMiddleware applies the CORS response policy and terminates
// preflight requests. Mcp-Session-Id is exposed so browser clients can
// read the id issued on initialize.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", corsAllowedHeaders)
		w.Header().Set("Access-Control-Expose-Headers", "Mcp-Session-Id, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimitMiddleware enforces the per-IP fixed window. OPTIONS is
// exempt so preflights cannot exhaust a browser client's budget.
func RateLimitMiddleware(limiter ratelimit.Limiter, cfg ratelimit.Config, stats *service.StatsService, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			ip := ClientIPFromContext(r.Context())
			res, err := limiter.Allow(r.Context(), ratelimit.ClientKey(ip), cfg)
			if err != nil {
				// The in-memory limiter fails only on context
				// cancellation.
				next.ServeHTTP(w, r)
				return
			}
			if !res.Allowed {
				if stats != nil {
					stats.RecordRateLimited()
				}
				logger.Warn("rate limit exceeded", "ip", ip, "retry_after", res.RetryAfter)
				w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter/time.Second)))
				writeJSONError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AuthMiddleware authenticates every request with the configured
// verifier and stores the session-binding fingerprint in the context
// for the gateway.
func AuthMiddleware(auth *service.AuthService, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds := service.Credentials{
				Authorization: r.Header.Get("Authorization"),
				APIKey:        r.Header.Get("X-API-Key"),
			}
			info, err := auth.Authenticate(r.Context(), creds)
			if err != nil {
				status := fetch.HTTPStatus(fetch.CodeOf(err))
				if status == http.StatusUnauthorized {
					w.Header().Set("WWW-Authenticate", "Bearer")
				}
				writeJSONError(w, status, fetch.MessageOf(err))
				return
			}

			ctx := context.WithValue(r.Context(), authFingerprintContextKey{}, auth.Fingerprint(info))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// authFingerprintFrom returns the fingerprint stored by AuthMiddleware.
func authFingerprintFrom(ctx context.Context) (string, bool) {
	fp, ok := ctx.Value(authFingerprintContextKey{}).(string)
	return fp, ok && fp != ""
}
