package http

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/superfetch/superfetch/internal/adapter/outbound/memory"
	"github.com/superfetch/superfetch/internal/domain/session"
	"github.com/superfetch/superfetch/internal/domain/transform"
	"github.com/superfetch/superfetch/internal/port/outbound"
	"github.com/superfetch/superfetch/internal/service"
)

// HealthResponse is the public liveness payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  int64  `json:"uptime"` // seconds since start
}

// VerboseHealth extends the liveness payload with component
// diagnostics. Served only on loopback binds or to authenticated
// callers.
type VerboseHealth struct {
	HealthResponse
	Sessions    SessionHealth   `json:"sessions"`
	Cache       CacheHealth     `json:"cache"`
	Transforms  transform.Stats `json:"transforms"`
	RateLimiter RateLimitHealth `json:"rate_limiter"`
	Counters    service.Stats   `json:"counters"`
	Goroutines  int             `json:"goroutines"`
}

// SessionHealth reports session store occupancy.
type SessionHealth struct {
	Active   int `json:"active"`
	InFlight int `json:"in_flight"`
}

// CacheHealth reports content cache occupancy.
type CacheHealth struct {
	Entries int `json:"entries"`
}

// RateLimitHealth reports live rate limit windows.
type RateLimitHealth struct {
	Keys int `json:"keys"`
}

// HealthDeps carries the components the checker reports on. Nil fields
// read as zero in verbose output.
type HealthDeps struct {
	Sessions   session.Store
	Cache      outbound.ContentCache
	Transforms *service.TransformService
	Limiter    *memory.MemoryRateLimiter
	Stats      *service.StatsService
	Auth       *service.AuthService
}

// HealthChecker serves /health.
type HealthChecker struct {
	version  string
	loopback bool
	deps     HealthDeps
	started  time.Time
}

// NewHealthChecker creates a checker. loopbackBound should be true when
// the server listens on a loopback address only; it opens the verbose
// view without credentials.
func NewHealthChecker(version string, loopbackBound bool, deps HealthDeps) *HealthChecker {
	return &HealthChecker{
		version:  version,
		loopback: loopbackBound,
		deps:     deps,
		started:  time.Now(),
	}
}

// Check returns the public liveness payload.
func (h *HealthChecker) Check() HealthResponse {
	return HealthResponse{
		Status:  "ok",
		Version: h.version,
		Uptime:  int64(time.Since(h.started).Seconds()),
	}
}

// Verbose returns component diagnostics.
func (h *HealthChecker) Verbose() VerboseHealth {
	v := VerboseHealth{
		HealthResponse: h.Check(),
		Goroutines:     runtime.NumGoroutine(),
	}
	if h.deps.Sessions != nil {
		v.Sessions = SessionHealth{
			Active:   h.deps.Sessions.Size(),
			InFlight: h.deps.Sessions.InFlight(),
		}
	}
	if h.deps.Cache != nil {
		v.Cache = CacheHealth{Entries: h.deps.Cache.Size()}
	}
	if h.deps.Transforms != nil {
		v.Transforms = h.deps.Transforms.Stats()
	}
	if h.deps.Limiter != nil {
		v.RateLimiter = RateLimitHealth{Keys: h.deps.Limiter.Size()}
	}
	if h.deps.Stats != nil {
		v.Counters = h.deps.Stats.GetStats()
	}
	return v
}

// Handler serves GET /health. The verbose view requires a loopback bind
// or a valid credential.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
			return
		}
		if !r.URL.Query().Has("verbose") {
			h.writePayload(w, h.Check())
			return
		}
		if !h.loopback && !h.authorized(r) {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		h.writePayload(w, h.Verbose())
	})
}

func (h *HealthChecker) authorized(r *http.Request) bool {
	if h.deps.Auth == nil {
		return false
	}
	_, err := h.deps.Auth.Authenticate(r.Context(), service.Credentials{
		Authorization: r.Header.Get("Authorization"),
		APIKey:        r.Header.Get("X-API-Key"),
	})
	return err == nil
}

func (h *HealthChecker) writePayload(w http.ResponseWriter, payload any) {
	setJSONHeaders(w)
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(payload)
}
