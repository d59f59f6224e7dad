// Package http provides the Streamable HTTP transport for superFetch.
//
// This package implements the inbound HTTP adapter following the MCP
// Streamable HTTP specification. It lets remote clients hold stateful
// MCP sessions over plain HTTP instead of stdio.
//
// # Usage
//
// Create and start an HTTP transport:
//
//	gateway := http.NewGateway(factory, sessions, logger, 0)
//	transport := http.NewTransport(gateway, authService,
//	    http.WithAddr("127.0.0.1:3000"),
//	    http.WithAllowedHosts([]string{"fetch.example.com"}),
//	    http.WithRateLimit(limiter, rateCfg),
//	    http.WithLogger(logger),
//	)
//	err := transport.Start(ctx)
//
// # Endpoints
//
//	POST /mcp     - Send a JSON-RPC message, receive its response
//	GET /mcp      - Open the SSE stream for server-initiated messages
//	DELETE /mcp   - Terminate the session named by Mcp-Session-Id
//	GET /health   - Liveness (verbose diagnostics gated)
//	GET /metrics  - Prometheus metrics
//	GET /mcp/downloads/{namespace}/{fingerprint} - Cached documents
//
// # Request Headers
//
//	Authorization: Bearer <token>      - Credential (all modes)
//	X-API-Key: <key>                   - Credential fallback (static mode)
//	Mcp-Session-Id: <uuid>             - Session identifier
//	Mcp-Protocol-Version: <date>       - One of 2025-11-25, 2025-03-26
//	Content-Type: application/json     - Required for POST bodies
//	Accept: text/event-stream          - Required for GET streams
//
// # Sessions
//
// A POST carrying an initialize request and no session id creates a
// session: the gateway reserves a capacity slot, builds a dedicated MCP
// server through the factory, runs the initialize round-trip under a
// timeout, and only then inserts the session record. The issued id is
// returned in Mcp-Session-Id and every later request must present it
// together with the credential that created the session; a different
// credential reads as session not found.
//
// # Security
//
//   - Host/Origin allowlist: rebinding protection for Host and Origin,
//     loopback always allowed
//   - Duplicate header rejection for session, auth, and framing headers
//   - Per-IP fixed-window rate limiting with Retry-After
//   - Bearer authentication on every route except /health
//   - TLS 1.2 minimum when certificates are configured
//
// # Middleware Chain
//
// Requests pass through middleware in this order:
//
//  1. MetricsMiddleware - request duration and status
//  2. RequestIDMiddleware - X-Request-ID echo/generate, logger enrichment
//  3. RecoveryMiddleware - panics become a 500 JSON envelope
//  4. RealIPMiddleware - client IP from proxy headers
//  5. DuplicateHeaderGuard - repeated single-value headers
//  6. HostOriginPolicy - Host/Origin allowlist
//  7. CORSMiddleware - CORS headers, preflight termination
//  8. RateLimitMiddleware - per-IP fixed window
//  9. Routes - health, metrics, downloads, and the session gateway
//
// # Server-Sent Events
//
// GET /mcp opens an SSE stream scoped to one session. The stream
// carries every server-initiated message (resource update notifications,
// server requests) as "data: <json>\n\n" events and ends when the
// session closes or the client disconnects.
package http
