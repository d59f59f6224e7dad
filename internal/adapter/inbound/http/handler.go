package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"

	"github.com/superfetch/superfetch/internal/adapter/inbound/mcpserver"
	"github.com/superfetch/superfetch/internal/domain/session"
)

// maxRequestBodySize is the maximum allowed request body size (1 MiB).
const maxRequestBodySize = 1 << 20

// DefaultInitTimeout bounds the initialize round-trip for new sessions.
const DefaultInitTimeout = 10 * time.Second

// Session and protocol headers. Lookup is case-insensitive; the
// constants carry the canonical spellings.
const (
	sessionIDHeader       = "Mcp-Session-Id"
	altSessionIDHeader    = "X-Mcp-Session-Id"
	protocolVersionHeader = "Mcp-Protocol-Version"
)

// supportedProtocolVersions is the set accepted in Mcp-Protocol-Version.
var supportedProtocolVersions = map[string]struct{}{
	"2025-11-25": {},
	"2025-03-26": {},
}

// Gateway terminates the MCP Streamable HTTP transport: it creates
// sessions on initialize, dispatches session-bound POSTs into the
// per-session server, streams server events over SSE, and tears
// sessions down on DELETE.
type Gateway struct {
	factory  *mcpserver.Factory
	sessions session.Store
	logger   *slog.Logger

	initTimeout time.Duration

	// lifeCtx parents every per-session server loop so sessions outlive
	// the requests that created them. Canceled by Shutdown.
	lifeCtx context.Context
	cancel  context.CancelFunc
}

// NewGateway creates a session gateway over the given server factory
// and session store. initTimeout <= 0 selects DefaultInitTimeout.
func NewGateway(factory *mcpserver.Factory, sessions session.Store, logger *slog.Logger, initTimeout time.Duration) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if initTimeout <= 0 {
		initTimeout = DefaultInitTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		factory:     factory,
		sessions:    sessions,
		logger:      logger,
		initTimeout: initTimeout,
		lifeCtx:     ctx,
		cancel:      cancel,
	}
}

// ServeHTTP routes by method. OPTIONS is answered by the CORS
// middleware before requests reach the gateway.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		g.handlePost(w, r)
	case http.MethodGet:
		g.handleGet(w, r)
	case http.MethodDelete:
		g.handleDelete(w, r)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	}
}

// handlePost validates one JSON-RPC message and routes it to an
// existing session or, for initialize without a session id, to session
// creation.
func (g *Gateway) handlePost(w http.ResponseWriter, r *http.Request) {
	logger := LoggerFromContext(r.Context())

	// A missing version header is accepted as the backward-compatible
	// default; a present one must be supported.
	if v := r.Header.Get(protocolVersionHeader); v != "" {
		if _, ok := supportedProtocolVersions[v]; !ok {
			writeJSONRPCError(w, http.StatusBadRequest, -32600, "Unsupported protocol version: "+v)
			return
		}
	}

	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "application/json") {
		writeJSONRPCError(w, http.StatusUnsupportedMediaType, -32700, "Parse error: Content-Type must be application/json")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer func() { _ = r.Body.Close() }()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeJSONRPCError(w, http.StatusRequestEntityTooLarge, -32700, "Parse error: request body exceeds 1 MiB")
			return
		}
		writeJSONRPCError(w, http.StatusBadRequest, -32700, "Parse error: failed to read request body")
		return
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		writeJSONRPCError(w, http.StatusBadRequest, -32700, "Parse error: empty request body")
		return
	}
	if !json.Valid(body) {
		writeJSONRPCError(w, http.StatusBadRequest, -32700, "Parse error: invalid JSON")
		return
	}
	if bytes.HasPrefix(body, []byte("[")) {
		writeJSONRPCError(w, http.StatusBadRequest, -32600, "Batch requests are not supported")
		return
	}

	msg, err := jsonrpc.DecodeMessage(body)
	if err != nil {
		writeJSONRPCError(w, http.StatusBadRequest, -32600, "Invalid Request")
		return
	}

	fingerprint, ok := authFingerprintFrom(r.Context())
	if !ok {
		writeJSONRPCError(w, http.StatusInternalServerError, -32603, "Internal error: missing auth context")
		return
	}

	if sessionID := sessionIDFrom(r); sessionID != "" {
		rec, ok := g.sessions.Get(sessionID)
		if !ok || rec.AuthFingerprint != fingerprint {
			writeJSONRPCError(w, http.StatusNotFound, -32600, "Session not found")
			return
		}
		g.sessions.Touch(sessionID)
		g.dispatch(w, r, rec, body, logger)
		return
	}

	req, isRequest := msg.(*jsonrpc.Request)
	if !isRequest || req.Method != "initialize" || req.ID == (jsonrpc.ID{}) {
		writeJSONRPCError(w, http.StatusBadRequest, -32600, "Missing session ID")
		return
	}
	g.createSession(w, r, fingerprint, body, logger)
}

// dispatch feeds one message into an established session and relays the
// outcome. Messages expecting no response are acknowledged with 202.
func (g *Gateway) dispatch(w http.ResponseWriter, r *http.Request, rec *session.Record, body []byte, logger *slog.Logger) {
	respBody, err := rec.Transport.Deliver(r.Context(), body)
	if err != nil {
		if r.Context().Err() != nil {
			return // client went away; nothing to write
		}
		logger.Warn("session dispatch failed", "session_id", rec.ID, "error", err)
		writeJSONRPCError(w, http.StatusInternalServerError, -32603, "Internal error")
		return
	}

	w.Header().Set(sessionIDHeader, rec.ID)
	if respBody == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusOK, respBody)
}

// createSession admits, connects, and initializes a new MCP session.
// Admission evicts the idlest session once when at capacity. The
// reserved slot is released exactly once on every path; release is
// idempotent.
func (g *Gateway) createSession(w http.ResponseWriter, r *http.Request, fingerprint string, body []byte, logger *slog.Logger) {
	release, ok := g.sessions.ReserveSlot()
	if !ok {
		if evicted, found := g.sessions.EvictOldest(); found {
			logger.Info("evicted idlest session for capacity", "session_id", evicted.ID)
			if evicted.Transport != nil {
				_ = evicted.Transport.Close()
			}
			release, ok = g.sessions.ReserveSlot()
		}
	}
	if !ok {
		writeJSONRPCError(w, http.StatusServiceUnavailable, -32000, "Server busy: session limit reached")
		return
	}
	defer release()

	id := session.NewID()
	conduit, err := g.connectSession(id)
	if err != nil {
		logger.Error("connecting session failed", "session_id", id, "error", err)
		writeJSONRPCError(w, http.StatusInternalServerError, -32603, "Session initialization failed")
		return
	}

	initCtx, cancel := context.WithTimeout(r.Context(), g.initTimeout)
	defer cancel()

	respBody, err := conduit.Deliver(initCtx, body)
	if err != nil || respBody == nil {
		_ = conduit.Close()
		if r.Context().Err() != nil {
			return
		}
		logger.Warn("session initialize failed", "session_id", id, "error", err)
		writeJSONRPCError(w, http.StatusInternalServerError, -32603, "Session initialization failed")
		return
	}

	// A JSON-RPC error means the server refused the handshake; relay it
	// without registering the session.
	if isErrorResponse(respBody) {
		_ = conduit.Close()
		writeJSON(w, http.StatusOK, respBody)
		return
	}

	now := time.Now().UTC()
	g.sessions.Set(&session.Record{
		ID:                  id,
		Transport:           conduit,
		AuthFingerprint:     fingerprint,
		CreatedAt:           now,
		LastSeen:            now,
		ProtocolInitialized: true,
	})

	logger.Info("session created", "session_id", id)
	w.Header().Set(sessionIDHeader, id)
	writeJSON(w, http.StatusOK, respBody)
}

// connectSession builds the per-session server and its conduit. The
// server loop runs on the gateway's lifetime context so it survives the
// creating request; when the loop exits on its own, the trailing close
// pulls the record out of the store.
func (g *Gateway) connectSession(id string) (*sessionConduit, error) {
	conn := newGatewayConnection(id)
	srv := g.factory.NewServer()

	sess, err := srv.Connect(g.lifeCtx, &sessionTransport{conn: conn}, nil)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	stopWatch := g.factory.WatchCache(srv)
	conduit := newSessionConduit(conn, stopWatch, func() {
		g.sessions.Remove(id)
	})

	go func() {
		_ = sess.Wait()
		_ = conduit.Close()
	}()

	return conduit, nil
}

// handleGet opens the SSE stream carrying server-initiated messages for
// an established session.
func (g *Gateway) handleGet(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		writeJSONRPCError(w, http.StatusNotAcceptable, -32600, "Accept must include text/event-stream")
		return
	}
	v := r.Header.Get(protocolVersionHeader)
	if v == "" {
		writeJSONRPCError(w, http.StatusBadRequest, -32600, "Missing protocol version")
		return
	}
	if _, ok := supportedProtocolVersions[v]; !ok {
		writeJSONRPCError(w, http.StatusBadRequest, -32600, "Unsupported protocol version: "+v)
		return
	}

	fingerprint, ok := authFingerprintFrom(r.Context())
	if !ok {
		writeJSONRPCError(w, http.StatusInternalServerError, -32603, "Internal error: missing auth context")
		return
	}
	sessionID := sessionIDFrom(r)
	if sessionID == "" {
		writeJSONRPCError(w, http.StatusBadRequest, -32600, "Missing session ID")
		return
	}
	rec, ok := g.sessions.Get(sessionID)
	if !ok || rec.AuthFingerprint != fingerprint {
		writeJSONRPCError(w, http.StatusNotFound, -32600, "Session not found")
		return
	}
	g.sessions.Touch(sessionID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(sessionIDHeader, rec.ID)
	// Open the stream before the first event so clients see the
	// connection immediately.
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	stream := rec.Transport.Stream()
	for {
		select {
		case <-r.Context().Done():
			return
		case payload, ok := <-stream:
			if !ok {
				return
			}
			_, _ = fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// handleDelete closes the session named by the header. Always answers
// 200: a missing or foreign session id discloses nothing.
func (g *Gateway) handleDelete(w http.ResponseWriter, r *http.Request) {
	logger := LoggerFromContext(r.Context())

	fingerprint, _ := authFingerprintFrom(r.Context())
	if sessionID := sessionIDFrom(r); sessionID != "" {
		if rec, ok := g.sessions.Get(sessionID); ok && rec.AuthFingerprint == fingerprint {
			g.sessions.Remove(sessionID)
			if rec.Transport != nil {
				_ = rec.Transport.Close()
			}
			logger.Info("session closed by client", "session_id", sessionID)
		}
	}
	w.WriteHeader(http.StatusOK)
}

// Shutdown closes every live session and stops their server loops.
func (g *Gateway) Shutdown() {
	for _, rec := range g.sessions.Clear() {
		if rec.Transport != nil {
			_ = rec.Transport.Close()
		}
	}
	g.cancel()
}

// sessionIDFrom reads the session id from either accepted header.
func sessionIDFrom(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(sessionIDHeader)); id != "" {
		return id
	}
	return strings.TrimSpace(r.Header.Get(altSessionIDHeader))
}

// isErrorResponse reports whether body is a JSON-RPC error response.
func isErrorResponse(body []byte) bool {
	var probe struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	return len(probe.Error) > 0 && !bytes.Equal(probe.Error, []byte("null"))
}

// jsonRPCError is the JSON-RPC 2.0 error envelope for transport-level
// failures. The id is always null: these errors occur before a request
// reaches a session.
type jsonRPCError struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      any               `json:"id"`
	Error   jsonRPCErrorField `json:"error"`
}

type jsonRPCErrorField struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// writeJSONRPCError writes a JSON-RPC error envelope at the given HTTP
// status.
func writeJSONRPCError(w http.ResponseWriter, status, code int, message string) {
	setJSONHeaders(w)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(jsonRPCError{
		JSONRPC: "2.0",
		ID:      nil,
		Error:   jsonRPCErrorField{Code: code, Message: message},
	})
}

// writeJSON writes a pre-encoded JSON body.
func writeJSON(w http.ResponseWriter, status int, body []byte) {
	setJSONHeaders(w)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeJSONError writes the plain JSON error envelope used outside the
// JSON-RPC surface.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	setJSONHeaders(w)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// setJSONHeaders applies the headers every JSON response carries.
func setJSONHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "no-store")
}
