package http

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/superfetch/superfetch/internal/adapter/outbound/memory"
	"github.com/superfetch/superfetch/internal/domain/cache"
)

// newRoutingServer serves the transport's full handler chain over a
// test listener. Static token auth with "transport-token" guards the
// MCP routes.
func newRoutingServer(t *testing.T, opts ...Option) (*httptest.Server, *memory.MemorySessionStore) {
	t.Helper()

	gateway, store := newTestGateway(t, 4)
	opts = append([]Option{WithLogger(testHTTPLogger())}, opts...)
	tr := NewTransport(gateway, newStaticAuthService(t, "transport-token"), opts...)

	reg := prometheus.NewRegistry()
	tr.metrics = NewMetrics(reg, tr.sources)
	srv := httptest.NewServer(tr.buildHandler(reg))
	t.Cleanup(srv.Close)
	return srv, store
}

func TestTransportRouting(t *testing.T) {
	srv, _ := newRoutingServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		auth   bool
		want   int
	}{
		{"health is public", http.MethodGet, "/health", false, http.StatusOK},
		{"favicon", http.MethodGet, "/favicon.ico", false, http.StatusNoContent},
		{"unknown path", http.MethodGet, "/nope", false, http.StatusNotFound},
		{"mcp requires credential", http.MethodPost, "/mcp", false, http.StatusUnauthorized},
		{"downloads disabled without cache", http.MethodGet, "/mcp/downloads/markdown/fp", true, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, nil)
			if err != nil {
				t.Fatal(err)
			}
			if tt.auth {
				req.Header.Set("Authorization", "Bearer transport-token")
			}
			resp, err := srv.Client().Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.want {
				t.Errorf("%s %s status = %d, want %d", tt.method, tt.path, resp.StatusCode, tt.want)
			}
		})
	}
}

func TestTransportUnauthorizedChallenge(t *testing.T) {
	srv, _ := newRoutingServer(t)

	resp, err := srv.Client().Post(srv.URL+"/mcp", "application/json", strings.NewReader(initializeBody))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if got := resp.Header.Get("WWW-Authenticate"); got != "Bearer" {
		t.Errorf("WWW-Authenticate = %q, want Bearer", got)
	}
}

func TestTransportMetricsEndpoint(t *testing.T) {
	srv, _ := newRoutingServer(t)

	// Hit an ordinary route first so the request counter has a sample.
	resp, err := srv.Client().Get(srv.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	resp, err = srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "superfetch_requests_total") {
		t.Error("metrics exposition does not include superfetch_requests_total")
	}
}

func TestTransportMetricsRequireAuthOffLoopback(t *testing.T) {
	srv, _ := newRoutingServer(t, WithAddr("0.0.0.0:3000"))

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated scrape status = %d, want 401", resp.StatusCode)
	}

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/metrics", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer transport-token")
	resp, err = srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("credentialed scrape status = %d, want 200", resp.StatusCode)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:3000", true},
		{"localhost:3000", true},
		{"LOCALHOST:3000", true},
		{"[::1]:3000", true},
		{"127.0.0.1", true},
		{"0.0.0.0:3000", false},
		{"192.168.1.10:3000", false},
		{"example.com:3000", false},
		{":3000", false},
		{"", false},
	}
	for _, tc := range tests {
		if got := isLoopbackAddr(tc.addr); got != tc.want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", tc.addr, got, tc.want)
		}
	}
}

func TestTransportDownloadsRoute(t *testing.T) {
	stub := newDownloadStubCache()
	stub.Set(&cache.Entry{
		Key:       cache.Key{Namespace: cache.NamespaceMarkdown, Fingerprint: "fp"},
		Payload:   []byte("# Cached Page\n"),
		MIME:      "text/markdown; charset=utf-8",
		Title:     "Cached Page",
		ExpiresAt: time.Now().UTC().Add(time.Minute),
	})
	srv, _ := newRoutingServer(t, WithContentCache(stub))

	// The downloads route sits behind auth like the MCP route.
	resp, err := srv.Client().Get(srv.URL + "/mcp/downloads/markdown/fp")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/mcp/downloads/markdown/fp", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer transport-token")
	resp, err = srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "# Cached Page\n" {
		t.Errorf("body = %q, want the cached payload", body)
	}
}

func TestTransportOptions(t *testing.T) {
	tr := &Transport{}
	WithAddr("0.0.0.0:9999")(tr)
	WithTLS("cert.pem", "key.pem")(tr)
	WithAllowedHosts([]string{"example.com"})(tr)

	if tr.addr != "0.0.0.0:9999" {
		t.Errorf("addr = %q", tr.addr)
	}
	if tr.certFile != "cert.pem" || tr.keyFile != "key.pem" {
		t.Errorf("tls files = %q, %q", tr.certFile, tr.keyFile)
	}
	if len(tr.allowedHosts) != 1 || tr.allowedHosts[0] != "example.com" {
		t.Errorf("allowedHosts = %v", tr.allowedHosts)
	}
}

func TestTransportEndToEnd(t *testing.T) {
	srv, store := newRoutingServer(t)
	client := srv.Client()

	// Initialize a session.
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/mcp", strings.NewReader(initializeBody))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer transport-token")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	initBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("initialize status = %d, body = %s", resp.StatusCode, initBody)
	}
	sid := resp.Header.Get(sessionIDHeader)
	if sid == "" {
		t.Fatal("no session id header on initialize response")
	}
	if !strings.Contains(string(initBody), `"result"`) {
		t.Fatalf("initialize body = %s", initBody)
	}

	post := func(payload string) (*http.Response, string) {
		t.Helper()
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/mcp", strings.NewReader(payload))
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer transport-token")
		req.Header.Set(sessionIDHeader, sid)
		resp, err := client.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			t.Fatal(err)
		}
		return resp, string(body)
	}

	resp2, _ := post(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	if resp2.StatusCode != http.StatusAccepted {
		t.Fatalf("initialized notification status = %d, want 202", resp2.StatusCode)
	}

	resp3, body3 := post(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"fetch-url","arguments":{"url":"https://example.com/"}}}`)
	if resp3.StatusCode != http.StatusOK {
		t.Fatalf("tools/call status = %d, body = %s", resp3.StatusCode, body3)
	}
	if !strings.Contains(body3, "# Stub Document") {
		t.Fatalf("tools/call body = %s", body3)
	}

	// Open the SSE stream for the session.
	sseReq, err := http.NewRequest(http.MethodGet, srv.URL+"/mcp", nil)
	if err != nil {
		t.Fatal(err)
	}
	sseReq.Header.Set("Accept", "text/event-stream")
	sseReq.Header.Set(protocolVersionHeader, "2025-03-26")
	sseReq.Header.Set(sessionIDHeader, sid)
	sseReq.Header.Set("Authorization", "Bearer transport-token")
	sseResp, err := client.Do(sseReq)
	if err != nil {
		t.Fatal(err)
	}
	defer sseResp.Body.Close()

	if sseResp.StatusCode != http.StatusOK {
		t.Fatalf("SSE status = %d", sseResp.StatusCode)
	}
	if ct := sseResp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("SSE Content-Type = %q", ct)
	}

	reader := bufio.NewReader(sseResp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading SSE prelude: %v", err)
	}
	if !strings.HasPrefix(line, ": connected") {
		t.Fatalf("first SSE line = %q", line)
	}

	// Push a server-side notification through the stored conduit and
	// watch it arrive on the stream.
	record, ok := store.Get(sid)
	if !ok {
		t.Fatal("session not in store")
	}
	conduit, ok := record.Transport.(*sessionConduit)
	if !ok {
		t.Fatalf("transport type = %T", record.Transport)
	}
	if err := conduit.conn.Write(context.Background(), &jsonrpc.Request{Method: "notifications/message"}); err != nil {
		t.Fatalf("pushing notification: %v", err)
	}

	dataCh := make(chan string, 1)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			if strings.HasPrefix(line, "data: ") {
				dataCh <- line
				return
			}
		}
	}()

	select {
	case line := <-dataCh:
		if !strings.Contains(line, "notifications/message") {
			t.Errorf("SSE data line = %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no SSE event within 2 seconds")
	}

	// Tear the session down.
	delReq, err := http.NewRequest(http.MethodDelete, srv.URL+"/mcp", nil)
	if err != nil {
		t.Fatal(err)
	}
	delReq.Header.Set(sessionIDHeader, sid)
	delReq.Header.Set("Authorization", "Bearer transport-token")
	delResp, err := client.Do(delReq)
	if err != nil {
		t.Fatal(err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Errorf("DELETE status = %d, want 200", delResp.StatusCode)
	}
	if store.Size() != 0 {
		t.Errorf("store size = %d after delete, want 0", store.Size())
	}
}

func TestTransport_StartAndShutdown(t *testing.T) {
	gateway, _ := newTestGateway(t, 2)
	tr := NewTransport(gateway, newStaticAuthService(t, "transport-token"),
		WithAddr("127.0.0.1:0"),
		WithLogger(testHTTPLogger()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- tr.Start(ctx)
	}()

	// Give the server a moment to start
	time.Sleep(100 * time.Millisecond)

	// Cancel context to trigger shutdown
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return within 5 seconds after cancel")
	}
}
