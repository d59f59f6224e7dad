package http

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"go.uber.org/goleak"
)

func mustMakeID(t *testing.T, v any) jsonrpc.ID {
	t.Helper()
	id, err := jsonrpc.MakeID(v)
	if err != nil {
		t.Fatalf("MakeID(%v): %v", v, err)
	}
	return id
}

// echoSessionLoop drains the connection like a server session would,
// answering every request with an empty response. It exits when the
// connection closes.
func echoSessionLoop(conn *gatewayConnection) {
	ctx := context.Background()
	for {
		msg, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if req, ok := msg.(*jsonrpc.Request); ok && req.ID != (jsonrpc.ID{}) {
			_ = conn.Write(ctx, &jsonrpc.Response{ID: req.ID})
		}
	}
}

func TestGatewayConnectionReadAfterClose(t *testing.T) {
	conn := newGatewayConnection("s1")
	_ = conn.Close()

	if _, err := conn.Read(context.Background()); err != io.EOF {
		t.Errorf("Read after close = %v, want io.EOF", err)
	}
	if conn.SessionID() != "s1" {
		t.Errorf("SessionID = %q, want s1", conn.SessionID())
	}
}

func TestGatewayConnectionFeedToRead(t *testing.T) {
	conn := newGatewayConnection("s1")
	defer func() { _ = conn.Close() }()
	ctx := context.Background()

	want := &jsonrpc.Request{ID: mustMakeID(t, float64(1)), Method: "ping"}
	if err := conn.feed(ctx, want); err != nil {
		t.Fatalf("feed: %v", err)
	}
	got, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != jsonrpc.Message(want) {
		t.Errorf("Read = %v, want the fed message", got)
	}
}

func TestGatewayConnectionWriteRoutesPendingResponse(t *testing.T) {
	conn := newGatewayConnection("s1")
	defer func() { _ = conn.Close() }()
	ctx := context.Background()

	id := mustMakeID(t, "req-1")
	respChan := conn.registerPending(id)

	if err := conn.Write(ctx, &jsonrpc.Response{ID: id}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case msg := <-respChan:
		resp, ok := msg.(*jsonrpc.Response)
		if !ok || resp.ID != id {
			t.Errorf("routed message = %v, want response with matching id", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for the pending response")
	}

	// Nothing should have leaked onto the stream.
	select {
	case data := <-conn.outgoing:
		t.Errorf("response leaked to outgoing: %s", data)
	default:
	}
}

func TestGatewayConnectionWriteNotificationToOutgoing(t *testing.T) {
	conn := newGatewayConnection("s1")
	defer func() { _ = conn.Close() }()
	ctx := context.Background()

	note := &jsonrpc.Request{Method: "notifications/resources/updated"}
	if err := conn.Write(ctx, note); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case data := <-conn.outgoing:
		if !strings.Contains(string(data), "notifications/resources/updated") {
			t.Errorf("outgoing payload = %s", data)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for the notification on outgoing")
	}
}

func TestGatewayConnectionAbandonedResponseRidesStream(t *testing.T) {
	conn := newGatewayConnection("s1")
	defer func() { _ = conn.Close() }()
	ctx := context.Background()

	// No pending entry for this id: the waiter already gave up.
	id := mustMakeID(t, "late-1")
	if err := conn.Write(ctx, &jsonrpc.Response{ID: id}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case data := <-conn.outgoing:
		if !strings.Contains(string(data), "late-1") {
			t.Errorf("outgoing payload = %s", data)
		}
	case <-time.After(time.Second):
		t.Fatal("late response did not ride the stream")
	}
}

func TestGatewayConnectionCloseIdempotent(t *testing.T) {
	conn := newGatewayConnection("s1")
	if err := conn.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	ctx := context.Background()
	if err := conn.feed(ctx, &jsonrpc.Request{Method: "ping"}); !errors.Is(err, errConnClosed) {
		t.Errorf("feed after close = %v, want errConnClosed", err)
	}
	if err := conn.Write(ctx, &jsonrpc.Request{Method: "notifications/x"}); !errors.Is(err, errConnClosed) {
		t.Errorf("Write after close = %v, want errConnClosed", err)
	}
}

func TestSessionConduitDeliverRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)

	conn := newGatewayConnection("s1")
	conduit := newSessionConduit(conn, nil, nil)
	defer func() { _ = conduit.Close() }()
	go echoSessionLoop(conn)

	resp, err := conduit.Deliver(context.Background(), []byte(`{"jsonrpc":"2.0","id":7,"method":"ping"}`))
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if resp == nil {
		t.Fatal("Deliver returned no response for a request")
	}
	if !strings.Contains(string(resp), `"id":7`) {
		t.Errorf("response = %s, want id 7", resp)
	}
}

func TestSessionConduitDeliverNotification(t *testing.T) {
	defer goleak.VerifyNone(t)

	conn := newGatewayConnection("s1")
	conduit := newSessionConduit(conn, nil, nil)
	defer func() { _ = conduit.Close() }()

	resp, err := conduit.Deliver(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if resp != nil {
		t.Errorf("notification response = %s, want none", resp)
	}

	// The message still reached the session loop side.
	msg, err := conn.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if req, ok := msg.(*jsonrpc.Request); !ok || req.Method != "notifications/initialized" {
		t.Errorf("session read %v, want the notification", msg)
	}
}

func TestSessionConduitDeliverMalformedPayload(t *testing.T) {
	conn := newGatewayConnection("s1")
	conduit := newSessionConduit(conn, nil, nil)
	defer func() { _ = conduit.Close() }()

	if _, err := conduit.Deliver(context.Background(), []byte(`{"jsonrpc":`)); err == nil {
		t.Error("expected a decode error")
	}
}

func TestSessionConduitDeliverHonorsContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	conn := newGatewayConnection("s1")
	conduit := newSessionConduit(conn, nil, nil)
	defer func() { _ = conduit.Close() }()

	// Nobody reads the connection; the request can never be answered.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := conduit.Deliver(ctx, []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Deliver = %v, want deadline exceeded", err)
	}

	// The pending entry was unregistered on the way out.
	conn.pendingMu.Lock()
	pending := len(conn.pending)
	conn.pendingMu.Unlock()
	if pending != 0 {
		t.Errorf("pending entries after timeout = %d, want 0", pending)
	}
}

func TestSessionConduitStreamCarriesServerTraffic(t *testing.T) {
	defer goleak.VerifyNone(t)

	conn := newGatewayConnection("s1")
	conduit := newSessionConduit(conn, nil, nil)
	defer func() { _ = conduit.Close() }()

	note := &jsonrpc.Request{Method: "notifications/resources/updated"}
	if err := conn.Write(context.Background(), note); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case data := <-conduit.Stream():
		if !strings.Contains(string(data), "notifications/resources/updated") {
			t.Errorf("stream payload = %s", data)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for the stream payload")
	}
}

func TestSessionConduitStreamClosesOnClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	conn := newGatewayConnection("s1")
	conduit := newSessionConduit(conn, nil, nil)

	if err := conduit.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case _, ok := <-conduit.Stream():
		if ok {
			t.Error("stream delivered a payload after close")
		}
	case <-time.After(time.Second):
		t.Fatal("stream did not close")
	}
}

func TestSessionConduitCloseRunsHooksOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	var watches, unlinks atomic.Int32
	conn := newGatewayConnection("s1")
	conduit := newSessionConduit(conn,
		func() { watches.Add(1) },
		func() { unlinks.Add(1) },
	)

	if err := conduit.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := conduit.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if got := watches.Load(); got != 1 {
		t.Errorf("stopWatch calls = %d, want 1", got)
	}
	if got := unlinks.Load(); got != 1 {
		t.Errorf("onClose calls = %d, want 1", got)
	}
}
