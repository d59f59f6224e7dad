package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/superfetch/superfetch/internal/domain/session"
)

// channelBuffer sizes the per-session message channels. Writers block
// once a buffer fills, so the session loop applies backpressure to slow
// consumers instead of queueing without bound.
const channelBuffer = 10

// errConnClosed is returned by connection operations after Close.
var errConnClosed = errors.New("session connection closed")

// gatewayConnection implements mcp.Connection over HTTP round-trips.
// Client messages arrive through feed from POST bodies; the server
// session loop consumes them via Read. Responses the server writes are
// routed back to the waiting POST through the pending map; everything
// else (notifications, server-initiated requests) goes to outgoing for
// the SSE stream.
type gatewayConnection struct {
	sessionID string
	incoming  chan jsonrpc.Message
	outgoing  chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	pendingMu sync.Mutex
	pending   map[jsonrpc.ID]chan jsonrpc.Message
}

func newGatewayConnection(sessionID string) *gatewayConnection {
	return &gatewayConnection{
		sessionID: sessionID,
		incoming:  make(chan jsonrpc.Message, channelBuffer),
		outgoing:  make(chan []byte, channelBuffer),
		closed:    make(chan struct{}),
		pending:   make(map[jsonrpc.ID]chan jsonrpc.Message),
	}
}

// Read implements mcp.Connection. A closed connection reads as io.EOF
// so the server session shuts down cleanly.
func (c *gatewayConnection) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case msg := <-c.incoming:
		return msg, nil
	case <-c.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write implements mcp.Connection. Responses matching a pending request
// are handed to the waiting Deliver call; all other messages are
// encoded onto the stream.
func (c *gatewayConnection) Write(ctx context.Context, msg jsonrpc.Message) error {
	if resp, ok := msg.(*jsonrpc.Response); ok && resp.ID != (jsonrpc.ID{}) {
		c.pendingMu.Lock()
		ch, waiting := c.pending[resp.ID]
		if waiting {
			delete(c.pending, resp.ID)
		}
		c.pendingMu.Unlock()
		if waiting {
			ch <- msg // buffered; at most one response per id
			return nil
		}
		// The waiter gave up; the response rides the stream instead.
	}

	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	select {
	case c.outgoing <- data:
		return nil
	case <-c.closed:
		return errConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements mcp.Connection. Safe to call more than once.
// Consumers observe closure through the closed channel rather than
// channel teardown, so concurrent feeds never panic.
func (c *gatewayConnection) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	return nil
}

// SessionID implements mcp.Connection.
func (c *gatewayConnection) SessionID() string {
	return c.sessionID
}

// feed queues one client message for the server session loop.
func (c *gatewayConnection) feed(ctx context.Context, msg jsonrpc.Message) error {
	select {
	case c.incoming <- msg:
		return nil
	case <-c.closed:
		return errConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// registerPending creates the response channel for a request id.
func (c *gatewayConnection) registerPending(id jsonrpc.ID) chan jsonrpc.Message {
	ch := make(chan jsonrpc.Message, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	return ch
}

func (c *gatewayConnection) unregisterPending(id jsonrpc.ID) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

var _ mcp.Connection = (*gatewayConnection)(nil)

// sessionTransport hands a pre-built connection to mcp.Server.Connect.
type sessionTransport struct {
	conn mcp.Connection
}

func (t *sessionTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	return t.conn, nil
}

// sessionConduit is the session.Transport the gateway stores per MCP
// session. It bridges HTTP round-trips to the per-session server loop
// and owns the teardown of everything hanging off the session: the
// connection, the cache watcher, and the store record.
type sessionConduit struct {
	conn      *gatewayConnection
	stream    chan []byte
	stopWatch func()
	onClose   func()
	closeOnce sync.Once
}

// newSessionConduit wires a conduit around conn. stopWatch stops the
// session's cache watcher and onClose unlinks the session record; both
// may be nil. A pump goroutine owns the stream channel and closes it
// when the connection closes, which ends any SSE loop reading it.
func newSessionConduit(conn *gatewayConnection, stopWatch, onClose func()) *sessionConduit {
	s := &sessionConduit{
		conn:      conn,
		stream:    make(chan []byte, channelBuffer),
		stopWatch: stopWatch,
		onClose:   onClose,
	}
	go s.pump()
	return s
}

func (s *sessionConduit) pump() {
	defer close(s.stream)
	for {
		select {
		case data := <-s.conn.outgoing:
			select {
			case s.stream <- data:
			case <-s.conn.closed:
				return
			}
		case <-s.conn.closed:
			return
		}
	}
}

// SessionID implements session.Transport.
func (s *sessionConduit) SessionID() string {
	return s.conn.sessionID
}

// Deliver feeds one JSON-RPC payload to the session. Requests block
// until the matching response arrives or ctx is done; notifications and
// client responses return immediately with a nil payload.
func (s *sessionConduit) Deliver(ctx context.Context, payload []byte) ([]byte, error) {
	msg, err := jsonrpc.DecodeMessage(payload)
	if err != nil {
		return nil, fmt.Errorf("decoding message: %w", err)
	}

	req, isRequest := msg.(*jsonrpc.Request)
	if !isRequest || req.ID == (jsonrpc.ID{}) {
		// Notifications and client responses expect no reply.
		if err := s.conn.feed(ctx, msg); err != nil {
			return nil, err
		}
		return nil, nil
	}

	respChan := s.conn.registerPending(req.ID)
	defer s.conn.unregisterPending(req.ID)

	if err := s.conn.feed(ctx, msg); err != nil {
		return nil, err
	}

	select {
	case resp := <-respChan:
		return jsonrpc.EncodeMessage(resp)
	case <-s.conn.closed:
		return nil, errConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stream implements session.Transport. The channel closes when the
// conduit closes.
func (s *sessionConduit) Stream() <-chan []byte {
	return s.stream
}

// Close tears down the session. Idempotent: the store sweeper, the
// DELETE handler, and the server session's own exit path may all race
// to call it.
func (s *sessionConduit) Close() error {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
		if s.stopWatch != nil {
			s.stopWatch()
		}
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

var _ session.Transport = (*sessionConduit)(nil)
