package scribe

import (
	"context"
	"fmt"
	"net/http"

	"nhooyr.io/websocket"
)

// Credential authenticates one connection. The key travels in a dial header,
// never in the URL or message payloads.
type Credential struct {
	APIKey string
}

// Conn is one established provider connection. Implementations must allow
// Send and Recv from different goroutines, and Close from a third.
type Conn interface {
	Send(data []byte) error
	Recv() ([]byte, error)
	Close() error
}

// Dialer opens provider connections; swapped for a fake in tests.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, cred Credential) (Conn, error)
}

type wsConn struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// WSDialer dials the real provider over TLS websocket.
type WSDialer struct{}

func (WSDialer) Dial(ctx context.Context, endpoint string, cred Credential) (Conn, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Token "+cred.APIKey)

	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	conn, resp, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		cancel()
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %v", ErrAuth, err)
		}
		return nil, err
	}
	// Streams run long; a batch every 20ms plus the configure exchange can
	// exceed nhooyr's 32 KiB default over a slow link.
	conn.SetReadLimit(1 << 20)

	return &wsConn{conn: conn, ctx: connCtx, cancel: cancel}, nil
}

func (c *wsConn) Send(data []byte) error {
	return c.conn.Write(c.ctx, websocket.MessageText, data)
}

func (c *wsConn) Recv() ([]byte, error) {
	_, data, err := c.conn.Read(c.ctx)
	return data, err
}

func (c *wsConn) Close() error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
