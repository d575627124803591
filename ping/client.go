package ping

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/pathcast/errors"
)

// Client holds one persistent connection to a ping endpoint and issues
// request-response exchanges over it. A Client is safe for concurrent use;
// exchanges are serialized.
//
// The connection is not self-healing: after a transport error the Client is
// dead and the caller decides whether to dial a fresh one. The registry
// monitor treats a dead client as a failed probe and rebuilds it lazily; the
// subscriber surfaces the error.
type Client struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// Dial connects to a ping endpoint through a gateway URL
// (ws://host:port/ping/{path}).
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, errors.WrapTransient(errors.ErrConnectFailed, "ping.Client", "Dial", "dialing "+url)
	}
	return &Client{conn: conn}, nil
}

// DialSocket connects directly to a local unix-socket ping endpoint,
// bypassing the gateway for same-node access.
func DialSocket(ctx context.Context, socketPath string) (*Client, error) {
	dialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
	conn, resp, err := dialer.DialContext(ctx, "ws://local/ping", nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, errors.WrapTransient(errors.ErrConnectFailed, "ping.Client", "DialSocket", "dialing "+socketPath)
	}
	return &Client{conn: conn}, nil
}

// Ping sends the trigger and waits for one response. The context deadline
// bounds the round trip.
func (c *Client) Ping(ctx context.Context) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return Response{}, errors.WrapTransient(errors.ErrDisconnected, "ping.Client", "Ping", "setting write deadline")
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(trigger)); err != nil {
		return Response{}, errors.WrapTransient(errors.ErrDisconnected, "ping.Client", "Ping", "sending trigger")
	}

	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return Response{}, errors.WrapTransient(errors.ErrDisconnected, "ping.Client", "Ping", "setting read deadline")
	}
	msgType, msg, err := c.conn.ReadMessage()
	if err != nil {
		return Response{}, errors.WrapTransient(errors.ErrDisconnected, "ping.Client", "Ping", "reading response")
	}
	if msgType != websocket.TextMessage {
		return Response{}, errors.WrapInvalid(errors.ErrMalformedPayload, "ping.Client", "Ping", "unexpected frame type")
	}

	var resp Response
	if err := json.Unmarshal(msg, &resp); err != nil {
		return Response{}, errors.WrapInvalid(errors.ErrMalformedPayload, "ping.Client", "Ping", "decoding response")
	}
	return resp, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}
