package stream

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/pathcast/errors"
	"github.com/c360/pathcast/pkg/buffer"
	"github.com/c360/pathcast/pkg/retry"
)

// DefaultReconnectBackoff is the fixed interval between reconnect attempts.
const DefaultReconnectBackoff = 100 * time.Millisecond

// DialFunc establishes one websocket connection to a stream endpoint.
type DialFunc func(ctx context.Context) (*websocket.Conn, error)

// DialURL returns a DialFunc for a gateway stream URL
// (ws://host:port/stream/{path}/{kind}).
func DialURL(url string) DialFunc {
	return func(ctx context.Context) (*websocket.Conn, error) {
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			return nil, errors.WrapTransient(errors.ErrConnectFailed, "stream.Client", "DialURL", "dialing "+url)
		}
		return conn, nil
	}
}

// DialSocket returns a DialFunc for a local unix-socket stream endpoint,
// bypassing the gateway for same-node access.
func DialSocket(socketPath string) DialFunc {
	return func(ctx context.Context) (*websocket.Conn, error) {
		dialer := websocket.Dialer{
			NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		}
		conn, resp, err := dialer.DialContext(ctx, "ws://local/stream", nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			return nil, errors.WrapTransient(errors.ErrConnectFailed, "stream.Client", "DialSocket", "dialing "+socketPath)
		}
		return conn, nil
	}
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithReconnectBackoff overrides the fixed reconnect interval.
func WithReconnectBackoff(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.backoff = d
		}
	}
}

// WithClientQueueCapacity overrides the per-subscription queue depth.
func WithClientQueueCapacity(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.queueCap = n
		}
	}
}

// Client consumes a broadcast stream with transparent reconnection: connect,
// run until error, sleep the fixed backoff, retry, until Close.
// Reconnection does not guarantee lossless delivery across the gap; messages
// published while disconnected are gone.
//
// Multiple local subscriptions fan out from one connection, each with its own
// drop-policy queue.
type Client struct {
	dial     DialFunc
	backoff  time.Duration
	queueCap int
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}

	mu     sync.Mutex
	subs   map[uint64]buffer.Queue[[]byte]
	nextID uint64
	closed bool
}

// NewClient starts the connection loop immediately and returns. Messages that
// arrive before the first Subscribe call are discarded.
func NewClient(dial DialFunc, opts ...ClientOption) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		dial:     dial,
		backoff:  DefaultReconnectBackoff,
		queueCap: DefaultQueueCapacity,
		logger:   slog.With("component", "stream.client"),
		cancel:   cancel,
		done:     make(chan struct{}),
		subs:     make(map[uint64]buffer.Queue[[]byte]),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.run(ctx)
	return c
}

// run is the resilient-connection loop: one retry.Do drives both initial
// connection failures and mid-stream disconnects at the same fixed interval.
func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	_ = retry.Do(ctx, retry.Fixed(c.backoff), func() error {
		conn, err := c.dial(ctx)
		if err != nil {
			c.logger.Debug("connect failed, will retry", "error", err)
			return err
		}
		defer conn.Close()

		// Tie the blocking read loop to ctx so Close interrupts it.
		go func() {
			<-ctx.Done()
			conn.Close()
		}()

		for {
			msgType, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					return retry.NonRetryable(ctx.Err())
				}
				c.logger.Debug("stream disconnected, will retry", "error", err)
				return errors.WrapTransient(errors.ErrDisconnected, "stream.Client", "run", "reading stream")
			}
			if msgType != websocket.BinaryMessage {
				continue
			}
			c.deliver(msg)
		}
	})
}

func (c *Client) deliver(msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, q := range c.subs {
		_ = q.Write(msg)
	}
}

// Subscription yields the message sequence to one local consumer.
type Subscription struct {
	q      buffer.Queue[[]byte]
	cancel func()
	once   sync.Once
}

// Next blocks until the next message, subscription close (buffer.ErrClosed),
// or ctx cancellation.
func (s *Subscription) Next(ctx context.Context) ([]byte, error) {
	return s.q.ReadWait(ctx)
}

// Close detaches the subscription from the client.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

// Subscribe attaches a new independent subscription. Each subscription sees
// messages delivered after it attaches.
func (c *Client) Subscribe() (*Subscription, error) {
	q, err := buffer.NewRing[[]byte](c.queueCap,
		buffer.WithOverflowPolicy[[]byte](buffer.DropOldest))
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		q.Close()
		return nil, errors.WrapInvalid(errors.ErrAlreadyStopped, "stream.Client", "Subscribe", "client closed")
	}
	id := c.nextID
	c.nextID++
	c.subs[id] = q
	c.mu.Unlock()

	return &Subscription{
		q: q,
		cancel: func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			q.Close()
		},
	}, nil
}

// Close stops the connection loop and closes all subscriptions.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := make([]buffer.Queue[[]byte], 0, len(c.subs))
	for _, q := range c.subs {
		subs = append(subs, q)
	}
	c.subs = make(map[uint64]buffer.Queue[[]byte])
	c.mu.Unlock()

	c.cancel()
	for _, q := range subs {
		q.Close()
	}
	<-c.done
	return nil
}
