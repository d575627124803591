// Package stream implements the broadcast stream layer: a single-producer,
// multi-consumer server with drop-on-slow-consumer semantics, and an
// auto-reconnecting client. One server instance exists per published encoding
// (bytes or string); fan-out happens here and nowhere else.
package stream

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/c360/pathcast/endpoint"
	"github.com/c360/pathcast/errors"
	"github.com/c360/pathcast/pkg/buffer"
)

// DefaultQueueCapacity is the per-consumer queue depth. A consumer that falls
// further behind than this loses its oldest messages.
const DefaultQueueCapacity = 256

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithQueueCapacity overrides the per-consumer queue depth.
func WithQueueCapacity(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.queueCap = n
		}
	}
}

// WithOnBroadcast registers a callback invoked once per Broadcast call,
// after fan-out. Used to feed metrics counters.
func WithOnBroadcast(fn func()) ServerOption {
	return func(s *Server) { s.onBroadcast = fn }
}

// WithOnDrop registers a callback invoked once per message dropped for a slow
// consumer.
func WithOnDrop(fn func()) ServerOption {
	return func(s *Server) { s.onDrop = fn }
}

// Server broadcasts messages to every connected consumer over a unix-socket
// websocket endpoint. Exactly one producer (the owning publisher) calls
// Broadcast; publish latency never depends on consumer count or speed because
// each consumer has its own DropOldest queue.
type Server struct {
	socketPath string
	listener   net.Listener
	httpSrv    *http.Server
	upgrader   websocket.Upgrader
	logger     *slog.Logger

	queueCap    int
	onBroadcast func()
	onDrop      func()

	mu        sync.Mutex
	consumers map[uint64]buffer.Queue[[]byte]
	nextID    uint64
	closed    bool

	drops     atomic.Uint64
	closeOnce sync.Once
}

// NewServer binds a broadcast endpoint at socketPath. The endpoint accepts
// consumers as soon as NewServer returns.
func NewServer(socketPath string, opts ...ServerOption) (*Server, error) {
	if err := endpoint.Prepare(socketPath); err != nil {
		return nil, err
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, errors.WrapFatal(err, "stream.Server", "NewServer", "binding unix socket")
	}

	s := &Server{
		socketPath: socketPath,
		listener:   ln,
		logger:     slog.With("component", "stream.server", "socket", socketPath),
		queueCap:   DefaultQueueCapacity,
		consumers:  make(map[uint64]buffer.Queue[[]byte]),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.httpSrv = &http.Server{Handler: s}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Warn("stream server stopped", "error", err)
		}
	}()

	return s, nil
}

// Broadcast pushes msg to every currently connected consumer. Never blocks on
// consumers; a full consumer queue drops its oldest message. Within one
// server, delivery order equals Broadcast call order.
func (s *Server) Broadcast(msg []byte) error {
	// Copy once; consumer queues share the slice read-only.
	out := append([]byte(nil), msg...)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "stream.Server", "Broadcast", "server closed")
	}
	for _, q := range s.consumers {
		_ = q.Write(out) // DropOldest: never blocks
	}
	s.mu.Unlock()

	if s.onBroadcast != nil {
		s.onBroadcast()
	}
	return nil
}

// ConsumerCount returns the number of currently connected consumers.
func (s *Server) ConsumerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.consumers)
}

// Drops returns the total messages lost to slow consumers.
func (s *Server) Drops() uint64 {
	return s.drops.Load()
}

// ServeHTTP upgrades a consumer connection and forwards broadcasts to it
// until either side disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", "error", err)
		return
	}

	q, err := buffer.NewRing[[]byte](s.queueCap,
		buffer.WithOverflowPolicy[[]byte](buffer.DropOldest),
		buffer.WithDropCallback[[]byte](func([]byte) {
			s.drops.Add(1)
			if s.onDrop != nil {
				s.onDrop()
			}
		}),
	)
	if err != nil {
		conn.Close()
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	id := s.nextID
	s.nextID++
	s.consumers[id] = q
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.consumers, id)
		s.mu.Unlock()
		q.Close()
		conn.Close()
	}()

	// Reader goroutine: consumers never send data; this just notices closes.
	readerGone := make(chan struct{})
	go func() {
		defer close(readerGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		<-readerGone
		cancel()
	}()

	for {
		msg, err := q.ReadWait(ctx)
		if err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			// Consumer disconnected; only this consumer is affected.
			return
		}
	}
}

// Close shuts the endpoint down, disconnects all consumers and removes the
// socket file.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		for _, q := range s.consumers {
			q.Close()
		}
		s.mu.Unlock()

		err = s.httpSrv.Close()
		_ = os.Remove(s.socketPath)
	})
	return err
}
