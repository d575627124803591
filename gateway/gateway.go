// Package gateway exposes a node's local unix-socket endpoints over TCP.
// It accepts websocket connections on /stream/{path}/{kind} and /ping/{path},
// dials the matching socket under the node's endpoint directory, and pipes
// frames between the two until either side closes.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/c360/pathcast/config"
	"github.com/c360/pathcast/endpoint"
	"github.com/c360/pathcast/errors"
	"github.com/c360/pathcast/metric"
	"github.com/c360/pathcast/types"
)

const dialTimeout = 5 * time.Second

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithMetrics attaches substrate metrics to the gateway.
func WithMetrics(m *metric.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithMetricsHandler serves the given handler at /metrics, exposing the
// gateway's own collectors. Without it the route is proxied like any other.
func WithMetricsHandler(h http.Handler) Option {
	return func(g *Gateway) { g.metricsHandler = h }
}

// Gateway is the node's TCP front door for remote subscribers.
type Gateway struct {
	cfg            config.GatewayConfig
	logger         *slog.Logger
	metrics        *metric.Metrics
	metricsHandler http.Handler

	upgrader websocket.Upgrader

	server   *http.Server
	listener net.Listener
	started  atomic.Bool
	stopped  atomic.Bool
	serveErr chan error
}

// New creates a Gateway for the given configuration. The configuration must
// already be validated.
func New(cfg config.GatewayConfig, opts ...Option) *Gateway {
	g := &Gateway{
		cfg:    cfg,
		logger: slog.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Publishers decide who may subscribe; the gateway does not.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		serveErr: make(chan error, 1),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start binds the TCP listener and begins serving. It returns once the
// listener is bound; serving continues in the background until Stop.
func (g *Gateway) Start(ctx context.Context) error {
	if g.stopped.Load() {
		// One-shot lifecycle; a stopped gateway does not restart.
		return errors.ErrShuttingDown
	}
	if !g.started.CompareAndSwap(false, true) {
		return errors.ErrAlreadyStarted
	}

	addr := net.JoinHostPort(g.cfg.Host, fmt.Sprintf("%d", g.cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		g.started.Store(false)
		return errors.WrapFatal(err, "gateway", "Start", "binding listener")
	}
	g.listener = listener
	g.server = &http.Server{
		Handler:     g,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g.logger.Info("gateway listening",
		"addr", listener.Addr().String(),
		"socket_dir", g.cfg.SocketDir)

	go func() {
		err := g.server.Serve(listener)
		if err != nil && err != http.ErrServerClosed {
			g.serveErr <- err
		}
		close(g.serveErr)
	}()
	return nil
}

// Stop shuts the gateway down, closing the listener and any open pipes.
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.started.Load() {
		return errors.ErrAlreadyStopped
	}
	if !g.stopped.CompareAndSwap(false, true) {
		return errors.ErrAlreadyStopped
	}
	if err := g.server.Shutdown(ctx); err != nil {
		g.server.Close()
		return errors.Wrap(err, "gateway", "Stop", "shutting down server")
	}
	return nil
}

// Handle returns the connection handle remote clients should dial. Useful
// when the gateway was started on an OS-assigned port.
func (g *Gateway) Handle() types.ConnectionHandle {
	if g.listener == nil {
		return types.ConnectionHandle{}
	}
	tcpAddr, ok := g.listener.Addr().(*net.TCPAddr)
	if !ok {
		return types.ConnectionHandle{}
	}
	handle, err := types.LocalHandle(tcpAddr.Port)
	if err != nil {
		return types.NewConnectionHandle("127.0.0.1", tcpAddr.Port)
	}
	return handle
}

// ServeHTTP routes an incoming websocket request to its local endpoint.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.metricsHandler != nil && r.URL.Path == "/metrics" {
		g.metricsHandler.ServeHTTP(w, r)
		return
	}

	socketPath, kind, err := g.resolve(r.URL.Path)
	if err != nil {
		g.logger.Debug("rejecting request", "url", r.URL.Path, "error", err)
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	if _, err := os.Stat(socketPath); err != nil {
		http.Error(w, "no endpoint at path", http.StatusNotFound)
		return
	}

	connID := uuid.NewString()
	log := g.logger.With("conn_id", connID, "url", r.URL.Path, "kind", string(kind))

	upstream, err := g.dialSocket(r.Context(), socketPath)
	if err != nil {
		log.Warn("endpoint dial failed", "socket", socketPath, "error", err)
		http.Error(w, "endpoint unavailable", http.StatusBadGateway)
		return
	}

	client, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade writes the HTTP error itself.
		log.Warn("upgrade failed", "error", err)
		upstream.Close()
		return
	}

	if g.metrics != nil {
		g.metrics.GatewayPipesTotal.WithLabelValues(string(kind)).Inc()
		g.metrics.GatewayPipesOpen.Inc()
		defer g.metrics.GatewayPipesOpen.Dec()
	}

	log.Debug("pipe open")
	g.pipe(r.Context(), client, upstream)
	log.Debug("pipe closed")
}

// resolve maps a request path to the unix socket it proxies.
// /stream/{path}/{kind} and /ping/{path}.
func (g *Gateway) resolve(urlPath string) (string, endpoint.Kind, error) {
	trimmed := strings.Trim(urlPath, "/")
	route, rest, ok := strings.Cut(trimmed, "/")
	if !ok {
		return "", "", errors.ErrInvalidPath
	}

	switch route {
	case "ping":
		path, err := endpoint.Normalize(rest)
		if err != nil {
			return "", "", err
		}
		return endpoint.PingSocket(g.cfg.SocketDir, path), endpoint.KindPing, nil

	case "stream":
		idx := strings.LastIndex(rest, "/")
		if idx < 0 {
			return "", "", errors.ErrInvalidPath
		}
		kind := endpoint.Kind(rest[idx+1:])
		if kind != endpoint.KindBytes && kind != endpoint.KindString {
			return "", "", errors.ErrInvalidPath
		}
		path, err := endpoint.Normalize(rest[:idx])
		if err != nil {
			return "", "", err
		}
		return endpoint.StreamSocket(g.cfg.SocketDir, path, kind), kind, nil
	}
	return "", "", errors.ErrInvalidPath
}

// dialSocket opens a websocket connection to a local unix-socket endpoint.
func (g *Gateway) dialSocket(ctx context.Context, socketPath string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
		HandshakeTimeout: dialTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, "ws://local/", nil)
	if err != nil {
		return nil, errors.WrapTransient(err, "gateway", "dialSocket", "dialing endpoint")
	}
	return conn, nil
}

// pipe shuttles frames both ways until either side errors or ctx ends.
// Frame types are preserved so text ping triggers and binary stream
// payloads pass through untouched.
func (g *Gateway) pipe(ctx context.Context, client, upstream *websocket.Conn) {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error { return copyFrames(client, upstream) })
	group.Go(func() error { return copyFrames(upstream, client) })
	group.Go(func() error {
		<-ctx.Done()
		// Unblock both readers.
		client.Close()
		upstream.Close()
		return nil
	})

	group.Wait()
}

func copyFrames(dst, src *websocket.Conn) error {
	for {
		messageType, payload, err := src.ReadMessage()
		if err != nil {
			return err
		}
		if err := dst.WriteMessage(messageType, payload); err != nil {
			return err
		}
	}
}
