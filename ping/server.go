package ping

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/pathcast/endpoint"
	"github.com/c360/pathcast/errors"
)

// Server answers ping requests on a unix-socket websocket endpoint. It holds
// the last published payload pair; the owning publisher updates it on every
// publish. Any number of concurrent clients may hold connections open.
type Server struct {
	mu      sync.RWMutex
	payload []byte
	display string

	socketPath string
	listener   net.Listener
	httpSrv    *http.Server
	upgrader   websocket.Upgrader
	logger     *slog.Logger

	// Upgraded connections are hijacked from the http server, so its Close
	// does not reach them. They are tracked here and closed explicitly;
	// otherwise a closed server would keep answering pings on connections
	// opened before Close, and liveness probes would never see it die.
	connMu sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool

	closeOnce sync.Once
}

// NewServer binds the ping endpoint at socketPath, seeded with the initial
// payload pair. The endpoint is live when NewServer returns.
func NewServer(socketPath string, payload []byte, display string) (*Server, error) {
	if err := endpoint.Prepare(socketPath); err != nil {
		return nil, err
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, errors.WrapFatal(err, "ping.Server", "NewServer", "binding unix socket")
	}

	s := &Server{
		payload:    append([]byte(nil), payload...),
		display:    display,
		socketPath: socketPath,
		listener:   ln,
		logger:     slog.With("component", "ping.server", "socket", socketPath),
		conns:      map[*websocket.Conn]struct{}{},
	}
	s.httpSrv = &http.Server{Handler: s}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Warn("ping server stopped", "error", err)
		}
	}()

	return s, nil
}

// ServeHTTP upgrades the connection and answers ping triggers until the
// client disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", "error", err)
		return
	}
	if !s.track(conn) {
		conn.Close()
		return
	}
	defer s.untrack(conn)

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage || string(msg) != trigger {
			s.logger.Debug("ignoring unexpected message", "type", msgType)
			continue
		}

		s.mu.RLock()
		resp := Response{
			Payload:   append([]byte(nil), s.payload...),
			Display:   s.display,
			Timestamp: time.Now().UTC(),
		}
		s.mu.RUnlock()

		data, err := json.Marshal(resp)
		if err != nil {
			s.logger.Warn("encoding response", "error", err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// SetPayload replaces the snapshot returned to subsequent pings.
func (s *Server) SetPayload(payload []byte, display string) {
	s.mu.Lock()
	s.payload = append(s.payload[:0], payload...)
	s.display = display
	s.mu.Unlock()
}

// track registers an upgraded connection. It reports false once the server
// is closed, so no handler keeps answering past Close.
func (s *Server) track(conn *websocket.Conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.connMu.Lock()
	delete(s.conns, conn)
	s.connMu.Unlock()
	conn.Close()
}

// Close shuts the endpoint down, including connections already upgraded, and
// removes the socket file. Open clients see their next read or ping fail.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.connMu.Lock()
		s.closed = true
		for conn := range s.conns {
			conn.Close()
		}
		s.connMu.Unlock()

		err = s.httpSrv.Close()
		_ = os.Remove(s.socketPath)
	})
	return err
}
