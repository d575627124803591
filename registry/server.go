package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/pathcast/config"
	"github.com/c360/pathcast/errors"
	"github.com/c360/pathcast/metric"
	"github.com/c360/pathcast/types"
)

// Error codes carried in RPC error bodies. The client maps them back to the
// sentinel errors, so callers on either side of the wire see the same values.
const (
	codeEmptyPath          = "empty_path"
	codeInvalidPath        = "invalid_path"
	codeDuplicatePath      = "duplicate_path"
	codeHierarchyViolation = "hierarchy_violation"
	codeNotFound           = "not_found"
	codeInternal           = "internal"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type registerRequest struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger. Defaults to slog.Default.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithServerMonitorOptions passes options through to the liveness monitor,
// mainly so tests can inject a mock clock or prober.
func WithServerMonitorOptions(opts ...MonitorOption) ServerOption {
	return func(s *Server) { s.monitorOpts = opts }
}

// Server is the registry RPC surface: registration, lookup, removal, the
// path-tree snapshot and prometheus metrics, with the liveness monitor
// running alongside.
type Server struct {
	cfg     config.RegistryConfig
	logger  *slog.Logger
	metrics *metric.Metrics

	state       *State
	monitor     *Monitor
	monitorOpts []MonitorOption

	server   *http.Server
	listener net.Listener
	started  atomic.Bool
	stopped  atomic.Bool
}

// NewServer creates a registry server. The configuration must already be
// validated.
func NewServer(cfg config.RegistryConfig, opts ...ServerOption) (*Server, error) {
	metrics, promReg, err := metric.NewRegistered()
	if err != nil {
		return nil, errors.WrapFatal(err, "registry", "NewServer", "registering metrics")
	}

	s := &Server{
		cfg:     cfg,
		logger:  slog.Default(),
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.state = NewState(metrics)
	s.monitor = NewMonitor(s.state, cfg, s.monitorOpts...)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/publishers", s.handleRegister)
	mux.HandleFunc("GET /v1/publishers/{path...}", s.handleLookup)
	mux.HandleFunc("DELETE /v1/publishers/{path...}", s.handleRemove)
	mux.HandleFunc("GET /v1/tree", s.handleTree)
	mux.Handle("GET /metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	s.server = &http.Server{Handler: mux}

	return s, nil
}

// State exposes the registration table, for embedding the registry in-process.
func (s *Server) State() *State { return s.state }

// Start binds the listener and begins serving and sweeping.
func (s *Server) Start(ctx context.Context) error {
	if s.stopped.Load() {
		// One-shot lifecycle; a stopped server does not restart.
		return errors.ErrShuttingDown
	}
	if !s.started.CompareAndSwap(false, true) {
		return errors.ErrAlreadyStarted
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.started.Store(false)
		return errors.WrapFatal(err, "registry", "Start", "binding listener")
	}
	s.listener = listener
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }

	s.monitor.Start(ctx)

	s.logger.Info("registry listening",
		"addr", listener.Addr().String(),
		"probe_interval", s.cfg.ProbeInterval().String())

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("registry serve failed", "error", err)
		}
	}()
	return nil
}

// Stop halts the monitor and shuts the RPC surface down.
func (s *Server) Stop(ctx context.Context) error {
	if !s.started.Load() {
		return errors.ErrAlreadyStopped
	}
	if !s.stopped.CompareAndSwap(false, true) {
		return errors.ErrAlreadyStopped
	}

	s.monitor.Stop()
	if err := s.server.Shutdown(ctx); err != nil {
		s.server.Close()
		return errors.Wrap(err, "registry", "Stop", "shutting down server")
	}
	return nil
}

// Handle returns the connection handle clients should dial. Useful when the
// server was started on an OS-assigned port.
func (s *Server) Handle() types.ConnectionHandle {
	if s.listener == nil {
		return types.ConnectionHandle{}
	}
	tcpAddr, ok := s.listener.Addr().(*net.TCPAddr)
	if !ok {
		return types.ConnectionHandle{}
	}
	handle, err := types.LocalHandle(tcpAddr.Port)
	if err != nil {
		return types.NewConnectionHandle("127.0.0.1", tcpAddr.Port)
	}
	return handle
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidPath, "malformed request body")
		return
	}

	record, err := s.state.Register(req.Name, req.Path, types.NewConnectionHandle(req.Host, req.Port))
	if err != nil {
		s.logger.Debug("registration rejected", "path", req.Path, "error", err)
		writeRegistryError(w, err)
		return
	}

	s.logger.Info("publisher registered",
		"path", record.Path, "name", record.Name, "handle", record.Handle.String())
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	record, err := s.state.Lookup(r.PathValue("path"))
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	if err := s.state.Remove(path); err != nil {
		writeRegistryError(w, err)
		return
	}
	s.logger.Info("publisher removed", "path", path)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

func writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errors.ErrEmptyPath):
		writeError(w, http.StatusBadRequest, codeEmptyPath, err.Error())
	case errors.Is(err, errors.ErrInvalidPath):
		writeError(w, http.StatusBadRequest, codeInvalidPath, err.Error())
	case errors.Is(err, errors.ErrDuplicatePath):
		writeError(w, http.StatusConflict, codeDuplicatePath, err.Error())
	case errors.Is(err, errors.ErrHierarchyViolation):
		writeError(w, http.StatusUnprocessableEntity, codeHierarchyViolation, err.Error())
	case errors.Is(err, errors.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
	}
}
