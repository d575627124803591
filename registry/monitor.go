package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/c360/pathcast/config"
	"github.com/c360/pathcast/endpoint"
	"github.com/c360/pathcast/ping"
	"github.com/c360/pathcast/types"
)

// Prober checks whether one registered publisher is still alive. The default
// prober pings the publisher through its gateway; tests inject their own.
type Prober func(ctx context.Context, record types.ServiceRecord) error

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithMonitorClock substitutes the clock, letting tests drive sweeps.
func WithMonitorClock(c clock.Clock) MonitorOption {
	return func(m *Monitor) { m.clock = c }
}

// WithProber substitutes the liveness probe.
func WithProber(p Prober) MonitorOption {
	return func(m *Monitor) { m.prober = p }
}

// WithMonitorLogger sets the logger. Defaults to slog.Default.
func WithMonitorLogger(l *slog.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = l }
}

// Monitor sweeps the registration table on a fixed interval, probing every
// publisher and evicting the ones that stop answering. Eviction is the only
// async path that mutates the table; everything else is request-driven.
type Monitor struct {
	state        *State
	interval     time.Duration
	timeout      time.Duration
	failureLimit int

	clock  clock.Clock
	prober Prober
	logger *slog.Logger

	// Ping connections are kept open between sweeps so a healthy publisher
	// costs one round trip per interval, not a fresh handshake. Each entry
	// remembers the handle it was dialed against; a re-registration at a new
	// handle invalidates it.
	clientMu sync.Mutex
	clients  map[string]*probeClient

	cancel context.CancelFunc
	done   chan struct{}
}

type probeClient struct {
	cli    *ping.Client
	handle types.ConnectionHandle
}

// NewMonitor creates a monitor over the given table using the configured
// probe timing.
func NewMonitor(state *State, cfg config.RegistryConfig, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		state:        state,
		interval:     cfg.ProbeInterval(),
		timeout:      cfg.ProbeTimeout(),
		failureLimit: cfg.ProbeFailureLimit,
		clock:        clock.New(),
		logger:       slog.Default(),
		clients:      map[string]*probeClient{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.prober == nil {
		m.prober = m.pingProbe
	}
	return m
}

// Start begins sweeping. It returns immediately.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.run(ctx)
}

// Stop halts sweeping and closes any cached probe connections.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done

	m.clientMu.Lock()
	defer m.clientMu.Unlock()
	for path, pc := range m.clients {
		pc.cli.Close()
		delete(m.clients, path)
	}
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := m.clock.Ticker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep probes every registered publisher concurrently. One sweep's probes
// are bounded by the probe timeout, which is shorter than the interval, so
// sweeps do not pile up behind a stuck publisher.
func (m *Monitor) sweep(ctx context.Context) {
	records := m.state.List()
	if len(records) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, record := range records {
		wg.Add(1)
		go func(record types.ServiceRecord) {
			defer wg.Done()
			m.probeOne(ctx, record)
		}(record)
	}
	wg.Wait()
}

func (m *Monitor) probeOne(ctx context.Context, record types.ServiceRecord) {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.prober(probeCtx, record)
	if err == nil {
		m.state.markSuccess(record.Path)
		return
	}

	failures := m.state.markFailure(record.Path)
	if failures == 0 {
		// Removed mid-probe. Drop the cached connection too, or a
		// replacement publisher on the same path would be probed through
		// the dead one.
		m.dropClient(record.Path)
		return
	}
	if failures < m.failureLimit {
		m.logger.Debug("liveness probe failed",
			"path", record.Path, "failures", failures, "error", err)
		return
	}

	if m.state.evict(record.Path) {
		m.logger.Info("evicted unresponsive publisher",
			"path", record.Path, "name", record.Name, "handle", record.Handle.String())
	}
	m.dropClient(record.Path)
}

// pingProbe is the default prober: one ping round trip through the
// publisher's gateway, on a connection cached across sweeps.
func (m *Monitor) pingProbe(ctx context.Context, record types.ServiceRecord) error {
	client, err := m.client(ctx, record)
	if err != nil {
		return err
	}
	if _, err := client.Ping(ctx); err != nil {
		// A broken connection is not reused; the next sweep redials.
		m.dropClient(record.Path)
		return err
	}
	return nil
}

func (m *Monitor) client(ctx context.Context, record types.ServiceRecord) (*ping.Client, error) {
	m.clientMu.Lock()
	if pc, ok := m.clients[record.Path]; ok {
		if pc.handle == record.Handle {
			m.clientMu.Unlock()
			return pc.cli, nil
		}
		// Same path, different publisher. Probe the record's handle, not
		// whoever held the path when the connection was dialed.
		pc.cli.Close()
		delete(m.clients, record.Path)
	}
	m.clientMu.Unlock()

	c, err := ping.Dial(ctx, endpoint.PingURL(record.Handle, record.Path))
	if err != nil {
		return nil, err
	}

	m.clientMu.Lock()
	defer m.clientMu.Unlock()
	if existing, ok := m.clients[record.Path]; ok {
		if existing.handle == record.Handle {
			c.Close()
			return existing.cli, nil
		}
		existing.cli.Close()
	}
	m.clients[record.Path] = &probeClient{cli: c, handle: record.Handle}
	return c, nil
}

func (m *Monitor) dropClient(path string) {
	m.clientMu.Lock()
	defer m.clientMu.Unlock()
	if pc, ok := m.clients[path]; ok {
		pc.cli.Close()
		delete(m.clients, path)
	}
}
