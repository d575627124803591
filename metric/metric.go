// Package metric defines the prometheus collectors for the pathcast substrate.
// The registry server exposes them at /metrics; other components receive a
// *Metrics and increment what they own.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics contains all substrate-level metrics.
type Metrics struct {
	// Registry metrics
	RegistrationsTotal *prometheus.CounterVec // result: ok|duplicate|hierarchy|invalid
	LookupsTotal       *prometheus.CounterVec // result: ok|not_found
	RemovalsTotal      *prometheus.CounterVec // result: ok|not_found
	EvictionsTotal     prometheus.Counter
	ActivePublishers   prometheus.Gauge

	// Gateway metrics
	GatewayPipesOpen  prometheus.Gauge
	GatewayPipesTotal *prometheus.CounterVec // kind: bytes|string|ping

	// Stream metrics
	StreamMessagesTotal *prometheus.CounterVec // kind: bytes|string
	StreamDropsTotal    prometheus.Counter
}

// New creates a Metrics instance. Collectors are not registered; call
// Register or use NewRegistered.
func New() *Metrics {
	return &Metrics{
		RegistrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pathcast",
				Subsystem: "registry",
				Name:      "registrations_total",
				Help:      "Total registration attempts by result",
			},
			[]string{"result"},
		),
		LookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pathcast",
				Subsystem: "registry",
				Name:      "lookups_total",
				Help:      "Total lookup attempts by result",
			},
			[]string{"result"},
		),
		RemovalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pathcast",
				Subsystem: "registry",
				Name:      "removals_total",
				Help:      "Total removal attempts by result",
			},
			[]string{"result"},
		),
		EvictionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pathcast",
				Subsystem: "registry",
				Name:      "evictions_total",
				Help:      "Registrations removed by the liveness monitor",
			},
		),
		ActivePublishers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "pathcast",
				Subsystem: "registry",
				Name:      "active_publishers",
				Help:      "Currently registered publishers",
			},
		),
		GatewayPipesOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "pathcast",
				Subsystem: "gateway",
				Name:      "pipes_open",
				Help:      "Currently open gateway pipes",
			},
		),
		GatewayPipesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pathcast",
				Subsystem: "gateway",
				Name:      "pipes_total",
				Help:      "Total gateway pipes accepted by endpoint kind",
			},
			[]string{"kind"},
		),
		StreamMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pathcast",
				Subsystem: "stream",
				Name:      "messages_total",
				Help:      "Messages broadcast by encoding kind",
			},
			[]string{"kind"},
		),
		StreamDropsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pathcast",
				Subsystem: "stream",
				Name:      "drops_total",
				Help:      "Messages dropped for slow consumers",
			},
		),
	}
}

// Register registers all collectors with the given prometheus registry.
func (m *Metrics) Register(reg *prometheus.Registry) error {
	cs := []prometheus.Collector{
		m.RegistrationsTotal,
		m.LookupsTotal,
		m.RemovalsTotal,
		m.EvictionsTotal,
		m.ActivePublishers,
		m.GatewayPipesOpen,
		m.GatewayPipesTotal,
		m.StreamMessagesTotal,
		m.StreamDropsTotal,
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistered creates a Metrics instance registered on a fresh prometheus
// registry that also carries the Go runtime collectors.
func NewRegistered() (*Metrics, *prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := New()
	if err := m.Register(reg); err != nil {
		return nil, nil, err
	}
	return m, reg, nil
}
