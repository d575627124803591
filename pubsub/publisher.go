// Package pubsub is the user-facing surface of the substrate: typed
// publishers and subscribers bound to registry paths, a type-erased
// subscriber for display streams, and a relay that republishes a switchable
// source onto a fixed destination path.
package pubsub

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/c360/pathcast/endpoint"
	"github.com/c360/pathcast/errors"
	"github.com/c360/pathcast/metric"
	"github.com/c360/pathcast/ping"
	"github.com/c360/pathcast/pkg/retry"
	"github.com/c360/pathcast/registry"
	"github.com/c360/pathcast/stream"
	"github.com/c360/pathcast/types"
)

const closeTimeout = 5 * time.Second

// PublisherOption configures a Publisher.
type PublisherOption func(*publisherConfig)

type publisherConfig struct {
	socketDir string
	logger    *slog.Logger
	metrics   *metric.Metrics
}

// WithSocketDir overrides the endpoint directory. It must match the gateway
// serving this node.
func WithSocketDir(dir string) PublisherOption {
	return func(c *publisherConfig) { c.socketDir = dir }
}

// WithPublisherLogger sets the logger. Defaults to slog.Default.
func WithPublisherLogger(l *slog.Logger) PublisherOption {
	return func(c *publisherConfig) { c.logger = l }
}

// WithPublisherMetrics counts broadcasts and slow-consumer drops on the
// substrate collectors.
func WithPublisherMetrics(m *metric.Metrics) PublisherOption {
	return func(c *publisherConfig) { c.metrics = m }
}

func (c *publisherConfig) streamOptions(kind endpoint.Kind) []stream.ServerOption {
	if c.metrics == nil {
		return nil
	}
	m := c.metrics
	return []stream.ServerOption{
		stream.WithOnBroadcast(func() {
			m.StreamMessagesTotal.WithLabelValues(string(kind)).Inc()
		}),
		stream.WithOnDrop(func() {
			m.StreamDropsTotal.Inc()
		}),
	}
}

// Publisher owns one registry path and its three local endpoints: the binary
// stream, the display stream and the ping snapshot. Values published here
// reach every subscriber on the path.
type Publisher[T types.Value[T]] struct {
	name string
	path string

	registry *registry.Client
	pingSrv  *ping.Server
	binSrv   *stream.Server
	strSrv   *stream.Server

	logger *slog.Logger
	closed atomic.Bool
}

// NewPublisher binds the path's endpoints, seeds the snapshot with initial
// and registers with the registry. The handle registered is this machine's
// address with the node gateway's port, so remote subscribers come in through
// the gateway. Registration failure tears the endpoints back down.
func NewPublisher[T types.Value[T]](ctx context.Context, name, path string, initial T,
	reg *registry.Client, gatewayPort int, opts ...PublisherOption) (*Publisher[T], error) {

	cfg := publisherConfig{
		socketDir: endpoint.DefaultBaseDir(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	normalized, err := endpoint.Normalize(path)
	if err != nil {
		return nil, err
	}

	payload, err := initial.Encode()
	if err != nil {
		return nil, errors.WrapInvalid(err, "Publisher", "NewPublisher", "encoding initial value")
	}

	p := &Publisher[T]{
		name:     name,
		path:     normalized,
		registry: reg,
		logger:   cfg.logger.With("component", "publisher", "path", normalized),
	}

	pingSock := endpoint.PingSocket(cfg.socketDir, normalized)
	if err := endpoint.Prepare(pingSock); err != nil {
		return nil, err
	}
	p.pingSrv, err = ping.NewServer(pingSock, payload, initial.String())
	if err != nil {
		return nil, err
	}

	binSock := endpoint.StreamSocket(cfg.socketDir, normalized, endpoint.KindBytes)
	if err := endpoint.Prepare(binSock); err != nil {
		p.teardown()
		return nil, err
	}
	p.binSrv, err = stream.NewServer(binSock, cfg.streamOptions(endpoint.KindBytes)...)
	if err != nil {
		p.teardown()
		return nil, err
	}

	strSock := endpoint.StreamSocket(cfg.socketDir, normalized, endpoint.KindString)
	if err := endpoint.Prepare(strSock); err != nil {
		p.teardown()
		return nil, err
	}
	p.strSrv, err = stream.NewServer(strSock, cfg.streamOptions(endpoint.KindString)...)
	if err != nil {
		p.teardown()
		return nil, err
	}

	handle, err := types.LocalHandle(gatewayPort)
	if err != nil {
		p.teardown()
		return nil, err
	}
	// Registries restart; registration rides out brief outages. Rejections
	// (duplicate, hierarchy, invalid) fail on the first attempt.
	err = retry.Do(ctx, retry.DefaultConfig(), func() error {
		_, err := reg.Register(ctx, name, normalized, handle)
		if err != nil && !errors.IsTransient(err) {
			return retry.NonRetryable(err)
		}
		return err
	})
	if err != nil {
		p.teardown()
		return nil, err
	}

	p.logger.Info("publisher online", "name", name, "handle", handle.String())
	return p, nil
}

// Publish pushes a value to both streams and updates the ping snapshot.
// It never blocks on slow subscribers.
func (p *Publisher[T]) Publish(v T) error {
	if p.closed.Load() {
		return errors.ErrAlreadyStopped
	}

	payload, err := v.Encode()
	if err != nil {
		return errors.WrapInvalid(err, "Publisher", "Publish", "encoding value")
	}
	display := v.String()

	p.pingSrv.SetPayload(payload, display)
	if err := p.binSrv.Broadcast(payload); err != nil {
		return err
	}
	return p.strSrv.Broadcast([]byte(display))
}

// Path returns the normalized path this publisher owns.
func (p *Publisher[T]) Path() string { return p.path }

// Subscribers returns the number of consumers currently attached to the
// binary stream. Display-stream consumers are counted separately by
// OmniSubscribers.
func (p *Publisher[T]) Subscribers() int { return p.binSrv.ConsumerCount() }

// OmniSubscribers returns the number of consumers currently attached to the
// display stream.
func (p *Publisher[T]) OmniSubscribers() int { return p.strSrv.ConsumerCount() }

// Close deregisters the path and releases the endpoints. Deregistration is
// best effort; an unreachable registry evicts the record on its own.
func (p *Publisher[T]) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return errors.ErrAlreadyStopped
	}

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := p.registry.Remove(ctx, p.path); err != nil {
		p.logger.Warn("deregistration failed", "error", err)
	}

	p.teardown()
	p.logger.Info("publisher offline")
	return nil
}

func (p *Publisher[T]) teardown() {
	if p.pingSrv != nil {
		p.pingSrv.Close()
	}
	if p.binSrv != nil {
		p.binSrv.Close()
	}
	if p.strSrv != nil {
		p.strSrv.Close()
	}
}
