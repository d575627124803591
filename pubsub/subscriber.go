package pubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/c360/pathcast/endpoint"
	"github.com/c360/pathcast/errors"
	"github.com/c360/pathcast/ping"
	"github.com/c360/pathcast/pkg/retry"
	"github.com/c360/pathcast/registry"
	"github.com/c360/pathcast/stream"
	"github.com/c360/pathcast/types"
)

// Update is one stream delivery. Exactly one of Value and Err is meaningful:
// a decode failure (the publisher's type does not match T) arrives in-band
// as Err instead of killing the channel.
type Update[T any] struct {
	Value T
	Err   error
}

// Subscriber consumes the typed binary stream of one path through its
// publisher's gateway. The registry is needed only at construction; a
// subscriber keeps working if the registry goes away afterwards.
type Subscriber[T types.Value[T]] struct {
	path   string
	handle types.ConnectionHandle

	streamClient *stream.Client

	pingMu  sync.Mutex
	pingCli *ping.Client
	pingURL string

	closeOnce sync.Once
}

// NewSubscriber looks the path up and connects to its publisher's gateway.
func NewSubscriber[T types.Value[T]](ctx context.Context, path string, reg *registry.Client) (*Subscriber[T], error) {
	normalized, handle, err := discover(ctx, path, reg)
	if err != nil {
		return nil, err
	}
	return &Subscriber[T]{
		path:         normalized,
		handle:       handle,
		streamClient: stream.NewClient(stream.DialURL(endpoint.StreamURL(handle, normalized, endpoint.KindBytes))),
		pingURL:      endpoint.PingURL(handle, normalized),
	}, nil
}

// discover resolves a path to its publisher's handle. Transient registry
// failures are retried briefly so subscribers starting alongside the registry
// do not lose the race; definitive answers fail immediately.
func discover(ctx context.Context, path string, reg *registry.Client) (string, types.ConnectionHandle, error) {
	normalized, err := endpoint.Normalize(path)
	if err != nil {
		return "", types.ConnectionHandle{}, err
	}
	record, err := retry.DoWithResult(ctx, retry.Quick(), func() (types.ServiceRecord, error) {
		rec, err := reg.Lookup(ctx, normalized)
		if err != nil && !errors.IsTransient(err) {
			return rec, retry.NonRetryable(err)
		}
		return rec, err
	})
	if err != nil {
		return "", types.ConnectionHandle{}, err
	}
	return normalized, record.Handle, nil
}

// Path returns the normalized path this subscriber follows.
func (s *Subscriber[T]) Path() string { return s.path }

// Publisher returns the handle of the publisher's gateway, resolved at
// construction.
func (s *Subscriber[T]) Publisher() types.ConnectionHandle { return s.handle }

// Get fetches the publisher's current value with one ping round trip.
func (s *Subscriber[T]) Get(ctx context.Context) (T, error) {
	var zero T
	resp, err := s.snapshot(ctx)
	if err != nil {
		return zero, err
	}
	v, err := zero.Decode(resp.Payload)
	if err != nil {
		return zero, decodeMismatch(err)
	}
	return v, nil
}

// Stream returns the current value and a channel of subsequent updates.
// The snapshot is taken before the stream attaches, so the sequence begins
// strictly after it; a value published between the two is missed, never
// duplicated. The channel closes when ctx ends or the subscriber is closed.
// Transport gaps are reconnected underneath; messages published during a gap
// are lost, not replayed.
func (s *Subscriber[T]) Stream(ctx context.Context) (T, <-chan Update[T], error) {
	var zero T

	current, err := s.Get(ctx)
	if err != nil {
		return zero, nil, err
	}

	sub, err := s.streamClient.Subscribe()
	if err != nil {
		return zero, nil, err
	}

	out := make(chan Update[T])
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			payload, err := sub.Next(ctx)
			if err != nil {
				return
			}
			v, err := zero.Decode(payload)
			if err != nil {
				err = decodeMismatch(err)
			}
			update := Update[T]{Value: v, Err: err}
			select {
			case out <- update:
			case <-ctx.Done():
				return
			}
		}
	}()
	return current, out, nil
}

// decodeMismatch marks a typed decode failure as a type mismatch: the
// publisher on this path is not producing what T expects.
func decodeMismatch(err error) error {
	return fmt.Errorf("%w: %w", errors.ErrTypeMismatch, err)
}

// Close releases the stream and ping connections.
func (s *Subscriber[T]) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.streamClient.Close()
		s.pingMu.Lock()
		if s.pingCli != nil {
			s.pingCli.Close()
			s.pingCli = nil
		}
		s.pingMu.Unlock()
	})
	return err
}

// snapshot pings the publisher, redialing the ping connection when the
// previous one broke.
func (s *Subscriber[T]) snapshot(ctx context.Context) (ping.Response, error) {
	s.pingMu.Lock()
	defer s.pingMu.Unlock()

	if s.pingCli == nil {
		c, err := ping.Dial(ctx, s.pingURL)
		if err != nil {
			return ping.Response{}, err
		}
		s.pingCli = c
	}

	resp, err := s.pingCli.Ping(ctx)
	if err != nil {
		s.pingCli.Close()
		s.pingCli = nil
		return ping.Response{}, err
	}
	return resp, nil
}

// OmniSubscriber consumes the display stream of a path without knowing its
// type. Where Subscriber yields T, OmniSubscriber yields the publisher's
// String rendering.
type OmniSubscriber struct {
	path   string
	handle types.ConnectionHandle

	streamClient *stream.Client

	pingMu  sync.Mutex
	pingCli *ping.Client
	pingURL string

	closeOnce sync.Once
}

// NewOmniSubscriber looks the path up and connects to its display stream.
func NewOmniSubscriber(ctx context.Context, path string, reg *registry.Client) (*OmniSubscriber, error) {
	normalized, handle, err := discover(ctx, path, reg)
	if err != nil {
		return nil, err
	}
	return &OmniSubscriber{
		path:         normalized,
		handle:       handle,
		streamClient: stream.NewClient(stream.DialURL(endpoint.StreamURL(handle, normalized, endpoint.KindString))),
		pingURL:      endpoint.PingURL(handle, normalized),
	}, nil
}

// Path returns the normalized path this subscriber follows.
func (s *OmniSubscriber) Path() string { return s.path }

// Publisher returns the handle of the publisher's gateway, resolved at
// construction.
func (s *OmniSubscriber) Publisher() types.ConnectionHandle { return s.handle }

// Get fetches the publisher's current value as its display string.
func (s *OmniSubscriber) Get(ctx context.Context) (string, error) {
	resp, err := s.snapshot(ctx)
	if err != nil {
		return "", err
	}
	return resp.Display, nil
}

// Stream returns the current display string and a channel of subsequent
// renderings. Like Subscriber.Stream, the snapshot comes first and the
// stream attaches after it.
func (s *OmniSubscriber) Stream(ctx context.Context) (string, <-chan string, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return "", nil, err
	}

	sub, err := s.streamClient.Subscribe()
	if err != nil {
		return "", nil, err
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			payload, err := sub.Next(ctx)
			if err != nil {
				return
			}
			select {
			case out <- string(payload):
			case <-ctx.Done():
				return
			}
		}
	}()
	return current, out, nil
}

// Close releases the stream and ping connections.
func (s *OmniSubscriber) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.streamClient.Close()
		s.pingMu.Lock()
		if s.pingCli != nil {
			s.pingCli.Close()
			s.pingCli = nil
		}
		s.pingMu.Unlock()
	})
	return err
}

func (s *OmniSubscriber) snapshot(ctx context.Context) (ping.Response, error) {
	s.pingMu.Lock()
	defer s.pingMu.Unlock()

	if s.pingCli == nil {
		c, err := ping.Dial(ctx, s.pingURL)
		if err != nil {
			return ping.Response{}, err
		}
		s.pingCli = c
	}

	resp, err := s.pingCli.Ping(ctx)
	if err != nil {
		s.pingCli.Close()
		s.pingCli = nil
		return ping.Response{}, err
	}
	return resp, nil
}
