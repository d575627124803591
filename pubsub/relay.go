package pubsub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/c360/pathcast/errors"
	"github.com/c360/pathcast/pkg/buffer"
	"github.com/c360/pathcast/registry"
	"github.com/c360/pathcast/types"
)

// Relay republishes a switchable source path onto one fixed destination
// path. Values flow source stream -> queue -> destination publisher; SwapOn
// changes the source atomically, never the destination. The queue is
// unbounded so a swap never stalls behind a slow destination.
type Relay[T types.Value[T]] struct {
	dest     *Publisher[T]
	registry *registry.Client
	logger   *slog.Logger

	queue buffer.Queue[T]

	drainCancel context.CancelFunc
	drainDone   chan struct{}

	// feedMu serializes SwapOn and Close against each other. The feed
	// goroutine's done channel is the teardown acknowledgment awaited
	// before a new feed may start.
	feedMu     sync.Mutex
	feedCancel context.CancelFunc
	feedDone   chan struct{}
	feedSub    interface{ Close() error }

	closed atomic.Bool
}

// NewRelay creates the destination publisher and the drain loop. The relay
// starts with no source; call SwapOn to attach one.
func NewRelay[T types.Value[T]](ctx context.Context, name, destPath string, initial T,
	reg *registry.Client, gatewayPort int, opts ...PublisherOption) (*Relay[T], error) {

	dest, err := NewPublisher(ctx, name, destPath, initial, reg, gatewayPort, opts...)
	if err != nil {
		return nil, err
	}

	r := &Relay[T]{
		dest:     dest,
		registry: reg,
		logger:   slog.Default().With("component", "relay", "dest", dest.Path()),
		queue:    buffer.NewUnbounded[T](),
	}

	drainCtx, cancel := context.WithCancel(context.Background())
	r.drainCancel = cancel
	r.drainDone = make(chan struct{})
	go r.drain(drainCtx)

	return r, nil
}

// SwapOption configures one SwapOn call.
type SwapOption func(*swapConfig)

type swapConfig struct {
	registry *registry.Client
}

// WithSourceRegistry resolves the source path through a different registry
// than the relay's own, bridging a path across registries. Defaults to the
// registry the relay was built with.
func WithSourceRegistry(reg *registry.Client) SwapOption {
	return func(c *swapConfig) { c.registry = reg }
}

// SwapOn switches the relay to a new source path. The new subscriber and
// its stream are established before the old feed is touched, so a failure
// here leaves the previous source flowing. Once the new stream is up the old
// feed is cancelled and its teardown awaited, which keeps old-source values
// from landing after new-source values. The new source's current value is
// republished immediately, so the destination jumps to it at swap time
// rather than waiting for the source's next publish.
func (r *Relay[T]) SwapOn(ctx context.Context, srcPath string, opts ...SwapOption) error {
	if r.closed.Load() {
		return errors.ErrAlreadyStopped
	}

	cfg := swapConfig{registry: r.registry}
	for _, opt := range opts {
		opt(&cfg)
	}

	sub, err := NewSubscriber[T](ctx, srcPath, cfg.registry)
	if err != nil {
		return err
	}

	feedCtx, cancel := context.WithCancel(context.Background())
	current, updates, err := sub.Stream(feedCtx)
	if err != nil {
		cancel()
		sub.Close()
		return err
	}

	r.feedMu.Lock()
	defer r.feedMu.Unlock()

	if r.closed.Load() {
		cancel()
		sub.Close()
		return errors.ErrAlreadyStopped
	}

	r.stopFeedLocked()

	if err := r.queue.Write(current); err != nil {
		cancel()
		sub.Close()
		return err
	}

	done := make(chan struct{})
	r.feedCancel = cancel
	r.feedDone = done
	r.feedSub = sub
	go r.feed(srcPath, updates, done)

	r.logger.Info("relay source swapped", "source", srcPath)
	return nil
}

// Close stops the feed, the drain loop and the destination publisher.
func (r *Relay[T]) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return errors.ErrAlreadyStopped
	}

	r.feedMu.Lock()
	r.stopFeedLocked()
	r.feedMu.Unlock()

	// Queued values drain before the queue reports closed.
	r.queue.Close()
	<-r.drainDone
	r.drainCancel()

	return r.dest.Close()
}

// stopFeedLocked cancels the running feed and waits for its goroutine to
// acknowledge. Callers hold feedMu.
func (r *Relay[T]) stopFeedLocked() {
	if r.feedCancel == nil {
		return
	}
	r.feedCancel()
	<-r.feedDone
	r.feedSub.Close()
	r.feedCancel = nil
	r.feedDone = nil
	r.feedSub = nil
}

func (r *Relay[T]) feed(srcPath string, updates <-chan Update[T], done chan struct{}) {
	defer close(done)
	for update := range updates {
		if update.Err != nil {
			r.logger.Warn("dropping undecodable frame", "source", srcPath, "error", update.Err)
			continue
		}
		if err := r.queue.Write(update.Value); err != nil {
			return
		}
	}
}

func (r *Relay[T]) drain(ctx context.Context) {
	defer close(r.drainDone)
	for {
		v, err := r.queue.ReadWait(ctx)
		if err != nil {
			return
		}
		if err := r.dest.Publish(v); err != nil {
			if errors.Is(err, errors.ErrAlreadyStopped) {
				return
			}
			r.logger.Warn("republish failed", "error", err)
		}
	}
}
