// Package buffer provides generic, thread-safe queues for stream fan-out.
//
// Two implementations:
//   - Ring: fixed-capacity circular buffer with configurable overflow policies,
//     used as the per-consumer queue in the broadcast stream layer. A slow
//     consumer loses messages instead of blocking the producer.
//   - Unbounded: growable FIFO queue, used as the relay bridge between the feed
//     and drain tasks.
//
// Both support a blocking read that waits for the next item or context
// cancellation, and always collect statistics for observability.
package buffer

import "context"

// Queue is the interface shared by Ring and Unbounded.
type Queue[T any] interface {
	// Write adds an item. Never blocks; behavior at capacity depends on the
	// overflow policy (Unbounded always accepts).
	Write(item T) error

	// Read retrieves and removes one item.
	// Returns the zero value and false if the queue is empty.
	Read() (T, bool)

	// ReadWait retrieves one item, blocking until an item arrives, the queue
	// closes (returns ErrClosed), or ctx is cancelled.
	ReadWait(ctx context.Context) (T, error)

	// Size returns the current number of buffered items.
	Size() int

	// Stats returns queue statistics.
	Stats() *Statistics

	// Close shuts the queue down. Blocked ReadWait calls return ErrClosed
	// once remaining items are drained.
	Close() error
}

// OverflowPolicy defines how a Ring behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the buffer is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is called with each item dropped due to the overflow policy.
type DropCallback[T any] func(item T)

// Option configures a queue.
type Option[T any] func(*options[T])

type options[T any] struct {
	overflowPolicy OverflowPolicy
	dropCallback   DropCallback[T]
}

// WithOverflowPolicy sets the Ring overflow policy (default DropOldest).
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(o *options[T]) {
		o.overflowPolicy = policy
	}
}

// WithDropCallback registers a callback invoked for each dropped item.
func WithDropCallback[T any](cb DropCallback[T]) Option[T] {
	return func(o *options[T]) {
		o.dropCallback = cb
	}
}

func applyOptions[T any](opts ...Option[T]) *options[T] {
	o := &options[T]{overflowPolicy: DropOldest}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
