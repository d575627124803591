package buffer

import (
	"context"
	"sync"

	"github.com/c360/pathcast/errors"
)

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("buffer: queue closed")

// ring is a thread-safe circular buffer with configurable overflow policies.
// ReadWait blocks on a pulse channel rather than a sync.Cond so that waiting
// readers also observe context cancellation.
type ring[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	stats    *Statistics
	opts     *options[T]
	signal   chan struct{} // pulsed on Write, capacity 1
	done     chan struct{}
	closed   bool
}

// NewRing creates a circular buffer with the given capacity.
func NewRing[T any](capacity int, opts ...Option[T]) (Queue[T], error) {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		opts:     applyOptions(opts...),
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}, nil
}

// Write adds an item according to the overflow policy. Never blocks.
func (r *ring[T]) Write(item T) error {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return errors.WrapInvalid(ErrClosed, "Ring", "Write", "enqueue")
	}

	var dropped *T
	if r.size == r.capacity {
		r.stats.Overflow()
		switch r.opts.overflowPolicy {
		case DropOldest:
			old := r.items[r.tail]
			dropped = &old
			r.tail = (r.tail + 1) % r.capacity
			r.size--
		case DropNewest:
			r.stats.Drop()
			dropped = &item
			r.mu.Unlock()
			if r.opts.dropCallback != nil {
				r.opts.dropCallback(*dropped)
			}
			return nil
		}
		r.stats.Drop()
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	r.size++
	r.stats.Write()
	r.mu.Unlock()

	// Wake one waiting reader; drop the pulse if one is already pending.
	select {
	case r.signal <- struct{}{}:
	default:
	}

	if dropped != nil && r.opts.dropCallback != nil {
		r.opts.dropCallback(*dropped)
	}
	return nil
}

// Read retrieves and removes one item without blocking.
func (r *ring[T]) Read() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readLocked()
}

func (r *ring[T]) readLocked() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	item := r.items[r.tail]
	r.items[r.tail] = zero // release reference
	r.tail = (r.tail + 1) % r.capacity
	r.size--
	r.stats.Read()
	return item, true
}

// ReadWait blocks until an item is available, the queue closes, or ctx is done.
func (r *ring[T]) ReadWait(ctx context.Context) (T, error) {
	var zero T
	for {
		r.mu.Lock()
		item, ok := r.readLocked()
		closed := r.closed
		r.mu.Unlock()
		if ok {
			return item, nil
		}
		if closed {
			return zero, ErrClosed
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-r.done:
			// Loop once more to drain anything written before Close.
		case <-r.signal:
		}
	}
}

// Size returns the current number of buffered items.
func (r *ring[T]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Stats returns queue statistics.
func (r *ring[T]) Stats() *Statistics {
	return r.stats
}

// Close shuts the queue down and wakes blocked readers.
func (r *ring[T]) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.done)
	r.mu.Unlock()
	return nil
}
