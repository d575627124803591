package buffer

import (
	"context"
	"sync"

	"github.com/c360/pathcast/errors"
)

// unbounded is a growable FIFO queue. Write never blocks and never drops;
// memory is bounded only by the consumer keeping up eventually. The relay
// bridge uses this so a slow destination publish cannot stall the feed task.
type unbounded[T any] struct {
	mu     sync.Mutex
	items  []T
	stats  *Statistics
	signal chan struct{}
	done   chan struct{}
	closed bool
}

// NewUnbounded creates an unbounded FIFO queue.
func NewUnbounded[T any]() Queue[T] {
	return &unbounded[T]{
		stats:  NewStatistics(),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Write appends an item. Always succeeds unless the queue is closed.
func (u *unbounded[T]) Write(item T) error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return errors.WrapInvalid(ErrClosed, "Unbounded", "Write", "enqueue")
	}
	u.items = append(u.items, item)
	u.stats.Write()
	u.mu.Unlock()

	select {
	case u.signal <- struct{}{}:
	default:
	}
	return nil
}

// Read retrieves and removes one item without blocking.
func (u *unbounded[T]) Read() (T, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.readLocked()
}

func (u *unbounded[T]) readLocked() (T, bool) {
	var zero T
	if len(u.items) == 0 {
		return zero, false
	}
	item := u.items[0]
	u.items[0] = zero
	u.items = u.items[1:]
	if len(u.items) == 0 {
		u.items = nil // let the backing array go once drained
	}
	u.stats.Read()
	return item, true
}

// ReadWait blocks until an item is available, the queue closes, or ctx is done.
func (u *unbounded[T]) ReadWait(ctx context.Context) (T, error) {
	var zero T
	for {
		u.mu.Lock()
		item, ok := u.readLocked()
		closed := u.closed
		u.mu.Unlock()
		if ok {
			return item, nil
		}
		if closed {
			return zero, ErrClosed
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-u.done:
		case <-u.signal:
		}
	}
}

// Size returns the current number of buffered items.
func (u *unbounded[T]) Size() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.items)
}

// Stats returns queue statistics.
func (u *unbounded[T]) Stats() *Statistics {
	return u.stats
}

// Close shuts the queue down and wakes blocked readers.
func (u *unbounded[T]) Close() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil
	}
	u.closed = true
	close(u.done)
	u.mu.Unlock()
	return nil
}
