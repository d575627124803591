package buffer

import "sync/atomic"

// Statistics tracks queue activity. All fields are updated atomically and are
// safe to read concurrently with queue operations.
type Statistics struct {
	writes    atomic.Uint64
	reads     atomic.Uint64
	drops     atomic.Uint64
	overflows atomic.Uint64
}

// NewStatistics creates a zeroed Statistics.
func NewStatistics() *Statistics {
	return &Statistics{}
}

// Write records one accepted item.
func (s *Statistics) Write() { s.writes.Add(1) }

// Read records one consumed item.
func (s *Statistics) Read() { s.reads.Add(1) }

// Drop records one item lost to the overflow policy.
func (s *Statistics) Drop() { s.drops.Add(1) }

// Overflow records one capacity hit.
func (s *Statistics) Overflow() { s.overflows.Add(1) }

// Writes returns the total number of accepted items.
func (s *Statistics) Writes() uint64 { return s.writes.Load() }

// Reads returns the total number of consumed items.
func (s *Statistics) Reads() uint64 { return s.reads.Load() }

// Drops returns the total number of dropped items.
func (s *Statistics) Drops() uint64 { return s.drops.Load() }

// Overflows returns the total number of capacity hits.
func (s *Statistics) Overflows() uint64 { return s.overflows.Load() }
