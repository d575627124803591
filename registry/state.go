package registry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/pathcast/endpoint"
	"github.com/c360/pathcast/errors"
	"github.com/c360/pathcast/metric"
	"github.com/c360/pathcast/types"
)

// State is the registry's shared registration table. All mutation happens
// under one lock so a registration either fully lands (tree entry plus
// record) or not at all.
type State struct {
	mu      sync.RWMutex
	tree    *tree
	records map[string]*entry
	metrics *metric.Metrics
}

type entry struct {
	record   types.ServiceRecord
	failures int
}

// NewState creates an empty registration table. Metrics may be nil.
func NewState(metrics *metric.Metrics) *State {
	return &State{
		tree:    newTree(),
		records: map[string]*entry{},
		metrics: metrics,
	}
}

func (s *State) count(vec *prometheus.CounterVec, result string) {
	if s.metrics != nil && vec != nil {
		vec.WithLabelValues(result).Inc()
	}
}

func (s *State) setActive() {
	if s.metrics != nil {
		s.metrics.ActivePublishers.Set(float64(len(s.records)))
	}
}

// Register validates the path and atomically adds the record. The stored
// record carries the normalized path and the registration time.
func (s *State) Register(name, path string, handle types.ConnectionHandle) (types.ServiceRecord, error) {
	var regs *prometheus.CounterVec
	if s.metrics != nil {
		regs = s.metrics.RegistrationsTotal
	}

	normalized, err := endpoint.Normalize(path)
	if err != nil {
		s.count(regs, "invalid")
		return types.ServiceRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.tree.insert(normalized); err != nil {
		switch {
		case errors.Is(err, errors.ErrDuplicatePath):
			s.count(regs, "duplicate")
		case errors.Is(err, errors.ErrHierarchyViolation):
			s.count(regs, "hierarchy")
		}
		return types.ServiceRecord{}, err
	}

	record := types.ServiceRecord{
		Name:         name,
		Path:         normalized,
		Handle:       handle,
		RegisteredAt: time.Now().UTC(),
	}
	s.records[normalized] = &entry{record: record}

	s.count(regs, "ok")
	s.setActive()
	return record, nil
}

// Lookup returns the record registered at exactly the given path.
func (s *State) Lookup(path string) (types.ServiceRecord, error) {
	var lookups *prometheus.CounterVec
	if s.metrics != nil {
		lookups = s.metrics.LookupsTotal
	}

	normalized, err := endpoint.Normalize(path)
	if err != nil {
		return types.ServiceRecord{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.records[normalized]
	if !ok {
		s.count(lookups, "not_found")
		return types.ServiceRecord{}, errors.ErrNotFound
	}
	s.count(lookups, "ok")
	return e.record, nil
}

// Remove deletes the registration at the given path.
func (s *State) Remove(path string) error {
	var removals *prometheus.CounterVec
	if s.metrics != nil {
		removals = s.metrics.RemovalsTotal
	}

	normalized, err := endpoint.Normalize(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[normalized]; !ok {
		s.count(removals, "not_found")
		return errors.ErrNotFound
	}
	if err := s.tree.remove(normalized); err != nil {
		return err
	}
	delete(s.records, normalized)
	s.count(removals, "ok")
	s.setActive()
	return nil
}

// evict removes a registration found dead by the liveness monitor. Returns
// false when the path was already gone, so concurrent removal and eviction
// count once.
func (s *State) evict(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[path]; !ok {
		return false
	}
	if err := s.tree.remove(path); err != nil {
		return false
	}
	delete(s.records, path)
	if s.metrics != nil {
		s.metrics.EvictionsTotal.Inc()
	}
	s.setActive()
	return true
}

// List returns all current records, for the liveness monitor's sweep.
func (s *State) List() []types.ServiceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.ServiceRecord, 0, len(s.records))
	for _, e := range s.records {
		out = append(out, e.record)
	}
	return out
}

// markFailure bumps the probe failure count for a path and reports the new
// count. A path removed mid-sweep reports zero.
func (s *State) markFailure(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.records[path]
	if !ok {
		return 0
	}
	e.failures++
	return e.failures
}

// markSuccess resets the probe failure count after a responsive probe.
func (s *State) markSuccess(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.records[path]; ok {
		e.failures = 0
	}
}

// Snapshot returns the registered path hierarchy.
func (s *State) Snapshot() TreeNode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.snapshot()
}

// Size returns the number of registered publishers.
func (s *State) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
