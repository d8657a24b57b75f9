// Package memory provides an in-memory registry store used in tests and
// embedded deployments.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ioc-platform/agentcore/runtime/registry"
	syncpkg "github.com/ioc-platform/agentcore/runtime/sync"
)

// Store implements registry.Store with a mutex-guarded map. Change events are
// appended to the recorder under the same lock, giving the transactional
// coupling the service relies on.
type Store struct {
	mu      sync.RWMutex
	specs   map[string]*registry.FunctionSpec
	order   []string // insertion order, newest last
	events  syncpkg.Recorder
	success map[string]int64 // successful call counts for running rates
}

// Options configures the memory store.
type Options struct {
	// Events receives change events appended atomically with writes. Required.
	Events syncpkg.Recorder
}

// New constructs an empty memory store.
func New(opts Options) (*Store, error) {
	if opts.Events == nil {
		return nil, errors.New("events recorder is required")
	}
	return &Store{
		specs:   make(map[string]*registry.FunctionSpec),
		events:  opts.Events,
		success: make(map[string]int64),
	}, nil
}

// Create stores the spec and appends the event. Fails with ErrExists when the
// ID is taken; the event is not appended in that case.
func (s *Store) Create(ctx context.Context, fn *registry.FunctionSpec, evt *syncpkg.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.specs[fn.ID]; ok {
		return registry.ErrExists
	}
	if err := s.events.Append(ctx, evt); err != nil {
		return err
	}
	s.specs[fn.ID] = fn.Clone()
	s.order = append(s.order, fn.ID)
	return nil
}

// Get returns a copy of the spec or ErrNotFound.
func (s *Store) Get(_ context.Context, id string) (*registry.FunctionSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fn, ok := s.specs[id]
	if !ok {
		return nil, registry.ErrNotFound
	}
	return fn.Clone(), nil
}

// Update replaces the stored spec and appends the event atomically.
func (s *Store) Update(ctx context.Context, fn *registry.FunctionSpec, evt *syncpkg.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.specs[fn.ID]
	if !ok {
		return registry.ErrNotFound
	}
	if err := s.events.Append(ctx, evt); err != nil {
		return err
	}
	updated := fn.Clone()
	// Usage stats are owned by RecordUsage, not by updates.
	updated.CallCount = current.CallCount
	updated.AvgLatencyMs = current.AvgLatencyMs
	updated.SuccessRate = current.SuccessRate
	updated.LastCalledAt = current.LastCalledAt
	updated.CreatedAt = current.CreatedAt
	s.specs[fn.ID] = updated
	return nil
}

// Delete removes the spec and appends the event atomically.
func (s *Store) Delete(ctx context.Context, id string, evt *syncpkg.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.specs[id]; !ok {
		return registry.ErrNotFound
	}
	if err := s.events.Append(ctx, evt); err != nil {
		return err
	}
	delete(s.specs, id)
	delete(s.success, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// List filters functions and returns them newest first with the total count.
func (s *Store) List(_ context.Context, filter registry.Filter) ([]*registry.FunctionSpec, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*registry.FunctionSpec
	// Walk insertion order backwards for created_at descending.
	for i := len(s.order) - 1; i >= 0; i-- {
		fn, ok := s.specs[s.order[i]]
		if !ok {
			continue
		}
		if !matches(fn, filter) {
			continue
		}
		matched = append(matched, fn)
	}
	total := int64(len(matched))

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	out := make([]*registry.FunctionSpec, len(matched))
	for i, fn := range matched {
		out[i] = fn.Clone()
	}
	return out, total, nil
}

// Search performs a case-insensitive substring match over name, description
// and ID, ordered by call count descending.
func (s *Store) Search(_ context.Context, query string, limit int) ([]*registry.FunctionSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(query)
	var hits []*registry.FunctionSpec
	for _, fn := range s.specs {
		if strings.Contains(strings.ToLower(fn.Name), q) ||
			strings.Contains(strings.ToLower(fn.Description), q) ||
			strings.Contains(strings.ToLower(fn.ID), q) {
			hits = append(hits, fn)
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].CallCount > hits[j].CallCount
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]*registry.FunctionSpec, len(hits))
	for i, fn := range hits {
		out[i] = fn.Clone()
	}
	return out, nil
}

// RecordUsage folds one call into the running statistics.
func (s *Store) RecordUsage(_ context.Context, id string, latencyMs float64, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn, ok := s.specs[id]
	if !ok {
		return registry.ErrNotFound
	}
	fn.CallCount++
	n := float64(fn.CallCount)
	fn.AvgLatencyMs = (fn.AvgLatencyMs*(n-1) + latencyMs) / n
	if success {
		s.success[id]++
	}
	fn.SuccessRate = float64(s.success[id]) / n * 100
	now := time.Now().UTC()
	fn.LastCalledAt = &now
	return nil
}

// Statistics aggregates registry-wide counters.
func (s *Store) Statistics(_ context.Context) (*registry.Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &registry.Statistics{ByDomain: make(map[string]int64)}
	var all []*registry.FunctionSpec
	for _, fn := range s.specs {
		stats.Total++
		if !fn.Deprecated {
			stats.Active++
		}
		stats.ByDomain[fn.Domain]++
		all = append(all, fn)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CallCount > all[j].CallCount
	})
	top := all
	if len(top) > 10 {
		top = top[:10]
	}
	stats.MostCalled = make([]*registry.FunctionSpec, len(top))
	for i, fn := range top {
		stats.MostCalled[i] = fn.Clone()
	}
	return stats, nil
}

func matches(fn *registry.FunctionSpec, filter registry.Filter) bool {
	if filter.Domain != "" && fn.Domain != filter.Domain {
		return false
	}
	if filter.Deprecated != nil && fn.Deprecated != *filter.Deprecated {
		return false
	}
	if len(filter.Tags) > 0 && !tagsOverlap(fn.Tags, filter.Tags) {
		return false
	}
	return true
}

func tagsOverlap(a, b []string) bool {
	for _, ta := range a {
		for _, tb := range b {
			if ta == tb {
				return true
			}
		}
	}
	return false
}
