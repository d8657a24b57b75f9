// Package memory provides an in-memory sync event store used in tests and
// embedded deployments.
package memory

import (
	"context"
	"sort"
	gosync "sync"

	syncpkg "github.com/ioc-platform/agentcore/runtime/sync"
)

// Store implements sync.Store with a mutex-guarded slice.
type Store struct {
	mu     gosync.RWMutex
	events []*syncpkg.Event
	byID   map[string]*syncpkg.Event
}

// New constructs an empty event store.
func New() *Store {
	return &Store{byID: make(map[string]*syncpkg.Event)}
}

// Append adds the event to the log.
func (s *Store) Append(_ context.Context, evt *syncpkg.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *evt
	s.events = append(s.events, &cp)
	s.byID[cp.ID] = &cp
	return nil
}

// Pending returns eligible events ordered by creation time ascending.
func (s *Store) Pending(_ context.Context, limit int, entityType string) ([]*syncpkg.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*syncpkg.Event
	for _, evt := range s.events {
		if !evt.Eligible() {
			continue
		}
		if entityType != "" && evt.EntityType != entityType {
			continue
		}
		cp := *evt
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Claim transitions the event to processing if it is still eligible. The
// check and the write happen under one lock, so concurrent claimers get a
// single winner.
func (s *Store) Claim(_ context.Context, evt *syncpkg.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[evt.ID]
	if !ok || !stored.Eligible() {
		return false, nil
	}
	stored.Status = evt.Status
	stored.ProcessedAt = evt.ProcessedAt
	return true, nil
}

// Update persists status changes for the event.
func (s *Store) Update(_ context.Context, evt *syncpkg.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[evt.ID]
	if !ok {
		return nil
	}
	stored.Status = evt.Status
	stored.Error = evt.Error
	stored.RetryCount = evt.RetryCount
	stored.ProcessedAt = evt.ProcessedAt
	stored.SyncedAt = evt.SyncedAt
	return nil
}

// Stats reports counts by status and the ten most recent failures.
func (s *Store) Stats(_ context.Context) (*syncpkg.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &syncpkg.Stats{ByStatus: make(map[syncpkg.Status]int64)}
	var failures []*syncpkg.Event
	for _, evt := range s.events {
		stats.Total++
		stats.ByStatus[evt.Status]++
		if evt.Status == syncpkg.StatusFailed {
			cp := *evt
			failures = append(failures, &cp)
		}
	}
	sort.SliceStable(failures, func(i, j int) bool {
		return failures[i].CreatedAt.After(failures[j].CreatedAt)
	})
	if len(failures) > 10 {
		failures = failures[:10]
	}
	stats.RecentFailures = failures
	return stats, nil
}
