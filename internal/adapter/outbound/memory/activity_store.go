package memory

import (
	"context"
	"sync"

	"github.com/latch-sh/latch/internal/domain/activity"
)

const (
	defaultActivityCapacity = 10000
	defaultQueryLimit       = 100
	maxQueryLimit           = 1000
)

// ActivityStore is a bounded in-memory activity.Store. Oldest events are
// evicted when the ring fills; ids stay monotonic across eviction.
type ActivityStore struct {
	mu       sync.RWMutex
	events   []activity.Event
	capacity int
	nextID   int64
}

// NewActivityStore creates a store holding at most capacity events.
// Non-positive capacity uses the default.
func NewActivityStore(capacity int) *ActivityStore {
	if capacity <= 0 {
		capacity = defaultActivityCapacity
	}
	return &ActivityStore{capacity: capacity, nextID: 1}
}

// Append stores the event with the next monotonic id.
func (s *ActivityStore) Append(ctx context.Context, ev activity.Event) (activity.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.ID = s.nextID
	s.nextID++
	s.events = append(s.events, ev)
	if len(s.events) > s.capacity {
		s.events = s.events[len(s.events)-s.capacity:]
	}
	return ev, nil
}

// Query returns matching events newest first.
func (s *ActivityStore) Query(ctx context.Context, f activity.Filter) ([]activity.Event, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]activity.Event, 0, limit)
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if matchesFilter(s.events[i], f) {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}

// QueryStats aggregates matching events.
func (s *ActivityStore) QueryStats(ctx context.Context, f activity.Filter) (*activity.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &activity.Stats{
		BySession: make(map[string]int64),
		ByTool:    make(map[string]int64),
	}
	for _, ev := range s.events {
		if !matchesFilter(ev, f) {
			continue
		}
		stats.Total++
		switch ev.Decision {
		case activity.DecisionAllow:
			stats.Allowed++
		case activity.DecisionDeny:
			stats.Denied++
		}
		stats.BySession[ev.SessionID]++
		stats.ByTool[ev.ToolName]++
	}
	return stats, nil
}

// Close is a no-op for the in-memory store.
func (s *ActivityStore) Close() error { return nil }

func matchesFilter(ev activity.Event, f activity.Filter) bool {
	if !f.Since.IsZero() && ev.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && ev.Timestamp.After(f.Until) {
		return false
	}
	if f.SessionID != "" && ev.SessionID != f.SessionID {
		return false
	}
	if f.Decision != "" && ev.Decision != f.Decision {
		return false
	}
	if f.HarnessID != "" && ev.HarnessID != f.HarnessID {
		return false
	}
	return true
}

// Compile-time interface verification.
var _ activity.Store = (*ActivityStore)(nil)
