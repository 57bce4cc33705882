package audit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps events in process memory. Suitable for tests and
// single-instance deployments; everything is lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryStore builds an empty in-process event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append implements EventStore.
func (s *MemoryStore) Append(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// ListByUser implements EventStore. Events at or after since are
// returned in append order.
func (s *MemoryStore) ListByUser(_ context.Context, userID string, since time.Time) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for _, ev := range s.events {
		if ev.UserID == userID && !ev.Timestamp.Before(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// ListRecent implements EventStore, newest first.
func (s *MemoryStore) ListRecent(_ context.Context, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.events)
	if limit < n {
		n = limit
	}
	out := make([]Event, 0, n)
	for i := len(s.events) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.events[i])
	}
	return out, nil
}

// Prune implements EventStore, dropping events older than before.
func (s *MemoryStore) Prune(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	removed := 0
	for _, ev := range s.events {
		if ev.Timestamp.Before(before) {
			removed++
			continue
		}
		kept = append(kept, ev)
	}
	s.events = kept
	return removed, nil
}

// Len reports the number of stored events.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
