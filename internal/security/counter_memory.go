package security

import (
	"context"
	"sync"
	"time"
)

// counterEntry is one identity's live window.
type counterEntry struct {
	count   int64
	resetAt time.Time
}

// MemoryCounterStore keeps windows in a process-local map. Expired entries
// are reaped lazily during Incr rather than by a background goroutine.
type MemoryCounterStore struct {
	mu        sync.Mutex
	entries   map[string]*counterEntry
	lastSweep time.Time
	sweepEvery time.Duration
	now       func() time.Time
}

// NewMemoryCounterStore builds an empty in-process counter store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		entries:   make(map[string]*counterEntry),
		sweepEvery: time.Minute,
		now:       time.Now,
	}
}

// Incr implements CounterStore. The read-modify-write happens under the
// store lock so concurrent requests from one identity cannot both slip
// past a stale count.
func (s *MemoryCounterStore) Incr(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweepLocked(now)

	e, ok := s.entries[key]
	if !ok || now.After(e.resetAt) {
		e = &counterEntry{resetAt: now.Add(window)}
		s.entries[key] = e
	}
	e.count++
	return e.count, e.resetAt, nil
}

// Len reports the number of live entries, expired ones included until the
// next sweep.
func (s *MemoryCounterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// sweepLocked drops expired windows at most once per sweep interval.
// Callers hold s.mu.
func (s *MemoryCounterStore) sweepLocked(now time.Time) {
	if now.Sub(s.lastSweep) < s.sweepEvery {
		return
	}
	s.lastSweep = now
	for k, e := range s.entries {
		if now.After(e.resetAt) {
			delete(s.entries, k)
		}
	}
}
