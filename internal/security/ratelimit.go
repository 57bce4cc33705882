package security

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CounterStore tracks fixed-window request counts per key. Incr atomically
// bumps the counter for key, starting a new window of the given length when
// none is active, and reports the count inside the current window plus when
// that window expires.
type CounterStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
}

// Profile is one named rate-limit class. Endpoints declare which profile
// they are metered under; limits are never global.
type Profile struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Decision is the outcome of a limiter check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time

	// RetryAfter is the whole-seconds wait before the caller may try
	// again. Zero when allowed.
	RetryAfter int
}

// Limiter meters request admission per identity using fixed windows.
// Profiles may be swapped at runtime via SetProfiles; counters in flight
// keep their current windows.
type Limiter struct {
	store CounterStore
	now   func() time.Time

	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewLimiter builds a limiter over the given counter store and profiles.
func NewLimiter(store CounterStore, profiles ...Profile) *Limiter {
	l := &Limiter{store: store, now: time.Now}
	l.SetProfiles(profiles...)
	return l
}

// SetProfiles replaces the registered profiles wholesale.
func (l *Limiter) SetProfiles(profiles ...Profile) {
	m := make(map[string]Profile, len(profiles))
	for _, p := range profiles {
		m[p.Name] = p
	}
	l.mu.Lock()
	l.profiles = m
	l.mu.Unlock()
}

// Profile returns the named profile, if registered.
func (l *Limiter) Profile(name string) (Profile, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.profiles[name]
	return p, ok
}

// Allow admits or rejects one request from identity under the named
// profile. The first request in a window creates the counter; the request
// that would push the count past the profile limit is rejected with a
// retry hint, and the window boundary resets the count.
func (l *Limiter) Allow(ctx context.Context, profile, identity string) (Decision, error) {
	l.mu.RLock()
	p, ok := l.profiles[profile]
	l.mu.RUnlock()
	if !ok {
		return Decision{}, fmt.Errorf("unknown rate limit profile %q", profile)
	}

	key := "ratelimit:" + p.Name + ":" + identity
	count, resetAt, err := l.store.Incr(ctx, key, p.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit counter: %w", err)
	}

	d := Decision{
		Allowed: count <= int64(p.Limit),
		Limit:   p.Limit,
		ResetAt: resetAt,
	}
	if remaining := int64(p.Limit) - count; remaining > 0 {
		d.Remaining = int(remaining)
	}
	if !d.Allowed {
		wait := resetAt.Sub(l.now())
		if wait < 0 {
			wait = 0
		}
		d.RetryAfter = int(wait.Round(time.Second) / time.Second)
		if d.RetryAfter < 1 {
			d.RetryAfter = 1
		}
	}
	return d, nil
}
