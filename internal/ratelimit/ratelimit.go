// Package ratelimit provides a sliding-window rate limiter keyed by an
// identity string.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter implements a per-key sliding-window rate limiter.
// Keys are independent: one user's burst never throttles another.
// Entries are pruned lazily on each check; there is no background
// eviction, so behavior under an injected clock stays deterministic.
type Limiter struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	max     int
	window  time.Duration
	now     func() time.Time
}

// New creates a limiter allowing max events per key within window.
func New(max int, window time.Duration) *Limiter {
	return &Limiter{
		entries: make(map[string][]time.Time),
		max:     max,
		window:  window,
		now:     time.Now,
	}
}

// SetClock replaces the time source. Tests use this to advance time
// without sleeping.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Allow reports whether an event is permitted for the key right now.
// A permitted event is recorded; a denied one is not.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := l.prune(key, now)

	if len(recent) >= l.max {
		l.entries[key] = recent
		return false
	}

	l.entries[key] = append(recent, now)
	return true
}

// RemainingTime returns how long until the key is allowed again.
// Zero when the key is currently under the cap.
func (l *Limiter) RemainingTime(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := l.prune(key, now)
	l.entries[key] = recent

	if len(recent) < l.max {
		return 0
	}
	oldest := recent[0]
	return oldest.Add(l.window).Sub(now)
}

// Reset clears the key's history, re-admitting it immediately.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// prune drops entries older than the window. Caller holds the lock.
func (l *Limiter) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	var recent []time.Time
	for _, t := range l.entries[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	return recent
}
