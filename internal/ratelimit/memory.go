package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	mu     sync.Mutex
	stamps []time.Time
	// dead is set by Sweep once the entry left the map.
	dead bool
}

// MemoryLimiter implements a sliding-window log per key. The key map is the
// only structure guarded by the limiter-wide mutex; each key's log has its
// own lock so unrelated users never contend on the check-and-record step.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

// NewMemoryLimiter constructs a MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		entries: make(map[string]*memoryEntry),
	}
}

// Allow records now for key when fewer than limit calls fall in the window.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	return l.check(key, limit, window, now, true), nil
}

// Peek reports the current window state for key without recording.
func (l *MemoryLimiter) Peek(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	return l.check(key, limit, window, now, false), nil
}

func (l *MemoryLimiter) check(key string, limit int, window time.Duration, now time.Time, record bool) Result {
	if limit <= 0 || window <= 0 || key == "" {
		return Result{Allowed: true}
	}
	for {
		entry := l.entry(key)
		entry.mu.Lock()
		if entry.dead {
			entry.mu.Unlock()
			continue
		}
		result := entry.apply(limit, window, now, record)
		entry.mu.Unlock()
		return result
	}
}

func (l *MemoryLimiter) entry(key string) *memoryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := l.entries[key]
	if entry == nil {
		entry = &memoryEntry{}
		l.entries[key] = entry
	}
	return entry
}

// apply must run with e.mu held.
func (e *memoryEntry) apply(limit int, window time.Duration, now time.Time, record bool) Result {
	e.evict(now.Add(-window))

	if len(e.stamps) >= limit {
		oldest := e.stamps[0]
		return Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			RetryAfter: retryAfter(oldest, window, now),
			Reset:      oldest.Add(window),
		}
	}
	if record {
		e.stamps = append(e.stamps, now)
	}
	reset := now.Add(window)
	if len(e.stamps) > 0 {
		reset = e.stamps[0].Add(window)
	}
	return Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(e.stamps),
		Reset:     reset,
	}
}

// evict drops stamps at or before cutoff.
func (e *memoryEntry) evict(cutoff time.Time) {
	drop := 0
	for drop < len(e.stamps) && !e.stamps[drop].After(cutoff) {
		drop++
	}
	if drop == 0 {
		return
	}
	remaining := copy(e.stamps, e.stamps[drop:])
	e.stamps = e.stamps[:remaining]
}

// Sweep evicts expired stamps and forgets keys with no calls left in window.
func (l *MemoryLimiter) Sweep(window time.Duration, now time.Time) int {
	if l == nil || window <= 0 {
		return 0
	}
	cutoff := now.Add(-window)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, entry := range l.entries {
		entry.mu.Lock()
		entry.evict(cutoff)
		if len(entry.stamps) == 0 {
			entry.dead = true
			delete(l.entries, key)
			removed++
		}
		entry.mu.Unlock()
	}
	return removed
}

// Len reports how many keys are tracked.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
