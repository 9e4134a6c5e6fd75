package ratelimit

import (
	"context"
	"time"
)

// Result describes the outcome of a rate limit check.
type Result struct {
	Allowed bool
	// Limit is the budget the check ran against; 0 means unlimited.
	Limit     int
	Remaining int
	// RetryAfter is set on denials and lies in (0, window].
	RetryAfter time.Duration
	// Reset is when the oldest recorded call leaves the window.
	Reset time.Time
}

// Limiter provides sliding-window rate limit checks.
type Limiter interface {
	// Allow evicts expired calls, then records now when under limit.
	Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error)
	// Peek reports the state Allow would see without recording a call.
	Peek(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error)
}

// retryAfter returns how long until oldest leaves the window, clamped to
// (0, window].
func retryAfter(oldest time.Time, window time.Duration, now time.Time) time.Duration {
	wait := oldest.Add(window).Sub(now)
	minWait := time.Second
	if window < minWait {
		minWait = window
	}
	if wait < minWait {
		wait = minWait
	}
	if wait > window {
		wait = window
	}
	return wait
}
