// Package ratelimit gates protocol operations with two distributed
// counters per caller address (raw request volume and rejected-request
// abuse) plus a per-process fixed-window route limiter for expensive
// endpoints.
package ratelimit

import (
	"context"
	"time"
)

// Quota describes one budget: Points consumptions per Window, and the
// Block duration imposed once the budget is exhausted.
type Quota struct {
	Points int
	Window time.Duration
	Block  time.Duration
}

// Result is the outcome of one consumption attempt.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// CounterStore provides atomic fixed-window counters and block flags.
// Implementations must be safe for concurrent use by multiple server
// processes sharing one backing store.
type CounterStore interface {
	// Increment adds one to the counter under key, starting a fresh
	// window when the key is new, and returns the updated count with
	// the remaining window time.
	Increment(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)

	// Block marks key as blocked for d.
	Block(ctx context.Context, key string, d time.Duration) error

	// Blocked reports whether key is currently blocked and for how much
	// longer.
	Blocked(ctx context.Context, key string) (retryAfter time.Duration, blocked bool, err error)
}
