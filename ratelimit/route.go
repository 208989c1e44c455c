package ratelimit

import (
	"sync"
	"time"
)

type routeWindow struct {
	count   int
	resetAt time.Time
}

// RouteLimiter is a per-process fixed-window limiter for a single
// expensive route. Windows reset lazily on the next check rather than
// being swept; no cross-process coordination is needed because it only
// supplements the distributed budgets.
type RouteLimiter struct {
	mu      sync.Mutex
	quota   Quota
	windows map[string]routeWindow
}

// NewRouteLimiter creates a route limiter with the given quota. The
// quota's Block duration is unused; exhaustion lasts until the window
// resets.
func NewRouteLimiter(quota Quota) *RouteLimiter {
	return &RouteLimiter{
		quota:   quota,
		windows: make(map[string]routeWindow),
	}
}

// Allow charges one unit for addr at the given instant. When the quota
// is exhausted it returns false with the time until the window resets;
// the caller escalates that into the distributed error budget.
func (r *RouteLimiter) Allow(addr string, now time.Time) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.windows[addr]
	if !ok || !now.Before(w.resetAt) {
		w = routeWindow{count: 0, resetAt: now.Add(r.quota.Window)}
	}
	if w.count >= r.quota.Points {
		r.windows[addr] = w
		return false, w.resetAt.Sub(now)
	}
	w.count++
	r.windows[addr] = w
	return true, 0
}
