package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryWindow struct {
	count   int64
	resetAt time.Time
}

// MemoryCounters implements CounterStore with in-process maps. It keeps
// the same fixed-window semantics as RedisCounters but offers no
// cross-process coordination; it serves development and tests.
type MemoryCounters struct {
	mu      sync.Mutex
	windows map[string]memoryWindow
	blocks  map[string]time.Time
	now     func() time.Time
}

var _ CounterStore = (*MemoryCounters)(nil)

// NewMemoryCounters creates an empty in-process counter store.
func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{
		windows: make(map[string]memoryWindow),
		blocks:  make(map[string]time.Time),
		now:     time.Now,
	}
}

// Increment bumps the window counter, lazily resetting lapsed windows.
func (s *MemoryCounters) Increment(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = memoryWindow{count: 0, resetAt: now.Add(window)}
	}
	w.count++
	s.windows[key] = w
	return w.count, w.resetAt.Sub(now), nil
}

// Block marks key as blocked for d.
func (s *MemoryCounters) Block(_ context.Context, key string, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[key] = s.now().Add(d)
	return nil
}

// Blocked reports the remaining block time under key.
func (s *MemoryCounters) Blocked(_ context.Context, key string) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.blocks[key]
	if !ok {
		return 0, false, nil
	}
	now := s.now()
	if !now.Before(until) {
		delete(s.blocks, key)
		return 0, false, nil
	}
	return until.Sub(now), true, nil
}
