package ratelimit

import (
	"context"
	"testing"
	"time"
)

func newTestLimiter(t *testing.T, config Config) (*Limiter, *MemoryCounters, *time.Time) {
	t.Helper()

	clock := time.Unix(1_000_000, 0)
	counters := NewMemoryCounters()
	counters.now = func() time.Time { return clock }

	l := New(counters, config, nil, nil)
	l.now = func() time.Time { return clock }
	return l, counters, &clock
}

func TestConsumeAccessQuota(t *testing.T) {
	config := Config{
		Access: Quota{Points: 3, Window: time.Second, Block: time.Hour},
		Error:  Quota{Points: 100, Window: time.Minute, Block: time.Hour},
	}
	l, _, clock := newTestLimiter(t, config)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.ConsumeAccess(ctx, "10.0.0.1")
		if err != nil {
			t.Fatalf("ConsumeAccess() #%d error = %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("ConsumeAccess() #%d allowed = false, want true", i)
		}
		if res.Remaining != 3-(i+1) {
			t.Errorf("ConsumeAccess() #%d remaining = %d, want %d", i, res.Remaining, 3-(i+1))
		}
	}

	res, err := l.ConsumeAccess(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("ConsumeAccess() over quota error = %v", err)
	}
	if res.Allowed {
		t.Fatal("ConsumeAccess() over quota allowed = true, want false")
	}
	if res.RetryAfter <= 0 {
		t.Errorf("ConsumeAccess() over quota RetryAfter = %v, want > 0", res.RetryAfter)
	}

	// The block outlives the counting window.
	*clock = clock.Add(10 * time.Second)
	res, err = l.ConsumeAccess(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("ConsumeAccess() while blocked error = %v", err)
	}
	if res.Allowed {
		t.Error("ConsumeAccess() while blocked allowed = true, want false")
	}

	// After the block lapses the address is admitted again.
	*clock = clock.Add(2 * time.Hour)
	res, err = l.ConsumeAccess(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("ConsumeAccess() after block error = %v", err)
	}
	if !res.Allowed {
		t.Error("ConsumeAccess() after block allowed = false, want true")
	}
}

func TestBudgetsAreIndependent(t *testing.T) {
	config := Config{
		Access: Quota{Points: 2, Window: time.Second, Block: time.Hour},
		Error:  Quota{Points: 2, Window: time.Minute, Block: time.Hour},
	}
	l, _, _ := newTestLimiter(t, config)
	ctx := context.Background()

	// Exhaust access; error must stay untouched.
	for i := 0; i < 3; i++ {
		if _, err := l.ConsumeAccess(ctx, "10.0.0.1"); err != nil {
			t.Fatalf("ConsumeAccess() error = %v", err)
		}
	}
	res, err := l.ConsumeError(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("ConsumeError() error = %v", err)
	}
	if !res.Allowed {
		t.Error("ConsumeError() allowed = false, want true (independent budget)")
	}
}

func TestErrorBlockedReadsWithoutConsuming(t *testing.T) {
	config := Config{
		Access:         Quota{Points: 100, Window: time.Second, Block: time.Hour},
		Error:          Quota{Points: 1, Window: time.Minute, Block: time.Hour},
		TrustedAddress: "192.168.1.10",
	}
	l, _, clock := newTestLimiter(t, config)
	ctx := context.Background()

	if _, blocked, err := l.ErrorBlocked(ctx, "10.0.0.1"); err != nil || blocked {
		t.Fatalf("ErrorBlocked() before any errors = %v, %v, want false, nil", blocked, err)
	}

	// Exhaust the error budget; the second consume sets the block.
	for i := 0; i < 2; i++ {
		if _, err := l.ConsumeError(ctx, "10.0.0.1"); err != nil {
			t.Fatalf("ConsumeError() error = %v", err)
		}
	}

	res, blocked, err := l.ErrorBlocked(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("ErrorBlocked() error = %v", err)
	}
	if !blocked {
		t.Fatal("ErrorBlocked() = false after budget exhausted")
	}
	if res.RetryAfter <= 0 {
		t.Errorf("ErrorBlocked() RetryAfter = %v, want > 0", res.RetryAfter)
	}

	// Reading the block state does not extend or consume anything:
	// repeated checks stay blocked for exactly the block duration.
	for i := 0; i < 5; i++ {
		if _, blocked, _ := l.ErrorBlocked(ctx, "10.0.0.1"); !blocked {
			t.Fatalf("ErrorBlocked() check %d = false while blocked", i)
		}
	}
	*clock = clock.Add(2 * time.Hour)
	if _, blocked, _ := l.ErrorBlocked(ctx, "10.0.0.1"); blocked {
		t.Error("ErrorBlocked() = true after the block lapsed")
	}

	// The trusted address is never reported blocked.
	for i := 0; i < 3; i++ {
		if _, err := l.ConsumeError(ctx, "192.168.1.10"); err != nil {
			t.Fatalf("ConsumeError() error = %v", err)
		}
	}
	if _, blocked, _ := l.ErrorBlocked(ctx, "192.168.1.10"); blocked {
		t.Error("ErrorBlocked() = true for the trusted address")
	}
}

func TestTrustedAddressBypass(t *testing.T) {
	config := Config{
		Access:         Quota{Points: 1, Window: time.Second, Block: time.Hour},
		Error:          Quota{Points: 1, Window: time.Minute, Block: time.Hour},
		TrustedAddress: "192.168.1.10",
	}
	l, _, _ := newTestLimiter(t, config)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		res, err := l.ConsumeAccess(ctx, "192.168.1.10")
		if err != nil {
			t.Fatalf("ConsumeAccess() error = %v", err)
		}
		if !res.Allowed {
			t.Fatalf("trusted address throttled on attempt %d", i)
		}
	}
	for i := 0; i < 50; i++ {
		res, err := l.ConsumeError(ctx, "192.168.1.10")
		if err != nil {
			t.Fatalf("ConsumeError() error = %v", err)
		}
		if !res.Allowed {
			t.Fatalf("trusted address error-blocked on attempt %d", i)
		}
	}
}

func TestMemoryCountersWindowReset(t *testing.T) {
	clock := time.Unix(1_000_000, 0)
	counters := NewMemoryCounters()
	counters.now = func() time.Time { return clock }
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		count, ttl, err := counters.Increment(ctx, "k", time.Second)
		if err != nil {
			t.Fatalf("Increment() error = %v", err)
		}
		if count != i {
			t.Errorf("Increment() count = %d, want %d", count, i)
		}
		if ttl <= 0 || ttl > time.Second {
			t.Errorf("Increment() ttl = %v, want (0, 1s]", ttl)
		}
	}

	clock = clock.Add(2 * time.Second)
	count, _, err := counters.Increment(ctx, "k", time.Second)
	if err != nil {
		t.Fatalf("Increment() after window error = %v", err)
	}
	if count != 1 {
		t.Errorf("Increment() after window count = %d, want 1 (fresh window)", count)
	}
}

func TestMemoryCountersBlock(t *testing.T) {
	clock := time.Unix(1_000_000, 0)
	counters := NewMemoryCounters()
	counters.now = func() time.Time { return clock }
	ctx := context.Background()

	if _, blocked, _ := counters.Blocked(ctx, "b"); blocked {
		t.Fatal("Blocked() = true before any Block()")
	}

	if err := counters.Block(ctx, "b", time.Minute); err != nil {
		t.Fatalf("Block() error = %v", err)
	}
	retryAfter, blocked, err := counters.Blocked(ctx, "b")
	if err != nil {
		t.Fatalf("Blocked() error = %v", err)
	}
	if !blocked {
		t.Fatal("Blocked() = false after Block()")
	}
	if retryAfter != time.Minute {
		t.Errorf("Blocked() retryAfter = %v, want %v", retryAfter, time.Minute)
	}

	clock = clock.Add(2 * time.Minute)
	if _, blocked, _ := counters.Blocked(ctx, "b"); blocked {
		t.Error("Blocked() = true after block lapsed")
	}
}

func TestRouteLimiter(t *testing.T) {
	rl := NewRouteLimiter(Quota{Points: 3, Window: time.Minute})
	now := time.Unix(1_000_000, 0)

	for i := 0; i < 3; i++ {
		if ok, _ := rl.Allow("10.0.0.1", now); !ok {
			t.Fatalf("Allow() #%d = false, want true", i)
		}
	}

	ok, retryAfter := rl.Allow("10.0.0.1", now.Add(time.Second))
	if ok {
		t.Fatal("Allow() over quota = true, want false")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Errorf("Allow() retryAfter = %v, want (0, 1m]", retryAfter)
	}

	// Other addresses keep their own window.
	if ok, _ := rl.Allow("10.0.0.2", now); !ok {
		t.Error("Allow() for fresh address = false, want true")
	}

	// The window resets lazily once the deadline passes.
	if ok, _ := rl.Allow("10.0.0.1", now.Add(2*time.Minute)); !ok {
		t.Error("Allow() after window = false, want true")
	}
}
