package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounters implements CounterStore on a shared Redis instance so
// that the budgets hold across server processes.
type RedisCounters struct {
	client redis.UniversalClient
}

var _ CounterStore = (*RedisCounters)(nil)

// NewRedisCounters creates a counter store on the given client. The
// caller owns the client's lifecycle.
func NewRedisCounters(client redis.UniversalClient) *RedisCounters {
	return &RedisCounters{client: client}
}

// Increment atomically bumps the window counter. The expiry is set only
// when the key is created, so the window is fixed rather than sliding.
func (s *RedisCounters) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to increment counter %q: %w", key, err)
	}
	if count == 1 {
		if err := s.client.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("failed to set counter window %q: %w", key, err)
		}
		return count, window, nil
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read counter ttl %q: %w", key, err)
	}
	if ttl < 0 {
		// The key lost its expiry (flush race); restore the window so it
		// cannot count forever.
		if err := s.client.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("failed to restore counter window %q: %w", key, err)
		}
		ttl = window
	}
	return count, ttl, nil
}

// Block sets the block flag under key for d.
func (s *RedisCounters) Block(ctx context.Context, key string, d time.Duration) error {
	if err := s.client.Set(ctx, key, "1", d).Err(); err != nil {
		return fmt.Errorf("failed to set block %q: %w", key, err)
	}
	return nil
}

// Blocked reads the remaining block time under key.
func (s *RedisCounters) Blocked(ctx context.Context, key string) (time.Duration, bool, error) {
	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read block %q: %w", key, err)
	}
	if ttl <= 0 {
		return 0, false, nil
	}
	return ttl, true, nil
}
