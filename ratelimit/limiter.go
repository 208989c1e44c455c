package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mainhub/authority/instrumentation"
)

// Config holds the two distributed budgets and the bypass address.
type Config struct {
	// Access throttles raw request volume per caller address.
	Access Quota

	// Error throttles rejected requests per caller address. It has a
	// larger quota and a much longer block so probing is punished
	// independently of legitimate traffic volume.
	Error Quota

	// TrustedAddress is never throttled (health checks, the fronting
	// session layer). Empty means no bypass.
	TrustedAddress string

	// ExposeHeaders enables X-RateLimit-* response headers. Off by
	// default so rate-limit state is not leaked to attackers.
	ExposeHeaders bool
}

// Limiter consumes from the distributed access and error budgets.
type Limiter struct {
	counters CounterStore
	config   Config
	logger   *slog.Logger
	metrics  *instrumentation.Metrics
	now      func() time.Time
}

// New creates a limiter over the given counter store.
func New(counters CounterStore, config Config, logger *slog.Logger, metrics *instrumentation.Metrics) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		counters: counters,
		config:   config,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// ExposeHeaders reports whether X-RateLimit-* headers are enabled.
func (l *Limiter) ExposeHeaders() bool {
	return l.config.ExposeHeaders
}

// ConsumeAccess charges one unit of the access budget for addr. Every
// inbound request attempt pays this before any work happens.
func (l *Limiter) ConsumeAccess(ctx context.Context, addr string) (Result, error) {
	return l.consume(ctx, "access", l.config.Access, addr)
}

// ConsumeError charges one unit of the error budget for addr. Called
// once per semantically rejected request.
func (l *Limiter) ConsumeError(ctx context.Context, addr string) (Result, error) {
	return l.consume(ctx, "error", l.config.Error, addr)
}

// ErrorBlocked reports whether addr is currently blocked by the error
// budget, without consuming anything. An error-blocked address is shut
// out of the protocol entirely, well-formed requests included.
func (l *Limiter) ErrorBlocked(ctx context.Context, addr string) (Result, bool, error) {
	if addr != "" && addr == l.config.TrustedAddress {
		return Result{}, false, nil
	}

	blockKey := fmt.Sprintf("ratelimit:error:%s:block", addr)
	retryAfter, blocked, err := l.counters.Blocked(ctx, blockKey)
	if err != nil {
		return Result{}, false, err
	}
	if !blocked {
		return Result{}, false, nil
	}

	l.metrics.RecordRateLimited(ctx, "error")
	return Result{
		Limit:      l.config.Error.Points,
		RetryAfter: retryAfter,
		ResetAt:    l.now().Add(retryAfter),
	}, true, nil
}

func (l *Limiter) consume(ctx context.Context, budget string, quota Quota, addr string) (Result, error) {
	if addr != "" && addr == l.config.TrustedAddress {
		return Result{Allowed: true, Limit: quota.Points, Remaining: quota.Points}, nil
	}

	countKey := fmt.Sprintf("ratelimit:%s:%s", budget, addr)
	blockKey := countKey + ":block"

	retryAfter, blocked, err := l.counters.Blocked(ctx, blockKey)
	if err != nil {
		return Result{}, err
	}
	if blocked {
		l.metrics.RecordRateLimited(ctx, budget)
		return Result{
			Limit:      quota.Points,
			RetryAfter: retryAfter,
			ResetAt:    l.now().Add(retryAfter),
		}, nil
	}

	count, ttl, err := l.counters.Increment(ctx, countKey, quota.Window)
	if err != nil {
		return Result{}, err
	}
	if count > int64(quota.Points) {
		if err := l.counters.Block(ctx, blockKey, quota.Block); err != nil {
			return Result{}, err
		}
		l.metrics.RecordRateLimited(ctx, budget)
		l.logger.Warn("rate limit exceeded",
			"budget", budget,
			"addr", addr,
			"block", quota.Block)
		return Result{
			Limit:      quota.Points,
			RetryAfter: quota.Block,
			ResetAt:    l.now().Add(quota.Block),
		}, nil
	}

	return Result{
		Allowed:   true,
		Limit:     quota.Points,
		Remaining: quota.Points - int(count),
		ResetAt:   l.now().Add(ttl),
	}, nil
}
