package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metric instruments. All recording helpers are
// nil-safe so components can run without instrumentation wired.
type Metrics struct {
	// Protocol metrics
	CodesIssued   metric.Int64Counter
	TokensIssued  metric.Int64Counter
	TokensRevoked metric.Int64Counter

	// Abuse-resistance metrics
	RateLimitRejections metric.Int64Counter

	// Cache metrics
	CacheHits      metric.Int64Counter
	CacheMisses    metric.Int64Counter
	CacheEvictions metric.Int64Counter

	// Sweep metrics
	SweepRuns metric.Int64Counter
}

// newMetrics creates and registers all metric instruments.
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	serverMeter := inst.Meter("server")
	cacheMeter := inst.Meter("cache")
	limitMeter := inst.Meter("ratelimit")

	var err error
	m.CodesIssued, err = serverMeter.Int64Counter(
		"authority.codes.issued",
		metric.WithDescription("Number of authorization codes issued"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create codes.issued counter: %w", err)
	}

	m.TokensIssued, err = serverMeter.Int64Counter(
		"authority.tokens.issued",
		metric.WithDescription("Number of access/refresh pairs issued"),
		metric.WithUnit("{pair}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.issued counter: %w", err)
	}

	m.TokensRevoked, err = serverMeter.Int64Counter(
		"authority.tokens.revoked",
		metric.WithDescription("Number of token pairs revoked"),
		metric.WithUnit("{pair}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.revoked counter: %w", err)
	}

	m.RateLimitRejections, err = limitMeter.Int64Counter(
		"authority.ratelimit.rejections",
		metric.WithDescription("Number of requests rejected by a rate limit budget"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.rejections counter: %w", err)
	}

	m.CacheHits, err = cacheMeter.Int64Counter(
		"authority.cache.hits",
		metric.WithDescription("Number of token cache memory hits"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache.hits counter: %w", err)
	}

	m.CacheMisses, err = cacheMeter.Int64Counter(
		"authority.cache.misses",
		metric.WithDescription("Number of token cache lookups that went to the store"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache.misses counter: %w", err)
	}

	m.CacheEvictions, err = cacheMeter.Int64Counter(
		"authority.cache.evictions",
		metric.WithDescription("Number of cache entries removed by a sweep"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache.evictions counter: %w", err)
	}

	m.SweepRuns, err = cacheMeter.Int64Counter(
		"authority.sweep.runs",
		metric.WithDescription("Number of sweep executions"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sweep.runs counter: %w", err)
	}

	return m, nil
}

// RecordCodeIssued counts an issued authorization code.
func (m *Metrics) RecordCodeIssued(ctx context.Context) {
	if m == nil {
		return
	}
	m.CodesIssued.Add(ctx, 1)
}

// RecordTokensIssued counts an issued access/refresh pair.
func (m *Metrics) RecordTokensIssued(ctx context.Context, grantType string) {
	if m == nil {
		return
	}
	m.TokensIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("grant_type", grantType)))
}

// RecordTokensRevoked counts a revoked pair.
func (m *Metrics) RecordTokensRevoked(ctx context.Context) {
	if m == nil {
		return
	}
	m.TokensRevoked.Add(ctx, 1)
}

// RecordRateLimited counts a rejection charged to the given budget
// ("access", "error" or "route").
func (m *Metrics) RecordRateLimited(ctx context.Context, budget string) {
	if m == nil {
		return
	}
	m.RateLimitRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("budget", budget)))
}

// RecordCacheHit counts a memory hit for the given record kind.
func (m *Metrics) RecordCacheHit(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordCacheMiss counts a lookup that fell through to the store.
func (m *Metrics) RecordCacheMiss(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordCacheEvictions counts entries removed by a sweep
// ("housekeeping" or "expired").
func (m *Metrics) RecordCacheEvictions(ctx context.Context, reason string, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.CacheEvictions.Add(ctx, n, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordSweepRun counts a sweep execution of the given flavor.
func (m *Metrics) RecordSweepRun(ctx context.Context, flavor string) {
	if m == nil {
		return
	}
	m.SweepRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("flavor", flavor)))
}
