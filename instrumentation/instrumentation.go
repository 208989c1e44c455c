// Package instrumentation provides OpenTelemetry metrics for the
// authorization server: token issuance and revocation, cache
// effectiveness, sweep activity, and rate-limit rejections.
package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// DefaultServiceVersion is used when no version is provided.
const DefaultServiceVersion = "unknown"

// Config holds instrumentation configuration.
type Config struct {
	// ServiceName identifies this deployment in exported metrics.
	ServiceName string

	// ServiceVersion is the running version of the service.
	ServiceVersion string

	// Enabled controls whether instruments record anything. When false
	// a no-op provider is used and recording costs nothing.
	Enabled bool

	// MeterProvider supplies the meters. When nil and Enabled, the
	// no-op provider is still used; callers wire a real provider
	// (Prometheus, OTLP) from the outside.
	MeterProvider metric.MeterProvider
}

// Instrumentation owns the meter provider and the pre-built metric
// instruments.
type Instrumentation struct {
	config        Config
	resource      *resource.Resource
	meterProvider metric.MeterProvider
	metrics       *Metrics
}

// New creates an instrumentation instance and registers all metric
// instruments.
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = "authority"
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	inst := &Instrumentation{
		config:   config,
		resource: res,
	}

	switch {
	case !config.Enabled, config.MeterProvider == nil:
		inst.meterProvider = noop.NewMeterProvider()
	default:
		inst.meterProvider = config.MeterProvider
	}

	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	return inst, nil
}

// Meter returns a named meter for the given scope ("server", "cache",
// "ratelimit").
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter("github.com/mainhub/authority/" + scope)
}

// Metrics returns the instrument holder for recording values.
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// Resource returns the resource describing this service.
func (i *Instrumentation) Resource() *resource.Resource {
	return i.resource
}
