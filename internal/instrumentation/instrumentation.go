// Package instrumentation provides the OpenTelemetry metric instruments
// for the defense layer. When disabled it swaps in no-op providers so the
// call sites carry no overhead and no conditional logic.
package instrumentation

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config holds instrumentation configuration
type Config struct {
	ServiceName    string
	ServiceVersion string
	// Enabled selects the SDK provider; false wires no-op instruments.
	Enabled bool
}

// Instrumentation owns the meter provider and the pre-built instruments
type Instrumentation struct {
	config        Config
	meterProvider metric.MeterProvider
	sdkProvider   *sdkmetric.MeterProvider
	metrics       *Metrics
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = "bastion"
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = "unknown"
	}

	inst := &Instrumentation{config: config}

	if config.Enabled {
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
		// Readers (Prometheus, OTLP) attach here when an exporter is
		// configured; without one the SDK provider discards measurements.
		inst.sdkProvider = sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
		inst.meterProvider = inst.sdkProvider
	} else {
		inst.meterProvider = noop.NewMeterProvider()
	}

	metrics, err := newMetrics(inst.Meter("defense"))
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	inst.metrics = metrics

	return inst, nil
}

// Meter returns a named meter scoped under the module path
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter("github.com/bastionsec/bastion/" + scope)
}

// Metrics returns the instrument holder for recording values
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// Shutdown flushes and stops the SDK provider. No-op instances have
// nothing to release. Safe to call more than once.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error
	i.shutdownOnce.Do(func() {
		if i.sdkProvider != nil {
			shutdownErr = i.sdkProvider.Shutdown(ctx)
		}
	})
	return shutdownErr
}
