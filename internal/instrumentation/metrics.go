package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the defense layer
type Metrics struct {
	// HTTP layer
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Request guard
	GuardDecisionsTotal metric.Int64Counter
	GuardDenialsTotal   metric.Int64Counter

	// Defense outcomes
	LockoutsTriggered      metric.Int64Counter
	IPBlocksApplied        metric.Int64Counter
	SecurityEventsRecorded metric.Int64Counter

	// Security store
	StoreOperationsTotal   metric.Int64Counter
	StoreOperationDuration metric.Float64Histogram
}

// newMetrics creates and registers all metric instruments
func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error
	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"bastion.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"bastion.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.GuardDecisionsTotal, err = meter.Int64Counter(
		"bastion.guard.decisions.total",
		metric.WithDescription("Total number of request guard decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create guard.decisions.total counter: %w", err)
	}

	m.GuardDenialsTotal, err = meter.Int64Counter(
		"bastion.guard.denials.total",
		metric.WithDescription("Requests denied by the guard, by reason"),
		metric.WithUnit("{denial}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create guard.denials.total counter: %w", err)
	}

	m.LockoutsTriggered, err = meter.Int64Counter(
		"bastion.account.lockouts.total",
		metric.WithDescription("Account lockouts triggered by repeated failures"),
		metric.WithUnit("{lockout}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create account.lockouts.total counter: %w", err)
	}

	m.IPBlocksApplied, err = meter.Int64Counter(
		"bastion.ip.blocks.total",
		metric.WithDescription("IP blocks applied, automatic and manual"),
		metric.WithUnit("{block}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ip.blocks.total counter: %w", err)
	}

	m.SecurityEventsRecorded, err = meter.Int64Counter(
		"bastion.events.recorded.total",
		metric.WithDescription("Security events recorded, by level and category"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create events.recorded.total counter: %w", err)
	}

	m.StoreOperationsTotal, err = meter.Int64Counter(
		"bastion.store.operations.total",
		metric.WithDescription("Security store operations, by op and outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store.operations.total counter: %w", err)
	}

	m.StoreOperationDuration, err = meter.Float64Histogram(
		"bastion.store.operation.duration",
		metric.WithDescription("Security store operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store.operation.duration histogram: %w", err)
	}

	return m, nil
}

// Helper methods for common metric recording patterns

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	}

	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordGuardDecision records a guard decision; denied requests also
// increment the denial counter with the deny reason.
func (m *Metrics) RecordGuardDecision(ctx context.Context, allowed bool, reason string) {
	m.GuardDecisionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("allowed", allowed),
	))
	if !allowed {
		m.GuardDenialsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("reason", reason),
		))
	}
}

// RecordLockout records a triggered account lockout
func (m *Metrics) RecordLockout(ctx context.Context) {
	m.LockoutsTriggered.Add(ctx, 1)
}

// RecordIPBlock records an applied IP block
func (m *Metrics) RecordIPBlock(ctx context.Context, automatic bool) {
	m.IPBlocksApplied.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("automatic", automatic),
	))
}

// RecordSecurityEvent records a security event emission
func (m *Metrics) RecordSecurityEvent(ctx context.Context, level, category string) {
	m.SecurityEventsRecorded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("level", level),
		attribute.String("category", category),
	))
}

// RecordStoreOperation records a security store call with its outcome
func (m *Metrics) RecordStoreOperation(ctx context.Context, op string, durationMs float64, err error) {
	m.StoreOperationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.Bool("error", err != nil),
	))
	m.StoreOperationDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("op", op)))
}
