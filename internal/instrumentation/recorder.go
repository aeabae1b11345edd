package instrumentation

import (
	"context"

	"github.com/bastionsec/bastion/internal/models"
	"github.com/bastionsec/bastion/internal/services"
)

// InstrumentedRecorder wraps an EventRecorder and counts every recorded
// event. Lockout and block events additionally feed the dedicated defense
// counters so dashboards do not need to parse the event stream.
type InstrumentedRecorder struct {
	inner   services.EventRecorder
	metrics *Metrics
}

// WrapRecorder decorates an event recorder with metric counting
func WrapRecorder(inner services.EventRecorder, metrics *Metrics) *InstrumentedRecorder {
	return &InstrumentedRecorder{inner: inner, metrics: metrics}
}

// Record delegates to the wrapped recorder and updates the counters
func (r *InstrumentedRecorder) Record(ctx context.Context, level models.EventLevel, category models.EventCategory, eventType, message string, evtCtx models.EventContext) *models.SecurityEvent {
	event := r.inner.Record(ctx, level, category, eventType, message, evtCtx)

	r.metrics.RecordSecurityEvent(ctx, string(level), string(category))
	switch eventType {
	case models.EventTypeLockoutTriggered:
		r.metrics.RecordLockout(ctx)
	case models.EventTypeIPBlocked:
		automatic, _ := evtCtx.Metadata["automatic"].(bool)
		r.metrics.RecordIPBlock(ctx, automatic)
	}

	return event
}
