package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
type NoopMetrics struct{}

var _ MetricsRecorder = NoopMetrics{}

// RecordInvocation does nothing.
func (NoopMetrics) RecordInvocation(_ context.Context, _, _ string, _ time.Duration) {}

// RecordTransfer does nothing.
func (NoopMetrics) RecordTransfer(_ context.Context, _, _ string, _ int) {}

// RecordDrop does nothing.
func (NoopMetrics) RecordDrop(_ context.Context, _ string, _ int) {}

// RecordBackpressure does nothing.
func (NoopMetrics) RecordBackpressure(_ context.Context, _ string) {}

// NoopSpanManager is a SpanManager that does nothing.
type NoopSpanManager struct{}

var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

// StartSchedulerSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartSchedulerSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartInvocationSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartInvocationSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}
