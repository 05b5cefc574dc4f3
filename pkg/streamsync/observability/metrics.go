package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Invocation outcomes recorded on the invocation counters.
const (
	OutcomeCommitted    = "committed"
	OutcomeNoWork       = "no_work"
	OutcomeBackpressure = "backpressure"
	OutcomeFault        = "fault"
)

// MetricsRecorder records scheduler metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordInvocation records a processor invocation with its duration and outcome.
	RecordInvocation(ctx context.Context, processor, outcome string, duration time.Duration)

	// RecordTransfer records FlowFiles committed to an output relationship.
	RecordTransfer(ctx context.Context, processor, relationship string, count int)

	// RecordDrop records FlowFiles that reached a terminal disposition.
	RecordDrop(ctx context.Context, processor string, count int)

	// RecordBackpressure records an output refusing a FlowFile.
	RecordBackpressure(ctx context.Context, processor string)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	invocations  metric.Int64Counter
	latency      metric.Float64Histogram
	faults       metric.Int64Counter
	transferred  metric.Int64Counter
	dropped      metric.Int64Counter
	backpressure metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics lazily initializes the OTel metrics instance.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("streamsync")

	invocations, err := meter.Int64Counter("streamsync.processor.invocations",
		metric.WithDescription("Number of processor invocations"),
	)
	if err != nil {
		return nil, err
	}

	latency, err := meter.Float64Histogram("streamsync.processor.latency_ms",
		metric.WithDescription("Processor invocation latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	faults, err := meter.Int64Counter("streamsync.processor.faults",
		metric.WithDescription("Number of invocations that quarantined a processor"),
	)
	if err != nil {
		return nil, err
	}

	transferred, err := meter.Int64Counter("streamsync.flowfile.transferred",
		metric.WithDescription("Number of FlowFiles committed to output relationships"),
	)
	if err != nil {
		return nil, err
	}

	dropped, err := meter.Int64Counter("streamsync.flowfile.dropped",
		metric.WithDescription("Number of FlowFiles that reached a terminal disposition"),
	)
	if err != nil {
		return nil, err
	}

	backpressure, err := meter.Int64Counter("streamsync.connection.backpressure",
		metric.WithDescription("Number of transfers refused by a full connection"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		invocations:  invocations,
		latency:      latency,
		faults:       faults,
		transferred:  transferred,
		dropped:      dropped,
		backpressure: backpressure,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordInvocation records a processor invocation.
func (m *otelMetrics) RecordInvocation(ctx context.Context, processor, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("processor", processor),
		attribute.String("outcome", outcome),
	)
	m.invocations.Add(ctx, 1, attrs)
	m.latency.Record(ctx, float64(duration.Microseconds())/1000, attrs)

	if outcome == OutcomeFault {
		m.faults.Add(ctx, 1, metric.WithAttributes(attribute.String("processor", processor)))
	}
}

// RecordTransfer records committed transfers.
func (m *otelMetrics) RecordTransfer(ctx context.Context, processor, relationship string, count int) {
	if count <= 0 {
		return
	}
	m.transferred.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("processor", processor),
		attribute.String("relationship", relationship),
	))
}

// RecordDrop records terminal dispositions.
func (m *otelMetrics) RecordDrop(ctx context.Context, processor string, count int) {
	if count <= 0 {
		return
	}
	m.dropped.Add(ctx, int64(count), metric.WithAttributes(attribute.String("processor", processor)))
}

// RecordBackpressure records a refused transfer.
func (m *otelMetrics) RecordBackpressure(ctx context.Context, processor string) {
	m.backpressure.Add(ctx, 1, metric.WithAttributes(attribute.String("processor", processor)))
}
