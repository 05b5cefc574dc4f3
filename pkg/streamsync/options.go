package streamsync

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/randalmurphal/streamsync/pkg/streamsync/observability"
	"github.com/randalmurphal/streamsync/pkg/streamsync/provenance"
)

// schedulerConfig holds configuration for a Scheduler.
type schedulerConfig struct {
	workers          int
	pollInterval     time.Duration
	yieldDuration    time.Duration
	maxYieldDuration time.Duration
	backoffFactor    float64
	jitter           float64

	logger       *slog.Logger
	metrics      observability.MetricsRecorder
	spans        observability.SpanManager
	provenance   provenance.Repository
	faultHandler func(*ProcessorFault)
}

func defaultSchedulerConfig() schedulerConfig {
	return schedulerConfig{
		workers:          runtime.NumCPU(),
		pollInterval:     10 * time.Millisecond,
		yieldDuration:    5 * time.Millisecond,
		maxYieldDuration: time.Second,
		backoffFactor:    2.0,
		jitter:           0.1,
		logger:           slog.Default(),
		metrics:          observability.NoopMetrics{},
		spans:            observability.NoopSpanManager{},
	}
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*schedulerConfig)

// WithWorkers sets the number of worker goroutines executing invocations.
// Default: runtime.NumCPU()
func WithWorkers(n int) SchedulerOption {
	return func(c *schedulerConfig) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithPollInterval sets how often the dispatcher rescans processors when
// nothing wakes it. It also delays re-dispatch after ErrNoWork.
// Default: 10ms
func WithPollInterval(d time.Duration) SchedulerOption {
	return func(c *schedulerConfig) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithYieldDuration sets the initial backoff after an invocation hits
// backpressure. The backoff doubles on each consecutive backpressure up to
// WithMaxYieldDuration and resets after a successful commit.
// Default: 5ms
func WithYieldDuration(d time.Duration) SchedulerOption {
	return func(c *schedulerConfig) {
		if d > 0 {
			c.yieldDuration = d
		}
	}
}

// WithMaxYieldDuration caps the backpressure backoff.
// Default: 1s
func WithMaxYieldDuration(d time.Duration) SchedulerOption {
	return func(c *schedulerConfig) {
		if d > 0 {
			c.maxYieldDuration = d
		}
	}
}

// WithLogger sets the logger for scheduler and invocation logging.
// Processors receive a child logger through Context.Logger.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
//	s := streamsync.NewScheduler(g, streamsync.WithLogger(logger))
func WithLogger(logger *slog.Logger) SchedulerOption {
	return func(c *schedulerConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics enables OpenTelemetry metrics for invocations, transfers,
// drops, and backpressure.
//
// Metrics use the global OTel meter provider. Configure it before starting:
//
//	otel.SetMeterProvider(yourProvider)
func WithMetrics(enabled bool) SchedulerOption {
	return func(c *schedulerConfig) {
		if enabled {
			c.metrics = observability.NewMetricsRecorder()
		} else {
			c.metrics = observability.NoopMetrics{}
		}
	}
}

// WithTracing enables OpenTelemetry tracing: one span per scheduler run and a
// child span per invocation.
func WithTracing(enabled bool) SchedulerOption {
	return func(c *schedulerConfig) {
		if enabled {
			c.spans = observability.NewSpanManager()
		} else {
			c.spans = observability.NoopSpanManager{}
		}
	}
}

// WithProvenance records every FlowFile disposition to repo.
// Record failures are logged and never fail an invocation.
func WithProvenance(repo provenance.Repository) SchedulerOption {
	return func(c *schedulerConfig) {
		c.provenance = repo
	}
}

// WithFaultHandler is called, on the worker goroutine, whenever a processor
// is quarantined.
func WithFaultHandler(fn func(*ProcessorFault)) SchedulerOption {
	return func(c *schedulerConfig) {
		c.faultHandler = fn
	}
}
