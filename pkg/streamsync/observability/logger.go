// Package observability provides structured logging, metrics, and tracing
// helpers for the streamsync scheduler.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// NewLogger builds a logger writing to w. Level is one of debug, info, warn,
// or error; format is text or json.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("log format %q: want text or json", format)
	}
}

// EnrichLogger adds invocation context to a logger.
// Returns a new logger with processor, invocation_id, and attempt fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "convert", "inv-123", 1)
//	enriched.Info("doing work") // includes processor, invocation_id, attempt
func EnrichLogger(logger *slog.Logger, processor, invocationID string, attempt int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("processor", processor),
		slog.String("invocation_id", invocationID),
		slog.Int("attempt", attempt),
	)
}

// LogSchedulerStart logs the start of a scheduler run.
func LogSchedulerStart(logger *slog.Logger, runID string, processors, workers int) {
	if logger == nil {
		return
	}
	logger.Info("scheduler starting",
		slog.String("run_id", runID),
		slog.Int("processors", processors),
		slog.Int("workers", workers),
	)
}

// LogSchedulerStop logs a completed cooperative shutdown.
func LogSchedulerStop(logger *slog.Logger, runID string, durationMs float64, invocations int64) {
	if logger == nil {
		return
	}
	logger.Info("scheduler stopped",
		slog.String("run_id", runID),
		slog.Float64("duration_ms", durationMs),
		slog.Int64("invocations", invocations),
	)
}

// LogInvocationStart logs the dispatch of a processor invocation.
func LogInvocationStart(logger *slog.Logger, processor string) {
	if logger == nil {
		return
	}
	logger.Debug("invocation starting",
		slog.String("processor", processor),
	)
}

// LogInvocationComplete logs a committed invocation.
func LogInvocationComplete(logger *slog.Logger, processor string, durationMs float64, transferred int) {
	if logger == nil {
		return
	}
	logger.Debug("invocation completed",
		slog.String("processor", processor),
		slog.Float64("duration_ms", durationMs),
		slog.Int("transferred", transferred),
	)
}

// LogInvocationFault logs an invocation that quarantined its processor.
func LogInvocationFault(logger *slog.Logger, processor string, err error) {
	if logger == nil {
		return
	}
	logger.Error("invocation failed",
		slog.String("processor", processor),
		slog.String("error", err.Error()),
	)
}

// LogBackpressure logs an invocation rolled back because an output was full.
func LogBackpressure(logger *slog.Logger, processor string, err error, backoff time.Duration) {
	if logger == nil {
		return
	}
	logger.Debug("backpressure, yielding",
		slog.String("processor", processor),
		slog.String("error", err.Error()),
		slog.Duration("backoff", backoff),
	)
}

// LogQuarantine logs a processor entering or leaving quarantine.
func LogQuarantine(logger *slog.Logger, processor string, quarantined bool) {
	if logger == nil {
		return
	}
	if quarantined {
		logger.Warn("processor quarantined",
			slog.String("processor", processor),
		)
		return
	}
	logger.Info("processor reset",
		slog.String("processor", processor),
	)
}

// LogDrop logs a FlowFile reaching a terminal disposition without a downstream connection.
func LogDrop(logger *slog.Logger, processor, flowFileID, reason string) {
	if logger == nil {
		return
	}
	logger.Debug("flowfile dropped",
		slog.String("processor", processor),
		slog.String("flowfile_id", flowFileID),
		slog.String("reason", reason),
	)
}

// LogProvenanceError logs a provenance write failure (non-fatal).
func LogProvenanceError(logger *slog.Logger, processor string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("provenance record failed",
		slog.String("processor", processor),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
