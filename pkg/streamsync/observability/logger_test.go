package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHandler captures log records as JSON lines.
type testHandler struct {
	buf   *bytes.Buffer
	level slog.Level
	attrs []slog.Attr
}

func newTestHandler() *testHandler {
	return &testHandler{
		buf:   &bytes.Buffer{},
		level: slog.LevelDebug,
	}
}

func (h *testHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *testHandler) Handle(_ context.Context, r slog.Record) error {
	data := map[string]any{
		"level": r.Level.String(),
		"msg":   r.Message,
	}
	for _, attr := range h.attrs {
		data[attr.Key] = attr.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		data[a.Key] = a.Value.Any()
		return true
	})
	return json.NewEncoder(h.buf).Encode(data)
}

func (h *testHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newH := &testHandler{
		buf:   h.buf,
		level: h.level,
		attrs: make([]slog.Attr, len(h.attrs)+len(attrs)),
	}
	copy(newH.attrs, h.attrs)
	copy(newH.attrs[len(h.attrs):], attrs)
	return newH
}

func (h *testHandler) WithGroup(_ string) slog.Handler {
	return h
}

func (h *testHandler) getLastRecord() map[string]any {
	lines := bytes.Split(h.buf.Bytes(), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		if len(lines[i]) > 0 {
			var m map[string]any
			if err := json.Unmarshal(lines[i], &m); err == nil {
				return m
			}
		}
	}
	return nil
}

func TestEnrichLogger(t *testing.T) {
	t.Run("adds processor, invocation_id, and attempt", func(t *testing.T) {
		h := newTestHandler()
		logger := slog.New(h)

		enriched := EnrichLogger(logger, "convert", "inv-1", 2)
		enriched.Info("test message")

		record := h.getLastRecord()
		require.NotNil(t, record)
		assert.Equal(t, "convert", record["processor"])
		assert.Equal(t, "inv-1", record["invocation_id"])
		assert.Equal(t, float64(2), record["attempt"])
	})

	t.Run("nil logger returns nil", func(t *testing.T) {
		assert.Nil(t, EnrichLogger(nil, "p", "i", 1))
	})
}

func TestLogHelpers(t *testing.T) {
	tests := []struct {
		name    string
		log     func(*slog.Logger)
		level   string
		msg     string
		checkKV map[string]any
	}{
		{
			name:    "scheduler start",
			log:     func(l *slog.Logger) { LogSchedulerStart(l, "run-1", 3, 4) },
			level:   "INFO",
			msg:     "scheduler starting",
			checkKV: map[string]any{"run_id": "run-1", "processors": float64(3), "workers": float64(4)},
		},
		{
			name:    "scheduler stop",
			log:     func(l *slog.Logger) { LogSchedulerStop(l, "run-1", 12.5, 40) },
			level:   "INFO",
			msg:     "scheduler stopped",
			checkKV: map[string]any{"run_id": "run-1", "duration_ms": 12.5, "invocations": float64(40)},
		},
		{
			name:    "invocation start",
			log:     func(l *slog.Logger) { LogInvocationStart(l, "gen") },
			level:   "DEBUG",
			msg:     "invocation starting",
			checkKV: map[string]any{"processor": "gen"},
		},
		{
			name:    "invocation complete",
			log:     func(l *slog.Logger) { LogInvocationComplete(l, "gen", 1.5, 2) },
			level:   "DEBUG",
			msg:     "invocation completed",
			checkKV: map[string]any{"processor": "gen", "transferred": float64(2)},
		},
		{
			name:    "invocation fault",
			log:     func(l *slog.Logger) { LogInvocationFault(l, "gen", errors.New("boom")) },
			level:   "ERROR",
			msg:     "invocation failed",
			checkKV: map[string]any{"processor": "gen", "error": "boom"},
		},
		{
			name:    "backpressure",
			log:     func(l *slog.Logger) { LogBackpressure(l, "gen", errors.New("full"), time.Millisecond) },
			level:   "DEBUG",
			msg:     "backpressure, yielding",
			checkKV: map[string]any{"processor": "gen", "error": "full"},
		},
		{
			name:    "quarantine",
			log:     func(l *slog.Logger) { LogQuarantine(l, "gen", true) },
			level:   "WARN",
			msg:     "processor quarantined",
			checkKV: map[string]any{"processor": "gen"},
		},
		{
			name:    "reset",
			log:     func(l *slog.Logger) { LogQuarantine(l, "gen", false) },
			level:   "INFO",
			msg:     "processor reset",
			checkKV: map[string]any{"processor": "gen"},
		},
		{
			name:    "drop",
			log:     func(l *slog.Logger) { LogDrop(l, "sink", "ff-1", "auto-terminated") },
			level:   "DEBUG",
			msg:     "flowfile dropped",
			checkKV: map[string]any{"processor": "sink", "flowfile_id": "ff-1", "reason": "auto-terminated"},
		},
		{
			name:    "provenance error",
			log:     func(l *slog.Logger) { LogProvenanceError(l, "sink", errors.New("disk full")) },
			level:   "WARN",
			msg:     "provenance record failed",
			checkKV: map[string]any{"processor": "sink", "error": "disk full"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler()
			tt.log(slog.New(h))

			record := h.getLastRecord()
			require.NotNil(t, record)
			assert.Equal(t, tt.level, record["level"])
			assert.Equal(t, tt.msg, record["msg"])
			for k, v := range tt.checkKV {
				assert.Equal(t, v, record[k], "key %s", k)
			}
		})
	}
}

func TestLogHelpers_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		LogSchedulerStart(nil, "r", 1, 1)
		LogSchedulerStop(nil, "r", 0, 0)
		LogInvocationStart(nil, "p")
		LogInvocationComplete(nil, "p", 0, 0)
		LogInvocationFault(nil, "p", errors.New("x"))
		LogBackpressure(nil, "p", errors.New("x"), 0)
		LogQuarantine(nil, "p", true)
		LogDrop(nil, "p", "f", "r")
		LogProvenanceError(nil, "p", errors.New("x"))
	})
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	time.Sleep(5 * time.Millisecond)
	assert.GreaterOrEqual(t, done(), float64(5))
}

// TestNewLogger verifies level and format selection.
func TestNewLogger(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		format   string
		wantJSON bool
		wantErr  bool
	}{
		{name: "text default", level: "info", format: ""},
		{name: "json", level: "debug", format: "JSON", wantJSON: true},
		{name: "bad level", level: "chatty", format: "text", wantErr: true},
		{name: "bad format", level: "info", format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := NewLogger(&buf, tt.level, tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			logger.Info("hello", "k", "v")
			if tt.wantJSON {
				var rec map[string]any
				require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
				assert.Equal(t, "hello", rec["msg"])
				return
			}
			assert.Contains(t, buf.String(), "msg=hello k=v")
		})
	}

	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "warn", "text")
	require.NoError(t, err)
	logger.Info("hidden")
	assert.Empty(t, buf.String())
}
