package streamsync

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// Shared fixtures for the core package tests.

// quietLogger discards all output.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// passthrough forwards every FlowFile from in to success.
func passthrough(name string) Processor {
	return ProcessorFunc(name, func(_ Context, s *Session) error {
		ff, ok := s.Get(RelIn)
		if !ok {
			return ErrNoWork
		}
		return s.Transfer(ff, RelSuccess)
	})
}

// failing pulls one FlowFile and returns err.
func failing(name string, err error) Processor {
	return ProcessorFunc(name, func(_ Context, s *Session) error {
		if _, ok := s.Get(RelIn); !ok {
			return ErrNoWork
		}
		return err
	})
}

// collector is a sink that records the content of every FlowFile it consumes.
type collector struct {
	mu   sync.Mutex
	name string
	seen []string
}

func (c *collector) Name() string { return c.name }

func (c *collector) Relationships() ([]Relationship, []Relationship) {
	return []Relationship{RelIn}, nil
}

func (c *collector) OnTrigger(_ Context, s *Session) error {
	ff, ok := s.Get(RelIn)
	if !ok {
		return ErrNoWork
	}
	c.mu.Lock()
	c.seen = append(c.seen, string(ff.Content()))
	c.mu.Unlock()
	return s.Remove(ff)
}

func (c *collector) contents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.seen))
	copy(out, c.seen)
	return out
}

// register adds p to g with in/out relationships and fails the test on error.
func register(t *testing.T, g *FlowGraph, p Processor, opts ...RegisterOption) ProcessorHandle {
	t.Helper()
	h, err := g.RegisterProcessor(p, nil, opts...)
	require.NoError(t, err)
	return h
}

// connect wires from.out to to.in and fails the test on error.
func connect(t *testing.T, g *FlowGraph, from ProcessorHandle, out Relationship, to ProcessorHandle, capacity Capacity) ConnectionHandle {
	t.Helper()
	h, err := g.ConnectPorts(from, out, to, RelIn, capacity)
	require.NoError(t, err)
	return h
}

// queuedContents returns the content of every FlowFile on a connection,
// head first, without disturbing it.
func queuedContents(t *testing.T, g *FlowGraph, h ConnectionHandle) []string {
	t.Helper()
	c, ok := g.Connection(h)
	require.True(t, ok)
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, ff := range c.queue[c.head:] {
		out = append(out, string(ff.Content()))
	}
	return out
}

// testLogHandler captures log records for assertions.
type testLogHandler struct {
	mu    sync.Mutex
	buf   *bytes.Buffer
	level slog.Level
}

func newTestLogHandler() *testLogHandler {
	return &testLogHandler{buf: &bytes.Buffer{}, level: slog.LevelDebug}
}

func (h *testLogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *testLogHandler) Handle(_ context.Context, r slog.Record) error {
	data := map[string]any{
		"level": r.Level.String(),
		"msg":   r.Message,
	}
	r.Attrs(func(a slog.Attr) bool {
		data[a.Key] = a.Value.Any()
		return true
	})
	h.mu.Lock()
	defer h.mu.Unlock()
	return json.NewEncoder(h.buf).Encode(data)
}

func (h *testLogHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *testLogHandler) WithGroup(string) slog.Handler { return h }

func (h *testLogHandler) messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var msgs []string
	for _, line := range bytes.Split(h.buf.Bytes(), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(line, &m); err == nil {
			msgs = append(msgs, m["msg"].(string))
		}
	}
	return msgs
}

func slogFor(h slog.Handler) *slog.Logger {
	return slog.New(h)
}
