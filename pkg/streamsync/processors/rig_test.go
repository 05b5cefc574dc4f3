package processors_test

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/streamsync/pkg/streamsync"
)

// rig wires a single processor between a host-fed input connection and one
// capturing sink per output relationship, and drives it with Trigger.
type rig struct {
	t       *testing.T
	g       *streamsync.FlowGraph
	s       *streamsync.Scheduler
	proc    streamsync.ProcessorHandle
	input   streamsync.ConnectionHandle
	sinks   map[streamsync.Relationship]streamsync.ProcessorHandle
	outputs map[streamsync.Relationship]*capture
	logs    *bytes.Buffer
}

func newRig(t *testing.T, p streamsync.Processor, props map[string]string) *rig {
	t.Helper()
	r := &rig{
		t:       t,
		g:       streamsync.NewFlowGraph(),
		sinks:   make(map[streamsync.Relationship]streamsync.ProcessorHandle),
		outputs: make(map[streamsync.Relationship]*capture),
		logs:    &bytes.Buffer{},
	}
	logger := slog.New(slog.NewJSONHandler(&syncWriter{w: r.logs}, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r.s = streamsync.NewScheduler(r.g, streamsync.WithLogger(logger))

	pctx := streamsync.NewProcessorContext(p.Name())
	for k, v := range props {
		pctx.SetProperty(k, v)
	}
	var err error
	r.proc, err = r.g.RegisterProcessor(p, pctx)
	require.NoError(t, err)

	inputs, outputs := p.(streamsync.Declarer).Relationships()
	if len(inputs) > 0 {
		up, err := r.g.RegisterProcessor(
			streamsync.ProcessorFunc("upstream", func(streamsync.Context, *streamsync.Session) error {
				return streamsync.ErrNoWork
			}), nil, streamsync.WithOutputs(streamsync.RelSuccess))
		require.NoError(t, err)
		r.input, err = r.g.ConnectPorts(up, streamsync.RelSuccess, r.proc, inputs[0], streamsync.Capacity{})
		require.NoError(t, err)
	}
	for _, rel := range outputs {
		c := &capture{name: "sink." + string(rel)}
		h, err := r.g.RegisterProcessor(c, nil)
		require.NoError(t, err)
		_, err = r.g.ConnectPorts(r.proc, rel, h, streamsync.RelIn, streamsync.Capacity{})
		require.NoError(t, err)
		r.sinks[rel] = h
		r.outputs[rel] = c
	}
	return r
}

// feed injects FlowFiles with the given contents onto the input connection.
func (r *rig) feed(contents ...string) {
	r.t.Helper()
	for _, c := range contents {
		_, err := r.s.Inject(r.input, []byte(c), nil)
		require.NoError(r.t, err)
	}
}

// run triggers the processor once and drains every sink.
func (r *rig) run() (streamsync.Outcome, error) {
	r.t.Helper()
	outcome, err := r.s.Trigger(context.Background(), r.proc)
	for _, h := range r.sinks {
		for {
			o, serr := r.s.Trigger(context.Background(), h)
			require.NoError(r.t, serr)
			if o != streamsync.OutcomeCommitted {
				break
			}
		}
	}
	return outcome, err
}

// mustRun triggers the processor and requires a committed session.
func (r *rig) mustRun() {
	r.t.Helper()
	outcome, err := r.run()
	require.NoError(r.t, err)
	require.Equal(r.t, streamsync.OutcomeCommitted, outcome)
}

func (r *rig) out(rel streamsync.Relationship) []*streamsync.FlowFile {
	return r.outputs[rel].flowFiles()
}

// capture is a sink that keeps every FlowFile it receives.
type capture struct {
	mu   sync.Mutex
	name string
	seen []*streamsync.FlowFile
}

func (c *capture) Name() string { return c.name }

func (c *capture) Relationships() ([]streamsync.Relationship, []streamsync.Relationship) {
	return []streamsync.Relationship{streamsync.RelIn}, nil
}

func (c *capture) OnTrigger(_ streamsync.Context, s *streamsync.Session) error {
	ff, ok := s.Get(streamsync.RelIn)
	if !ok {
		return streamsync.ErrNoWork
	}
	c.mu.Lock()
	c.seen = append(c.seen, ff)
	c.mu.Unlock()
	return s.Remove(ff)
}

func (c *capture) flowFiles() []*streamsync.FlowFile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*streamsync.FlowFile(nil), c.seen...)
}

type syncWriter struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// serveTCP starts a local listener that hands each accepted connection to
// handle, and returns its address.
func serveTCP(t *testing.T, handle func(conn net.Conn, rw *bufio.ReadWriter)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var wg sync.WaitGroup
	t.Cleanup(func() {
		_ = ln.Close()
		wg.Wait()
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer conn.Close()
				rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
				handle(conn, rw)
				_ = rw.Flush()
			}()
		}
	}()
	return ln.Addr().String()
}

// closedAddr returns an address with nothing listening on it.
func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func attr(t *testing.T, ff *streamsync.FlowFile, key string) string {
	t.Helper()
	v, ok := ff.Attribute(key)
	require.True(t, ok, "attribute %s not set", key)
	return v
}
