package streamsync

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/randalmurphal/streamsync/pkg/streamsync/provenance"
)

const (
	eventuallyWait = 5 * time.Second
	eventuallyTick = 5 * time.Millisecond
)

// counter emits "0", "1", ... up to limit, one per invocation.
func counter(name string, limit int64) (Processor, *atomic.Int64) {
	var next atomic.Int64
	return ProcessorFunc(name, func(_ Context, s *Session) error {
		n := next.Load()
		if n >= limit {
			return ErrNoWork
		}
		ff := s.Create([]byte(strconv.FormatInt(n, 10)), nil)
		if err := s.Transfer(ff, RelSuccess); err != nil {
			return err
		}
		next.Add(1)
		return nil
	}), &next
}

func startScheduler(t *testing.T, g *FlowGraph, opts ...SchedulerOption) *Scheduler {
	t.Helper()
	opts = append([]SchedulerOption{
		WithLogger(quietLogger()),
		WithWorkers(4),
		WithPollInterval(time.Millisecond),
		WithYieldDuration(time.Millisecond),
		WithMaxYieldDuration(10 * time.Millisecond),
	}, opts...)
	s := NewScheduler(g, opts...)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		if s.Running() {
			_ = s.Stop()
		}
	})
	return s
}

func expectedSequence(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = strconv.Itoa(i)
	}
	return out
}

// TestScheduler_Lifecycle verifies Start and Stop state errors.
func TestScheduler_Lifecycle(t *testing.T) {
	s := NewScheduler(NewFlowGraph(), WithLogger(quietLogger()))

	assert.False(t, s.Running())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerStopped)

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.Running())
	assert.NotEmpty(t, s.Snapshot().RunID)
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerRunning)

	require.NoError(t, s.Stop())
	assert.False(t, s.Running())

	// Restartable.
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
}

// TestScheduler_Run verifies Run blocks until the context is cancelled.
func TestScheduler_Run(t *testing.T) {
	s := NewScheduler(NewFlowGraph(), WithLogger(quietLogger()))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, s.Running, eventuallyWait, eventuallyTick)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(eventuallyWait):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, s.Running())
}

// TestScheduler_Pipeline verifies every generated FlowFile reaches the sink
// in order through a bounded pipeline.
func TestScheduler_Pipeline(t *testing.T) {
	const total = 200

	g := NewFlowGraph()
	gen, _ := counter("gen", total)
	genH := register(t, g, gen, sourceRels...)
	mid := register(t, g, passthrough("mid"), transformRels...)
	sink := &collector{name: "sink"}
	sinkH := register(t, g, sink)

	connect(t, g, genH, RelSuccess, mid, Capacity{MaxCount: 3})
	connect(t, g, mid, RelSuccess, sinkH, Capacity{MaxCount: 3})

	s := startScheduler(t, g)

	assert.Eventually(t, func() bool {
		return len(sink.contents()) == total
	}, eventuallyWait, eventuallyTick)
	require.NoError(t, s.Stop())

	assert.Equal(t, expectedSequence(total), sink.contents())

	for _, cs := range s.Snapshot().Connections {
		assert.Zero(t, cs.Queued)
		assert.Zero(t, cs.InFlight)
		assert.Equal(t, int64(total), cs.Enqueued)
	}
}

// TestScheduler_CapacityNeverExceeded verifies a slow consumer never sees its
// input connection grow past capacity.
func TestScheduler_CapacityNeverExceeded(t *testing.T) {
	const total = 50

	g := NewFlowGraph()
	gen, _ := counter("gen", total)
	genH := register(t, g, gen, sourceRels...)

	var open atomic.Bool
	sink := &collector{name: "sink"}
	gated := ProcessorFunc("gated", func(ctx Context, s *Session) error {
		if !open.Load() {
			return ErrNoWork
		}
		return sink.OnTrigger(ctx, s)
	})
	sinkH := register(t, g, gated, WithInputs(RelIn))
	conn := connect(t, g, genH, RelSuccess, sinkH, Capacity{MaxCount: 4})
	c, _ := g.Connection(conn)

	startScheduler(t, g)

	assert.Eventually(t, c.IsFull, eventuallyWait, eventuallyTick)
	for range 20 {
		assert.LessOrEqual(t, c.Len()+c.InFlight(), 4)
		time.Sleep(time.Millisecond)
	}

	open.Store(true)
	assert.Eventually(t, func() bool {
		return len(sink.contents()) == total
	}, eventuallyWait, eventuallyTick)
	assert.Equal(t, expectedSequence(total), sink.contents())
}

// TestScheduler_TriggerInterval verifies sources are paced by their interval.
func TestScheduler_TriggerInterval(t *testing.T) {
	g := NewFlowGraph()
	var calls atomic.Int64
	src := ProcessorFunc("tick", func(_ Context, s *Session) error {
		calls.Add(1)
		return ErrNoWork
	})
	register(t, g, src, WithOutputs(RelSuccess), WithTriggerInterval(50*time.Millisecond))

	s := startScheduler(t, g)
	time.Sleep(275 * time.Millisecond)
	require.NoError(t, s.Stop())

	n := calls.Load()
	assert.GreaterOrEqual(t, n, int64(2))
	assert.LessOrEqual(t, n, int64(8))
}

// TestScheduler_Fairness verifies a source that is always ready does not
// starve a processor with queued input when only one worker is available.
func TestScheduler_Fairness(t *testing.T) {
	g := NewFlowGraph()
	var spins atomic.Int64
	busy := register(t, g, ProcessorFunc("busy", func(_ Context, _ *Session) error {
		spins.Add(1)
		return nil
	}), WithOutputs(RelSuccess))
	sink := &collector{name: "sink"}
	sinkH := register(t, g, sink)
	in := connect(t, g, busy, RelSuccess, sinkH, Capacity{MaxCount: 10})

	s := startScheduler(t, g, WithWorkers(1))
	for _, c := range []string{"a", "b", "c"} {
		_, err := s.Inject(in, []byte(c), nil)
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool {
		return len(sink.contents()) == 3
	}, eventuallyWait, eventuallyTick)
	assert.Equal(t, []string{"a", "b", "c"}, sink.contents())
	assert.Positive(t, spins.Load())
}

// TestScheduler_FaultAndReset verifies quarantine while running and recovery
// after Reset.
func TestScheduler_FaultAndReset(t *testing.T) {
	g := NewFlowGraph()
	gen, _ := counter("gen", 3)
	genH := register(t, g, gen, sourceRels...)

	var failedOnce atomic.Bool
	flaky := ProcessorFunc("flaky", func(_ Context, s *Session) error {
		ff, ok := s.Get(RelIn)
		if !ok {
			return ErrNoWork
		}
		if failedOnce.CompareAndSwap(false, true) {
			return errors.New("transient")
		}
		return s.Transfer(ff, RelSuccess)
	})
	flakyH := register(t, g, flaky, transformRels...)
	sink := &collector{name: "sink"}
	sinkH := register(t, g, sink)

	connect(t, g, genH, RelSuccess, flakyH, Capacity{})
	connect(t, g, flakyH, RelSuccess, sinkH, Capacity{})

	faults := make(chan *ProcessorFault, 1)
	logs := newTestLogHandler()
	s := startScheduler(t, g,
		WithLogger(slogFor(logs)),
		WithFaultHandler(func(f *ProcessorFault) { faults <- f }))

	select {
	case f := <-faults:
		assert.Equal(t, "flaky", f.Processor)
		assert.EqualError(t, f.Err, "transient")
	case <-time.After(eventuallyWait):
		t.Fatal("fault handler not called")
	}

	assert.Equal(t, StateFailed, s.State(flakyH))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, sink.contents(), "quarantined processor is not invoked")

	require.NoError(t, s.Reset(flakyH))
	assert.Eventually(t, func() bool {
		return len(sink.contents()) == 3
	}, eventuallyWait, eventuallyTick)
	assert.Equal(t, []string{"0", "1", "2"}, sink.contents())

	require.NoError(t, s.Stop())
	msgs := logs.messages()
	assert.Contains(t, msgs, "scheduler starting")
	assert.Contains(t, msgs, "processor quarantined")
	assert.Contains(t, msgs, "processor reset")
	assert.Contains(t, msgs, "scheduler stopped")
}

// TestScheduler_StopWaitsForInvocation verifies Stop lets a running
// invocation finish and commit.
func TestScheduler_StopWaitsForInvocation(t *testing.T) {
	g := NewFlowGraph()
	started := make(chan struct{})
	release := make(chan struct{})
	var once atomic.Bool

	slow := ProcessorFunc("slow", func(_ Context, s *Session) error {
		if !once.CompareAndSwap(false, true) {
			return ErrNoWork
		}
		close(started)
		<-release
		return s.Transfer(s.Create([]byte("late"), nil), RelSuccess)
	})
	slowH := register(t, g, slow, sourceRels...)
	sink := &collector{name: "sink"}
	sinkH := register(t, g, sink)
	out := connect(t, g, slowH, RelSuccess, sinkH, Capacity{})

	s := startScheduler(t, g)
	<-started

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop() }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while an invocation was running")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(eventuallyWait):
		t.Fatal("Stop did not return")
	}

	assert.Equal(t, []string{"late"}, queuedContents(t, g, out))
	assert.Equal(t, StateIdle, s.State(slowH))
}

// TestScheduler_Inject verifies host injection wakes the consumer and is
// recorded in provenance.
func TestScheduler_Inject(t *testing.T) {
	g := NewFlowGraph()
	src := register(t, g, passthrough("src"), sourceRels...)
	sink := &collector{name: "sink"}
	sinkH := register(t, g, sink)
	conn := connect(t, g, src, RelSuccess, sinkH, Capacity{MaxCount: 1})

	repo := provenance.NewMemoryRepository(100)
	s := NewScheduler(g, WithLogger(quietLogger()), WithProvenance(repo))

	ff, err := s.Inject(conn, []byte("hello"), map[string]string{"k": "v"})
	require.NoError(t, err)

	_, err = s.Inject(conn, []byte("overflow"), nil)
	assert.ErrorIs(t, err, ErrBackpressure)

	_, err = s.Inject(999, nil, nil)
	assert.ErrorIs(t, err, ErrUnknownConnection)

	lineage, err := repo.Lineage(ff.ID())
	require.NoError(t, err)
	require.Len(t, lineage, 2)
	assert.Equal(t, provenance.EventCreate, lineage[0].Type)
	assert.Equal(t, "host", lineage[0].Processor)
	assert.Equal(t, int(conn), lineage[1].Connection)

	_, err = s.Trigger(context.Background(), sinkH)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, sink.contents())
}

// TestScheduler_Snapshot verifies the status view.
func TestScheduler_Snapshot(t *testing.T) {
	g := NewFlowGraph()
	src := register(t, g, passthrough("src"), sourceRels...)
	sink := register(t, g, &collector{name: "sink"})
	conn := connect(t, g, src, RelSuccess, sink, Capacity{MaxCount: 7, MaxBytes: 70})

	s := NewScheduler(g, WithLogger(quietLogger()))
	_, err := s.Inject(conn, []byte("abc"), nil)
	require.NoError(t, err)

	st := s.Snapshot()
	assert.False(t, st.Running)
	require.Len(t, st.Processors, 2)
	assert.Equal(t, "src", st.Processors[0].Name)
	assert.Equal(t, StateIdle, st.Processors[0].State)

	require.Len(t, st.Connections, 1)
	cs := st.Connections[0]
	assert.Equal(t, conn, cs.Handle)
	assert.Equal(t, "src", cs.Source)
	assert.Equal(t, "sink", cs.Destination)
	assert.Equal(t, RelSuccess, cs.Relationship)
	assert.Equal(t, RelIn, cs.Input)
	assert.Equal(t, Capacity{MaxCount: 7, MaxBytes: 70}, cs.Capacity)
	assert.Equal(t, 1, cs.Queued)
	assert.Equal(t, int64(3), cs.Bytes)
}

// TestScheduler_TriggerUnknown verifies handle validation on host operations.
func TestScheduler_TriggerUnknown(t *testing.T) {
	s := NewScheduler(NewFlowGraph(), WithLogger(quietLogger()))

	_, err := s.Trigger(context.Background(), 5)
	assert.ErrorIs(t, err, ErrUnknownProcessor)
	assert.ErrorIs(t, s.Reset(5), ErrUnknownProcessor)
	assert.Equal(t, StateIdle, s.State(5))
	assert.Nil(t, s.LastFault(5))
}

// TestScheduler_UnregisterWhileRunning verifies the scheduler tolerates
// graph changes between passes.
func TestScheduler_UnregisterWhileRunning(t *testing.T) {
	g := NewFlowGraph()
	var calls atomic.Int64
	idle := ProcessorFunc("idle", func(_ Context, _ *Session) error {
		calls.Add(1)
		return ErrNoWork
	})
	h := register(t, g, idle, sourceRels...)

	startScheduler(t, g)
	assert.Eventually(t, func() bool { return calls.Load() > 0 }, eventuallyWait, eventuallyTick)

	assert.Eventually(t, func() bool { return g.Unregister(h) == nil }, eventuallyWait, eventuallyTick)
	time.Sleep(10 * time.Millisecond)
	n := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, calls.Load())
}

// TestScheduler_Observability verifies invocation metrics and spans reach the
// global OpenTelemetry providers.
func TestScheduler_Observability(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
		_ = mp.Shutdown(context.Background())
		_ = tp.Shutdown(context.Background())
	})

	g := NewFlowGraph()
	gen, _ := counter("gen", 1)
	genH := register(t, g, gen, sourceRels...)

	s := NewScheduler(g, WithLogger(quietLogger()), WithMetrics(true), WithTracing(true))
	outcome, err := s.Trigger(context.Background(), genH)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, outcome)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = true
		}
	}
	assert.True(t, found["streamsync.processor.invocations"])
	assert.True(t, found["streamsync.flowfile.dropped"], "auto-terminated flowfile is counted")

	var names []string
	for _, span := range exporter.GetSpans() {
		names = append(names, span.Name)
	}
	assert.Contains(t, names, "streamsync.processor.gen")
}
