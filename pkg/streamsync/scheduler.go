package streamsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/streamsync/pkg/streamsync/observability"
	"github.com/randalmurphal/streamsync/pkg/streamsync/provenance"
)

// Outcome classifies how an invocation ended.
type Outcome string

// Invocation outcomes.
const (
	// OutcomeCommitted means OnTrigger returned nil and the session committed.
	OutcomeCommitted Outcome = observability.OutcomeCommitted
	// OutcomeNoWork means OnTrigger returned ErrNoWork; the session was rolled back.
	OutcomeNoWork Outcome = observability.OutcomeNoWork
	// OutcomeBackpressure means an output was full; the session was rolled back
	// and the processor will be retried.
	OutcomeBackpressure Outcome = observability.OutcomeBackpressure
	// OutcomeFault means the processor was quarantined.
	OutcomeFault Outcome = observability.OutcomeFault
)

// injectorName is the processor name recorded on provenance events for
// FlowFiles injected by the host.
const injectorName = "host"

// Scheduler drives a FlowGraph.
//
// A single dispatcher goroutine scans processors round-robin from a rotating
// start position and queues the ready ones; a fixed pool of workers runs the
// invocations. A processor is ready when it is Idle, none of its output
// connections is full, and either one of its input connections holds work or
// it is a source whose trigger interval has elapsed.
//
// At most one invocation per processor runs at a time. Invocations ending in
// backpressure are retried after an exponential backoff. Invocations ending in
// any other error quarantine the processor until Reset.
//
// Example:
//
//	s := streamsync.NewScheduler(g, streamsync.WithWorkers(4))
//	if err := s.Start(ctx); err != nil {
//	    return err
//	}
//	defer s.Stop()
type Scheduler struct {
	graph *FlowGraph
	cfg   schedulerConfig

	statesMu sync.Mutex
	states   map[ProcessorHandle]*processorState

	// lifecycleMu serializes Start and Stop.
	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	group       *errgroup.Group
	runSpan     trace.Span

	statusMu  sync.RWMutex
	running   bool
	runID     string
	startedAt time.Time

	work   chan ProcessorHandle
	wake   chan struct{}
	cursor int

	invocations atomic.Int64
}

// NewScheduler creates a scheduler for g.
func NewScheduler(g *FlowGraph, opts ...SchedulerOption) *Scheduler {
	cfg := defaultSchedulerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Scheduler{
		graph:  g,
		cfg:    cfg,
		states: make(map[ProcessorHandle]*processorState),
		wake:   make(chan struct{}, 1),
	}
}

// Graph returns the graph this scheduler drives.
func (s *Scheduler) Graph() *FlowGraph {
	return s.graph
}

// Start launches the dispatcher and workers and returns immediately.
// Returns ErrSchedulerRunning if already started.
func (s *Scheduler) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.Running() {
		return ErrSchedulerRunning
	}

	runID := uuid.New().String()
	spanCtx, span := s.cfg.spans.StartSchedulerSpan(ctx, runID)
	s.runSpan = span
	invokeCtx := context.WithoutCancel(spanCtx)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.work = make(chan ProcessorHandle, s.cfg.workers)
	s.group = &errgroup.Group{}

	s.graph.Analyze().LogWarnings(s.cfg.logger)
	observability.LogSchedulerStart(s.cfg.logger, runID, len(s.graph.Processors()), s.cfg.workers)

	s.group.Go(func() error {
		return s.dispatch(runCtx)
	})
	for range s.cfg.workers {
		s.group.Go(func() error {
			return s.worker(runCtx, invokeCtx)
		})
	}

	s.statusMu.Lock()
	s.running = true
	s.runID = runID
	s.startedAt = time.Now()
	s.statusMu.Unlock()
	return nil
}

// Stop shuts down cooperatively: no new invocations are dispatched, running
// invocations finish, queued processors return to Idle. Stop returns once every
// worker has exited. Returns ErrSchedulerStopped if not running.
func (s *Scheduler) Stop() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.Running() {
		return ErrSchedulerStopped
	}

	s.cancel()
	err := s.group.Wait()

	for drained := false; !drained; {
		select {
		case h := <-s.work:
			s.unqueue(h)
		default:
			drained = true
		}
	}
	s.statesMu.Lock()
	for _, ps := range s.states {
		ps.mu.Lock()
		ps.queued = false
		ps.fire(eventUnschedule)
		ps.mu.Unlock()
	}
	s.statesMu.Unlock()

	s.statusMu.Lock()
	s.running = false
	runID, startedAt := s.runID, s.startedAt
	s.statusMu.Unlock()

	observability.LogSchedulerStop(s.cfg.logger, runID,
		float64(time.Since(startedAt).Milliseconds()), s.invocations.Load())
	s.cfg.spans.EndSpanWithError(s.runSpan, err)
	return err
}

// Run starts the scheduler, blocks until ctx is done, then stops it.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

// Running reports whether the scheduler has been started and not stopped.
func (s *Scheduler) Running() bool {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.running
}

// Trigger synchronously runs one invocation of a processor, regardless of
// readiness. It is intended for hosts and tests driving a graph by hand.
//
// Returns ErrNotRunnable if the processor is queued, running, or quarantined.
// A fault is returned as a *ProcessorFault after the processor is quarantined.
func (s *Scheduler) Trigger(ctx context.Context, h ProcessorHandle) (Outcome, error) {
	n, ok := s.graph.node(h)
	if !ok {
		return "", fmt.Errorf("%w: handle %d", ErrUnknownProcessor, h)
	}
	ps := s.state(n)

	ps.mu.Lock()
	if ps.queued || (!ps.fire(eventSchedule) && ps.current() != StateRunnable) {
		state := ps.current()
		ps.mu.Unlock()
		return "", fmt.Errorf("%w: %s is %s", ErrNotRunnable, n.name(), state)
	}
	ps.fire(eventDispatch)
	ps.mu.Unlock()

	outcome, fault := s.invoke(ctx, n, ps)
	s.signal()
	if fault != nil {
		return outcome, fault
	}
	return outcome, nil
}

// Inject enqueues a new FlowFile directly onto a connection, as if produced by
// its source processor. Returns *BackpressureError when the connection is full.
func (s *Scheduler) Inject(h ConnectionHandle, content []byte, attributes map[string]string) (*FlowFile, error) {
	c, ok := s.graph.Connection(h)
	if !ok {
		return nil, fmt.Errorf("%w: handle %d", ErrUnknownConnection, h)
	}
	ff := NewFlowFile(content, attributes)
	if err := c.Enqueue(ff); err != nil {
		return nil, err
	}
	s.recordProvenance(injectorName,
		injectEvent(provenance.EventCreate, ff, c),
		injectEvent(provenance.EventRoute, ff, c),
	)
	s.signal()
	return ff, nil
}

func injectEvent(typ provenance.EventType, ff *FlowFile, c *Connection) provenance.Event {
	e := provenance.Event{
		Type:       typ,
		FlowFileID: ff.id,
		Processor:  injectorName,
		Generation: ff.generation,
		Size:       ff.Size(),
		Attributes: ff.Attributes(),
	}
	if typ == provenance.EventRoute {
		e.Relationship = string(c.relationship)
		e.Connection = int(c.id)
	}
	return e
}

// Reset releases a quarantined processor back to Idle.
// Returns ErrNotFailed if the processor is not quarantined.
func (s *Scheduler) Reset(h ProcessorHandle) error {
	n, ok := s.graph.node(h)
	if !ok {
		return fmt.Errorf("%w: handle %d", ErrUnknownProcessor, h)
	}
	ps := s.state(n)

	ps.mu.Lock()
	if !ps.fire(eventReset) {
		ps.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFailed, n.name())
	}
	ps.lastFault = nil
	ps.backoff = 0
	ps.attempt = 0
	ps.notBefore = time.Time{}
	ps.mu.Unlock()

	observability.LogQuarantine(s.cfg.logger, n.name(), false)
	s.signal()
	return nil
}

// State returns a processor's scheduling state.
// Unknown handles report StateIdle.
func (s *Scheduler) State(h ProcessorHandle) State {
	n, ok := s.graph.node(h)
	if !ok {
		return StateIdle
	}
	return s.state(n).State()
}

// LastFault returns the fault that quarantined a processor, if any.
func (s *Scheduler) LastFault(h ProcessorHandle) *ProcessorFault {
	n, ok := s.graph.node(h)
	if !ok {
		return nil
	}
	ps := s.state(n)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.lastFault
}

// state returns the processorState for n, creating it on first use.
func (s *Scheduler) state(n *node) *processorState {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	ps, ok := s.states[n.handle]
	if !ok {
		ps = newProcessorState(n)
		s.states[n.handle] = ps
	}
	return ps
}

// signal wakes the dispatcher without blocking.
func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// dispatch is the dispatcher loop.
func (s *Scheduler) dispatch(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.pollInterval)
	defer ticker.Stop()

	for {
		s.dispatchPass(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-s.wake:
		}
	}
}

// dispatchPass queues every ready processor once, starting from a rotating
// position so no processor is permanently favored.
func (s *Scheduler) dispatchPass(ctx context.Context) {
	handles := s.graph.Processors()
	if len(handles) == 0 {
		return
	}
	start := s.cursor % len(handles)
	s.cursor = start + 1

	now := time.Now()
	for i := range handles {
		h := handles[(start+i)%len(handles)]
		n, ok := s.graph.node(h)
		if !ok {
			continue
		}
		ps := s.state(n)
		if !s.claimIfReady(n, ps, now) {
			continue
		}
		select {
		case s.work <- h:
		case <-ctx.Done():
			s.unqueue(h)
			return
		}
	}
}

// claimIfReady marks ps queued when n should run now.
func (s *Scheduler) claimIfReady(n *node, ps *processorState, now time.Time) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.queued || now.Before(ps.notBefore) {
		return false
	}
	switch ps.current() {
	case StateIdle, StateRunnable:
	default:
		return false
	}
	if s.graph.outputsFull(n) {
		return false
	}
	// A processor yielded for backpressure retries without new input.
	if ps.current() == StateIdle {
		if n.isSource() {
			if ps.limiter != nil && !ps.limiter.AllowN(now, 1) {
				return false
			}
		} else if !s.graph.hasInput(n) {
			return false
		}
		ps.fire(eventSchedule)
	}
	ps.queued = true
	return true
}

// unqueue returns a queued processor to Idle without running it.
func (s *Scheduler) unqueue(h ProcessorHandle) {
	s.statesMu.Lock()
	ps, ok := s.states[h]
	s.statesMu.Unlock()
	if !ok {
		return
	}
	ps.mu.Lock()
	ps.queued = false
	ps.fire(eventUnschedule)
	ps.mu.Unlock()
}

// worker executes queued invocations until ctx is done.
func (s *Scheduler) worker(ctx, invokeCtx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case h := <-s.work:
			s.runQueued(ctx, invokeCtx, h)
		}
	}
}

func (s *Scheduler) runQueued(ctx, invokeCtx context.Context, h ProcessorHandle) {
	n, ok := s.graph.node(h)
	if !ok {
		s.statesMu.Lock()
		delete(s.states, h)
		s.statesMu.Unlock()
		return
	}
	ps := s.state(n)

	ps.mu.Lock()
	ps.queued = false
	if ctx.Err() != nil || !ps.fire(eventDispatch) {
		ps.fire(eventUnschedule)
		ps.mu.Unlock()
		return
	}
	ps.mu.Unlock()

	s.invoke(invokeCtx, n, ps)
	s.signal()
}

// invoke runs one invocation of n. ps must be Running.
// It commits or rolls back the session, applies the resulting state
// transition, and records logs, metrics, traces, and provenance.
func (s *Scheduler) invoke(ctx context.Context, n *node, ps *processorState) (Outcome, *ProcessorFault) {
	n.active.Add(1)
	defer n.active.Add(-1)
	n.runMu.Lock()
	defer n.runMu.Unlock()

	name := n.name()
	invocationID := uuid.New().String()

	ps.mu.Lock()
	attempt := ps.attempt + 1
	ps.mu.Unlock()

	spanCtx, span := s.cfg.spans.StartInvocationSpan(ctx, name, invocationID)
	ictx := newInvocationContext(spanCtx, s.cfg.logger, n.config, invocationID, attempt)
	observability.LogInvocationStart(ictx.Logger(), name)
	done := observability.TimedOperation()
	start := time.Now()

	session := newSession(n, s.graph.wiringFor(n))
	err := s.callProcessor(ictx, n, session)
	if err == nil {
		err = session.commit()
	}

	var (
		outcome Outcome
		fault   *ProcessorFault
	)
	switch {
	case err == nil:
		outcome = OutcomeCommitted
	case errors.Is(err, ErrNoWork):
		session.rollback()
		outcome = OutcomeNoWork
		err = nil
	case errors.Is(err, ErrBackpressure):
		session.rollback()
		outcome = OutcomeBackpressure
	default:
		session.rollback()
		outcome = OutcomeFault
		fault = &ProcessorFault{
			Processor:    name,
			Handle:       n.handle,
			InvocationID: invocationID,
			Err:          err,
			Time:         time.Now().UTC(),
		}
	}
	s.invocations.Add(1)

	s.recordProvenance(name, session.events...)
	s.cfg.metrics.RecordInvocation(spanCtx, name, string(outcome), time.Since(start))
	for rel, count := range session.stats.routed {
		s.cfg.metrics.RecordTransfer(spanCtx, name, string(rel), count)
	}
	s.cfg.metrics.RecordDrop(spanCtx, name, session.stats.dropped)

	ps.mu.Lock()
	ps.invocations++
	ps.lastResult = outcome
	switch outcome {
	case OutcomeCommitted:
		ps.committed++
		ps.backoff = 0
		ps.attempt = 0
		ps.notBefore = time.Time{}
		ps.fire(eventComplete)
	case OutcomeNoWork:
		ps.attempt = 0
		ps.notBefore = time.Now().Add(s.cfg.pollInterval)
		ps.fire(eventComplete)
	case OutcomeBackpressure:
		ps.backpressured++
		ps.attempt++
		backoff := ps.nextBackoff(s.cfg)
		ps.notBefore = time.Now().Add(backoff)
		ps.fire(eventYield)
		observability.LogBackpressure(ictx.Logger(), name, err, backoff)
		s.cfg.metrics.RecordBackpressure(spanCtx, name)
		s.cfg.spans.AddSpanEvent(spanCtx, "backpressure",
			attribute.String("error", err.Error()),
			attribute.Int64("backoff_ms", backoff.Milliseconds()))
	case OutcomeFault:
		ps.faults++
		ps.lastFault = fault
		ps.attempt = 0
		ps.fire(eventFault)
	}
	ps.mu.Unlock()

	if fault != nil {
		observability.LogInvocationFault(ictx.Logger(), name, fault.Err)
		observability.LogQuarantine(s.cfg.logger, name, true)
		s.cfg.spans.EndSpanWithError(span, fault)
		if s.cfg.faultHandler != nil {
			s.cfg.faultHandler(fault)
		}
		return outcome, fault
	}

	observability.LogInvocationComplete(ictx.Logger(), name, done(), session.stats.transferred)
	s.cfg.spans.EndSpanWithError(span, nil)
	return outcome, nil
}

// callProcessor invokes OnTrigger, converting a panic into *PanicError.
func (s *Scheduler) callProcessor(ctx Context, n *node, session *Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{
				Processor: n.name(),
				Value:     r,
				Stack:     string(debug.Stack()),
			}
		}
	}()
	return n.processor.OnTrigger(ctx, session)
}

func (s *Scheduler) recordProvenance(processor string, events ...provenance.Event) {
	if s.cfg.logger.Enabled(context.Background(), slog.LevelDebug) {
		for _, e := range events {
			if e.Type == provenance.EventDrop {
				observability.LogDrop(s.cfg.logger, processor, e.FlowFileID, e.Details)
			}
		}
	}
	if s.cfg.provenance == nil || len(events) == 0 {
		return
	}
	if err := s.cfg.provenance.Record(events...); err != nil {
		observability.LogProvenanceError(s.cfg.logger, processor, err)
	}
}

// Status is a point-in-time view of a scheduler and its graph.
type Status struct {
	RunID       string
	Running     bool
	Invocations int64
	Processors  []ProcessorStatus
	Connections []ConnectionStatus
}

// ProcessorStatus describes one processor.
type ProcessorStatus struct {
	Handle        ProcessorHandle
	Name          string
	State         State
	Since         time.Time
	Invocations   int64
	Committed     int64
	Faults        int64
	Backpressured int64
	LastOutcome   Outcome
	LastFault     *ProcessorFault
}

// ConnectionStatus describes one connection.
type ConnectionStatus struct {
	Handle       ConnectionHandle
	Source       string
	Destination  string
	Relationship Relationship
	Input        Relationship
	Capacity     Capacity
	ConnectionStats
}

// Snapshot returns the current status of every processor and connection.
func (s *Scheduler) Snapshot() Status {
	s.statusMu.RLock()
	st := Status{
		RunID:   s.runID,
		Running: s.running,
	}
	s.statusMu.RUnlock()
	st.Invocations = s.invocations.Load()

	for _, h := range s.graph.Processors() {
		n, ok := s.graph.node(h)
		if !ok {
			continue
		}
		ps := s.state(n)
		ps.mu.Lock()
		st.Processors = append(st.Processors, ProcessorStatus{
			Handle:        h,
			Name:          n.name(),
			State:         ps.current(),
			Since:         ps.since,
			Invocations:   ps.invocations,
			Committed:     ps.committed,
			Faults:        ps.faults,
			Backpressured: ps.backpressured,
			LastOutcome:   ps.lastResult,
			LastFault:     ps.lastFault,
		})
		ps.mu.Unlock()
	}

	for _, h := range s.graph.Connections() {
		c, ok := s.graph.Connection(h)
		if !ok {
			continue
		}
		src, _ := s.graph.Name(c.source)
		dst, _ := s.graph.Name(c.destination)
		st.Connections = append(st.Connections, ConnectionStatus{
			Handle:          h,
			Source:          src,
			Destination:     dst,
			Relationship:    c.relationship,
			Input:           c.input,
			Capacity:        c.capacity,
			ConnectionStats: c.Stats(),
		})
	}
	return st
}
