package streamsync

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"golang.org/x/time/rate"
)

// State is a processor's scheduling state.
type State string

// Processor scheduling states.
const (
	// StateIdle means the processor has nothing to do or is waiting for work.
	StateIdle State = "idle"
	// StateRunnable means the processor is queued for, or waiting to retry, an invocation.
	StateRunnable State = "runnable"
	// StateRunning means an invocation is in progress.
	StateRunning State = "running"
	// StateFailed means the processor is quarantined until Reset.
	StateFailed State = "failed"
)

// String implements fmt.Stringer.
func (s State) String() string {
	return string(s)
}

// State machine events.
const (
	eventSchedule   = "schedule"
	eventDispatch   = "dispatch"
	eventComplete   = "complete"
	eventYield      = "yield"
	eventFault      = "fault"
	eventReset      = "reset"
	eventUnschedule = "unschedule"
)

// processorState tracks one processor's scheduling state.
// mu guards the fields below and serializes state machine transitions.
type processorState struct {
	mu      sync.Mutex
	fsm     *fsm.FSM
	handle  ProcessorHandle
	name    string
	limiter *rate.Limiter

	since      time.Time
	queued     bool
	notBefore  time.Time
	backoff    time.Duration
	attempt    int
	lastFault  *ProcessorFault
	lastResult Outcome

	invocations   int64
	committed     int64
	faults        int64
	backpressured int64
}

func newProcessorState(n *node) *processorState {
	ps := &processorState{
		handle: n.handle,
		name:   n.name(),
		since:  time.Now(),
	}
	if n.isSource() && n.triggerInterval > 0 {
		ps.limiter = rate.NewLimiter(rate.Every(n.triggerInterval), 1)
	}
	ps.fsm = fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: eventSchedule, Src: []string{string(StateIdle)}, Dst: string(StateRunnable)},
			{Name: eventDispatch, Src: []string{string(StateRunnable)}, Dst: string(StateRunning)},
			{Name: eventComplete, Src: []string{string(StateRunning)}, Dst: string(StateIdle)},
			{Name: eventYield, Src: []string{string(StateRunning)}, Dst: string(StateRunnable)},
			{Name: eventFault, Src: []string{string(StateRunning)}, Dst: string(StateFailed)},
			{Name: eventReset, Src: []string{string(StateFailed)}, Dst: string(StateIdle)},
			{Name: eventUnschedule, Src: []string{string(StateRunnable)}, Dst: string(StateIdle)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, _ *fsm.Event) {
				ps.since = time.Now()
			},
		},
	)
	return ps
}

// current returns the state. Caller must hold mu.
func (ps *processorState) current() State {
	return State(ps.fsm.Current())
}

// fire applies an event. Caller must hold mu.
// Returns false when the event is not valid in the current state.
func (ps *processorState) fire(event string) bool {
	if !ps.fsm.Can(event) {
		return false
	}
	return ps.fsm.Event(context.Background(), event) == nil
}

// State returns the current state under lock.
func (ps *processorState) State() State {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.current()
}

// nextBackoff doubles the yield duration up to the cap and applies jitter.
// Caller must hold mu.
func (ps *processorState) nextBackoff(cfg schedulerConfig) time.Duration {
	if ps.backoff == 0 {
		ps.backoff = cfg.yieldDuration
	} else {
		ps.backoff = time.Duration(float64(ps.backoff) * cfg.backoffFactor)
	}
	if ps.backoff > cfg.maxYieldDuration {
		ps.backoff = cfg.maxYieldDuration
	}
	return applyJitter(ps.backoff, cfg.jitter)
}

// applyJitter returns base +/- (base * jitter * random).
func applyJitter(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}
	amount := float64(base) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(base) + amount)
}
