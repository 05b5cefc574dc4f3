/*
Package streamsync provides a flow-based dataflow engine.

# Overview

A flow is a directed graph of Processors joined by bounded Connections.
FlowFiles (a byte payload plus string attributes) move along the
connections. Each processor is invoked repeatedly by a Scheduler and, within
one invocation, pulls FlowFiles from its input relationships and transfers
results to its output relationships through a Session.

The engine provides:
  - Transactional sessions: outputs become visible only on commit, and a
    failed invocation returns its inputs to the head of their queues in order
  - Backpressure: connections bound both FlowFile count and byte size, and a
    full connection rolls the producer back and retries it later
  - Fault isolation: a processor that fails is quarantined until Reset while
    the rest of the flow keeps running
  - Provenance: every creation, route, clone, drop, and rollback can be
    recorded to a provenance.Repository
  - OpenTelemetry metrics and traces, and a Prometheus collector

# Basic Usage

Register processors, wire them, and start a scheduler:

	g := streamsync.NewFlowGraph()

	gen, _ := g.RegisterProcessor(generator, nil, streamsync.WithOutputs(streamsync.RelSuccess))
	up, _ := g.RegisterProcessor(upper, nil,
	    streamsync.WithInputs(streamsync.RelIn),
	    streamsync.WithOutputs(streamsync.RelSuccess))

	_, err := g.ConnectPorts(gen, streamsync.RelSuccess, up, streamsync.RelIn,
	    streamsync.Capacity{MaxCount: 100, MaxBytes: 1 << 20})
	if err != nil {
	    log.Fatal(err)
	}

	s := streamsync.NewScheduler(g, streamsync.WithWorkers(4))
	if err := s.Run(ctx); err != nil {
	    log.Fatal(err)
	}

# Writing Processors

A processor implements OnTrigger. Returning nil commits the session;
returning ErrNoWork reports there was nothing to do; any other error rolls
back and quarantines the processor:

	func (p *Upper) OnTrigger(ctx streamsync.Context, s *streamsync.Session) error {
	    ff, ok := s.Get(streamsync.RelIn)
	    if !ok {
	        return streamsync.ErrNoWork
	    }
	    out := ff.WithContent(bytes.ToUpper(ff.Content()))
	    return s.Transfer(out, streamsync.RelSuccess)
	}

Transfer returns a *BackpressureError when an output connection is full.
Processors usually return it unchanged so the scheduler retries later; they
may instead route the FlowFile elsewhere.

Configuration is read from ctx.Config(). Properties are opaque strings and
are never defaulted by the engine.

# Relationships

A FlowFile transferred to a declared relationship that has no connection is
auto-terminated and recorded as a drop. A relationship wired to several
connections delivers the FlowFile to the first and a clone to each of the
others. A relationship fed by several connections is read round-robin.

# Scheduling

At most one invocation of a processor runs at a time. Processors move through
the states Idle, Runnable, Running, and Failed. A processor is dispatched when
it has queued input (or is a source whose trigger interval has elapsed) and
none of its output connections is full.

Stop is cooperative: running invocations finish and commit, and nothing new
is dispatched.
*/
package streamsync
