package streamsync

import (
	"slices"
	"time"
)

// Relationship names a logical input or output channel of a processor.
type Relationship string

// Common relationship names.
const (
	RelIn      Relationship = "in"
	RelSuccess Relationship = "success"
	RelFailure Relationship = "failure"
)

// Processor is the unit of work invoked by the Scheduler.
//
// OnTrigger is called once per invocation. The scheduler guarantees that no
// two invocations of the same Processor run concurrently; different processors
// may run in parallel. An invocation should do bounded work and return
// promptly. Returning nil commits the session. Returning an error rolls it
// back: ErrNoWork and ErrBackpressure are recoverable, anything else
// quarantines the processor.
//
// Example:
//
//	type upper struct{}
//
//	func (upper) Name() string { return "upper" }
//
//	func (upper) OnTrigger(ctx streamsync.Context, s *streamsync.Session) error {
//	    ff, ok := s.Get(streamsync.RelIn)
//	    if !ok {
//	        return streamsync.ErrNoWork
//	    }
//	    return s.Transfer(ff.WithContent(bytes.ToUpper(ff.Content())), streamsync.RelSuccess)
//	}
type Processor interface {
	OnTrigger(ctx Context, s *Session) error
	Name() string
}

// Declarer is implemented by processors that declare their own relationships.
// RegisterOptions passed to RegisterProcessor take precedence.
type Declarer interface {
	Relationships() (inputs, outputs []Relationship)
}

// ProcessorFunc adapts a function into a Processor with the given name.
func ProcessorFunc(name string, fn func(ctx Context, s *Session) error) Processor {
	return &funcProcessor{name: name, fn: fn}
}

type funcProcessor struct {
	name string
	fn   func(ctx Context, s *Session) error
}

func (p *funcProcessor) Name() string {
	return p.name
}

func (p *funcProcessor) OnTrigger(ctx Context, s *Session) error {
	return p.fn(ctx, s)
}

// registration holds per-processor settings collected at RegisterProcessor.
type registration struct {
	inputs          []Relationship
	outputs         []Relationship
	inputsSet       bool
	outputsSet      bool
	triggerInterval time.Duration
}

// RegisterOption configures a processor registration.
type RegisterOption func(*registration)

// WithInputs declares the input relationships the processor listens on.
// A processor with no inputs is a source.
func WithInputs(rels ...Relationship) RegisterOption {
	return func(r *registration) {
		r.inputs = slices.Clone(rels)
		r.inputsSet = true
	}
}

// WithOutputs declares the output relationships the processor may emit to.
func WithOutputs(rels ...Relationship) RegisterOption {
	return func(r *registration) {
		r.outputs = slices.Clone(rels)
		r.outputsSet = true
	}
}

// WithTriggerInterval sets the minimum time between invocations of a source
// processor. Default: 0 (every scheduler pass).
//
// Ignored for processors with inputs, which run whenever work is queued.
func WithTriggerInterval(d time.Duration) RegisterOption {
	return func(r *registration) {
		if d >= 0 {
			r.triggerInterval = d
		}
	}
}

func newRegistration(p Processor, opts []RegisterOption) registration {
	var r registration
	for _, opt := range opts {
		opt(&r)
	}
	if d, ok := p.(Declarer); ok {
		in, out := d.Relationships()
		if !r.inputsSet {
			r.inputs = slices.Clone(in)
		}
		if !r.outputsSet {
			r.outputs = slices.Clone(out)
		}
	}
	r.inputs = dedupe(r.inputs)
	r.outputs = dedupe(r.outputs)
	return r
}

func dedupe(rels []Relationship) []Relationship {
	seen := make(map[Relationship]bool, len(rels))
	out := rels[:0]
	for _, rel := range rels {
		if rel == "" || seen[rel] {
			continue
		}
		seen[rel] = true
		out = append(out, rel)
	}
	return out
}
