package processors

import (
	"sync"

	"github.com/randalmurphal/streamsync/pkg/streamsync"
	"github.com/randalmurphal/streamsync/pkg/streamsync/expr"
)

// RouteOnAttribute relationships.
const (
	RelMatched   streamsync.Relationship = "matched"
	RelUnmatched streamsync.Relationship = "unmatched"
)

// RouteOnAttribute sends each FlowFile to matched or unmatched depending on
// a condition over its attributes. See package expr for the syntax.
//
// Properties:
//   - condition: the expression (required)
//   - batch.size: FlowFiles routed per invocation (default 10)
type RouteOnAttribute struct {
	mu   sync.Mutex
	src  string
	cond *expr.Condition
}

// NewRouteOnAttribute creates a RouteOnAttribute processor.
func NewRouteOnAttribute() streamsync.Processor {
	return &RouteOnAttribute{}
}

// Name implements streamsync.Processor.
func (r *RouteOnAttribute) Name() string { return "RouteOnAttribute" }

// Relationships implements streamsync.Declarer.
func (r *RouteOnAttribute) Relationships() (inputs, outputs []streamsync.Relationship) {
	return []streamsync.Relationship{streamsync.RelIn},
		[]streamsync.Relationship{RelMatched, RelUnmatched}
}

// OnTrigger implements streamsync.Processor.
func (r *RouteOnAttribute) OnTrigger(ctx streamsync.Context, s *streamsync.Session) error {
	cond, err := r.condition(ctx)
	if err != nil {
		return err
	}
	batch, err := intProperty(ctx, "batch.size", 10)
	if err != nil {
		return err
	}

	ffs := s.GetBatch(streamsync.RelIn, batch)
	if len(ffs) == 0 {
		return streamsync.ErrNoWork
	}
	for _, ff := range ffs {
		rel := RelUnmatched
		if cond.Match(ff.Attributes()) {
			rel = RelMatched
		}
		if err := s.Transfer(ff, rel); err != nil {
			return err
		}
	}
	return nil
}

// condition compiles the condition property, reusing the last result while
// the property is unchanged.
func (r *RouteOnAttribute) condition(ctx streamsync.Context) (*expr.Condition, error) {
	src, err := ctx.Config().RequireProperty("condition")
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cond != nil && r.src == src {
		return r.cond, nil
	}
	cond, err := expr.Compile(src)
	if err != nil {
		return nil, streamsync.NewConfigurationError(ctx.Config().Name(), "condition", err)
	}
	r.src, r.cond = src, cond
	return cond, nil
}
