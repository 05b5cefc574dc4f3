package processors

import (
	"strconv"
	"sync/atomic"

	"github.com/randalmurphal/streamsync/pkg/streamsync"
)

// Attributes set by GenerateFlowFile.
const (
	AttrGenerateSequence = "generate.sequence"
)

// GenerateFlowFile is a source that emits FlowFiles with fixed content.
//
// Properties:
//   - content: payload of each FlowFile (default empty)
//   - batch.size: FlowFiles per invocation (default 1)
//   - count: total FlowFiles to emit, 0 for unlimited (default 0)
//
// Each FlowFile carries a generate.sequence attribute counting from 0.
type GenerateFlowFile struct {
	emitted atomic.Int64
}

// NewGenerateFlowFile creates a GenerateFlowFile processor.
func NewGenerateFlowFile() streamsync.Processor {
	return &GenerateFlowFile{}
}

// Name implements streamsync.Processor.
func (g *GenerateFlowFile) Name() string { return "GenerateFlowFile" }

// Relationships implements streamsync.Declarer.
func (g *GenerateFlowFile) Relationships() (inputs, outputs []streamsync.Relationship) {
	return nil, []streamsync.Relationship{streamsync.RelSuccess}
}

// OnTrigger implements streamsync.Processor.
func (g *GenerateFlowFile) OnTrigger(ctx streamsync.Context, s *streamsync.Session) error {
	batch, err := intProperty(ctx, "batch.size", 1)
	if err != nil {
		return err
	}
	limit, err := intProperty(ctx, "count", 0)
	if err != nil {
		return err
	}
	content := []byte(stringProperty(ctx, "content", ""))

	next := g.emitted.Load()
	n := int64(batch)
	if limit > 0 {
		n = min(n, int64(limit)-next)
	}
	if n <= 0 {
		return streamsync.ErrNoWork
	}

	for i := range n {
		ff := s.Create(content, map[string]string{
			AttrGenerateSequence: strconv.FormatInt(next+i, 10),
		})
		if err := s.Transfer(ff, streamsync.RelSuccess); err != nil {
			return err
		}
	}
	s.OnCommit(func() { g.emitted.Add(n) })
	return nil
}
