package processors

import (
	"log/slog"
	"strings"

	"github.com/randalmurphal/streamsync/pkg/streamsync"
)

// LogAttribute is a sink that logs every FlowFile it receives and then
// removes it.
//
// Properties:
//   - level: debug, info, warn, or error (default info)
//   - log.payload: include the content in the record (default false)
//   - prefix: message to log (default "flowfile")
type LogAttribute struct{}

// NewLogAttribute creates a LogAttribute processor.
func NewLogAttribute() streamsync.Processor {
	return LogAttribute{}
}

// Name implements streamsync.Processor.
func (LogAttribute) Name() string { return "LogAttribute" }

// Relationships implements streamsync.Declarer.
func (LogAttribute) Relationships() (inputs, outputs []streamsync.Relationship) {
	return []streamsync.Relationship{streamsync.RelIn}, nil
}

// OnTrigger implements streamsync.Processor.
func (LogAttribute) OnTrigger(ctx streamsync.Context, s *streamsync.Session) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(stringProperty(ctx, "level", "info")))); err != nil {
		return streamsync.NewConfigurationError(ctx.Config().Name(), "level", err)
	}
	payload, err := boolProperty(ctx, "log.payload", false)
	if err != nil {
		return err
	}
	msg := stringProperty(ctx, "prefix", "flowfile")

	ff, ok := s.Get(streamsync.RelIn)
	if !ok {
		return streamsync.ErrNoWork
	}

	keys := ff.AttributeKeys()
	attrs := make([]any, 0, len(keys))
	for _, k := range keys {
		v, _ := ff.Attribute(k)
		attrs = append(attrs, slog.String(k, v))
	}
	args := []any{
		"flowfile", ff.ID(),
		"size", ff.Size(),
		slog.Group("attributes", attrs...),
	}
	if payload {
		args = append(args, "payload", string(ff.Content()))
	}
	ctx.Logger().Log(ctx, level, msg, args...)
	return s.Remove(ff)
}
