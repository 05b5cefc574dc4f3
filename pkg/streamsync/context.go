package streamsync

import (
	"context"
	"log/slog"
	"maps"
	"sync"
)

// ProcessorContext is the per-processor configuration store.
//
// Property keys are case-sensitive. Absent keys report "not set"; the context
// never fabricates defaults. Values are opaque strings and coercion is the
// processor's responsibility.
//
// A ProcessorContext is owned by exactly one processor. Mutate it through
// FlowGraph.SetProperty once registered so writes never overlap an invocation.
type ProcessorContext struct {
	mu         sync.RWMutex
	name       string
	properties map[string]string
}

// NewProcessorContext creates an empty configuration store for a processor.
func NewProcessorContext(name string) *ProcessorContext {
	return &ProcessorContext{
		name:       name,
		properties: make(map[string]string),
	}
}

// Name returns the processor name this context belongs to.
func (c *ProcessorContext) Name() string {
	return c.name
}

// SetProperty sets a configuration property and returns the context for chaining.
func (c *ProcessorContext) SetProperty(key, value string) *ProcessorContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.properties[key] = value
	return c
}

// RemoveProperty deletes a configuration property.
func (c *ProcessorContext) RemoveProperty(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.properties, key)
}

// Property returns a property value and whether it is set.
func (c *ProcessorContext) Property(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.properties[key]
	return v, ok
}

// RequireProperty returns a property value or a ConfigurationError if unset.
func (c *ProcessorContext) RequireProperty(key string) (string, error) {
	v, ok := c.Property(key)
	if !ok {
		return "", &ConfigurationError{Processor: c.name, Property: key}
	}
	return v, nil
}

// Properties returns a copy of all properties.
func (c *ProcessorContext) Properties() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.properties)
}

// Context is handed to Processor.OnTrigger for a single invocation.
// It extends context.Context with the processor's configuration and an
// enriched logger.
type Context interface {
	context.Context

	// Logger returns a logger enriched with processor and invocation fields.
	// Never returns nil.
	Logger() *slog.Logger

	// Config returns the processor's configuration store.
	Config() *ProcessorContext

	// InvocationID identifies the current invocation.
	InvocationID() string

	// Attempt counts consecutive invocations that ended in backpressure,
	// starting at 1 for a fresh attempt.
	Attempt() int
}

// invocationContext is the internal implementation of Context.
type invocationContext struct {
	context.Context

	logger       *slog.Logger
	config       *ProcessorContext
	invocationID string
	attempt      int
}

func (c *invocationContext) Logger() *slog.Logger {
	return c.logger
}

func (c *invocationContext) Config() *ProcessorContext {
	return c.config
}

func (c *invocationContext) InvocationID() string {
	return c.invocationID
}

func (c *invocationContext) Attempt() int {
	return c.attempt
}

// newInvocationContext builds the per-invocation context.
func newInvocationContext(ctx context.Context, logger *slog.Logger, cfg *ProcessorContext, invocationID string, attempt int) *invocationContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &invocationContext{
		Context: ctx,
		logger: logger.With(
			slog.String("processor", cfg.Name()),
			slog.String("invocation_id", invocationID),
			slog.Int("attempt", attempt),
		),
		config:       cfg,
		invocationID: invocationID,
		attempt:      attempt,
	}
}
