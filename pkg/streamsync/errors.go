package streamsync

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for connection and session operations.
var (
	// ErrBackpressure indicates a connection is at capacity.
	// It is recoverable: the scheduler retries the processor later.
	ErrBackpressure = errors.New("connection at capacity")

	// ErrFlowFileTooLarge indicates a FlowFile exceeds a connection's byte
	// capacity on its own and can never be admitted.
	ErrFlowFileTooLarge = errors.New("flowfile exceeds connection byte capacity")

	// ErrAlreadyOwned indicates a FlowFile is already held by a connection.
	ErrAlreadyOwned = errors.New("flowfile already owned by a connection")

	// ErrNotOwned indicates a session was asked to move a FlowFile it does not hold.
	ErrNotOwned = errors.New("flowfile not owned by session")

	// ErrAlreadyTransferred indicates a FlowFile was already transferred or
	// removed within the current session.
	ErrAlreadyTransferred = errors.New("flowfile already transferred")

	// ErrUnknownRelationship indicates a relationship the processor did not declare.
	ErrUnknownRelationship = errors.New("relationship not declared")

	// ErrNoWork signals that an invocation found nothing to do.
	// The session is rolled back and the processor returns to Idle.
	ErrNoWork = errors.New("no work available")

	// ErrPropertyNotSet indicates a required property is absent.
	ErrPropertyNotSet = errors.New("property not set")
)

// Sentinel errors for graph construction and teardown.
var (
	// ErrDuplicateProcessor indicates a processor name is already registered.
	ErrDuplicateProcessor = errors.New("duplicate processor name")

	// ErrUnknownProcessor indicates a handle or name that is not registered.
	ErrUnknownProcessor = errors.New("processor not found")

	// ErrUnknownConnection indicates a connection handle that does not exist.
	ErrUnknownConnection = errors.New("connection not found")

	// ErrUndeclaredRelationship indicates a connect call naming a relationship
	// that one of the endpoints does not declare.
	ErrUndeclaredRelationship = errors.New("relationship not declared by processor")

	// ErrInvalidName indicates an empty or malformed processor name.
	ErrInvalidName = errors.New("invalid processor name")

	// ErrInvalidCapacity indicates a negative capacity dimension.
	ErrInvalidCapacity = errors.New("invalid capacity")

	// ErrConnectionNotEmpty indicates teardown of a connection still holding FlowFiles.
	ErrConnectionNotEmpty = errors.New("connection not empty")

	// ErrProcessorBusy indicates teardown of a processor with work in flight.
	ErrProcessorBusy = errors.New("processor has work in flight")
)

// Sentinel errors for the scheduler.
var (
	// ErrSchedulerRunning indicates Start was called on a running scheduler.
	ErrSchedulerRunning = errors.New("scheduler already running")

	// ErrSchedulerStopped indicates Stop was called on a scheduler that is not running.
	ErrSchedulerStopped = errors.New("scheduler not running")

	// ErrNotFailed indicates Reset was called on a processor that is not quarantined.
	ErrNotFailed = errors.New("processor not failed")

	// ErrNotRunnable indicates Trigger was called on a processor that cannot run now.
	ErrNotRunnable = errors.New("processor not runnable")
)

// BackpressureError reports which connection refused a FlowFile.
type BackpressureError struct {
	// Connection is the connection that is at capacity.
	Connection ConnectionHandle
	// Relationship is the relationship the transfer targeted.
	Relationship Relationship
}

// Error implements the error interface.
func (e *BackpressureError) Error() string {
	return fmt.Sprintf("backpressure on connection %d (relationship %s)", e.Connection, e.Relationship)
}

// Unwrap returns ErrBackpressure for errors.Is support.
func (e *BackpressureError) Unwrap() error {
	return ErrBackpressure
}

// ConfigurationError reports a missing or malformed processor property.
// It is returned to the processor's own invocation, which decides whether to
// fail or fall back.
type ConfigurationError struct {
	// Processor is the name of the processor whose property is invalid.
	Processor string
	// Property is the property key.
	Property string
	// Reason describes what is wrong. Empty when the property is simply unset.
	Reason string
	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("processor %s: property %q: %v", e.Processor, e.Property, e.Unwrap())
	}
	return fmt.Sprintf("processor %s: property %q: %s", e.Processor, e.Property, e.Reason)
}

// Unwrap returns the underlying error, or ErrPropertyNotSet when none is set.
func (e *ConfigurationError) Unwrap() error {
	if e.Err == nil {
		return ErrPropertyNotSet
	}
	return e.Err
}

// NewConfigurationError builds a ConfigurationError for a malformed value.
// Processors use it when coercing string properties to typed values.
func NewConfigurationError(processor, property string, err error) *ConfigurationError {
	return &ConfigurationError{
		Processor: processor,
		Property:  property,
		Reason:    err.Error(),
		Err:       err,
	}
}

// ProcessorFault reports an invocation that failed unrecoverably.
// The session was rolled back and the processor is quarantined.
type ProcessorFault struct {
	// Processor is the name of the failed processor.
	Processor string
	// Handle identifies the processor in its graph.
	Handle ProcessorHandle
	// InvocationID identifies the failed invocation.
	InvocationID string
	// Err is the originating condition.
	Err error
	// Time is when the fault occurred.
	Time time.Time
}

// Error implements the error interface.
func (e *ProcessorFault) Error() string {
	return fmt.Sprintf("processor %s faulted (invocation %s): %v", e.Processor, e.InvocationID, e.Err)
}

// Unwrap returns the originating condition.
func (e *ProcessorFault) Unwrap() error {
	return e.Err
}

// WiringError wraps an invalid graph construction call.
type WiringError struct {
	// Op is the graph operation ("register", "connect", "disconnect", "unregister").
	Op string
	// Processor names the processor involved, if any.
	Processor string
	// Relationship names the relationship involved, if any.
	Relationship Relationship
	// Err is the underlying sentinel.
	Err error
}

// Error implements the error interface.
func (e *WiringError) Error() string {
	switch {
	case e.Relationship != "":
		return fmt.Sprintf("%s %s[%s]: %v", e.Op, e.Processor, e.Relationship, e.Err)
	case e.Processor != "":
		return fmt.Sprintf("%s %s: %v", e.Op, e.Processor, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *WiringError) Unwrap() error {
	return e.Err
}

// PanicError captures a panic raised by a processor invocation.
type PanicError struct {
	// Processor is the name of the processor that panicked.
	Processor string
	// Value is the value passed to panic().
	Value any
	// Stack is the stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("processor %s panicked: %v", e.Processor, e.Value)
}
