// Package provenance records the disposition of every FlowFile that moves
// through a flow: creation, receipt, cloning, routing, drops, and rollbacks.
//
// A Repository is an audit log, not a recovery journal. The scheduler records
// events after each session completes and logs failures without failing the
// invocation.
package provenance

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// EventType classifies a provenance event.
type EventType string

// Event types.
const (
	// EventCreate records a FlowFile created by a processor or injected by the host.
	EventCreate EventType = "CREATE"
	// EventReceive records a FlowFile pulled from a connection by a committed session.
	EventReceive EventType = "RECEIVE"
	// EventClone records a sibling produced by Session.Clone or by fan-out.
	EventClone EventType = "CLONE"
	// EventRoute records a FlowFile committed onto a connection.
	EventRoute EventType = "ROUTE"
	// EventDrop records a terminal disposition with no downstream connection.
	EventDrop EventType = "DROP"
	// EventRollback records a pulled FlowFile restored to its source connection.
	EventRollback EventType = "ROLLBACK"
)

// Event is a single provenance record.
type Event struct {
	ID           string            `json:"id" msgpack:"id"`
	Type         EventType         `json:"type" msgpack:"type"`
	FlowFileID   string            `json:"flowfile_id" msgpack:"flowfile_id"`
	ParentID     string            `json:"parent_id,omitempty" msgpack:"parent_id,omitempty"`
	Processor    string            `json:"processor" msgpack:"processor"`
	Relationship string            `json:"relationship,omitempty" msgpack:"relationship,omitempty"`
	Connection   int               `json:"connection,omitempty" msgpack:"connection,omitempty"`
	Generation   int               `json:"generation" msgpack:"generation"`
	Size         int64             `json:"size" msgpack:"size"`
	Attributes   map[string]string `json:"attributes,omitempty" msgpack:"attributes,omitempty"`
	Details      string            `json:"details,omitempty" msgpack:"details,omitempty"`
	Timestamp    time.Time         `json:"timestamp" msgpack:"timestamp"`
}

// Repository stores provenance events.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Record appends events in order. Events without an ID or Timestamp get one.
	Record(events ...Event) error

	// Lineage returns every event whose FlowFileID or ParentID is flowFileID,
	// oldest first. Returns an empty slice (not error) for unknown identifiers.
	Lineage(flowFileID string) ([]Event, error)

	// Recent returns up to limit of the newest events, newest first.
	Recent(limit int) ([]Event, error)

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for provenance operations.
var (
	// ErrRepositoryClosed indicates the repository has been closed.
	ErrRepositoryClosed = errors.New("provenance repository closed")
)

// prepare fills in the identifier and timestamp of an event.
func prepare(e Event) Event {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return e
}

// matches reports whether an event belongs to a FlowFile's lineage.
func matches(e Event, flowFileID string) bool {
	return e.FlowFileID == flowFileID || e.ParentID == flowFileID
}
