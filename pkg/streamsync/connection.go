package streamsync

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
)

// Capacity bounds a connection by FlowFile count and aggregate content size.
// A zero dimension is unbounded.
type Capacity struct {
	// MaxCount is the maximum number of FlowFiles held.
	MaxCount int
	// MaxBytes is the maximum aggregate content size held.
	MaxBytes int64
}

// DefaultCapacity is applied when a connection is created with a zero Capacity.
var DefaultCapacity = Capacity{
	MaxCount: 10000,
	MaxBytes: 1 << 30,
}

// IsZero reports whether both dimensions are unset.
func (c Capacity) IsZero() bool {
	return c.MaxCount == 0 && c.MaxBytes == 0
}

// String implements fmt.Stringer.
func (c Capacity) String() string {
	return fmt.Sprintf("count=%d bytes=%d", c.MaxCount, c.MaxBytes)
}

func (c Capacity) validate() error {
	if c.MaxCount < 0 || c.MaxBytes < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidCapacity, c)
	}
	return nil
}

// Connection is a bounded FIFO queue of FlowFiles from one processor's output
// relationship to another processor's input relationship.
//
// All operations are internally synchronized. Enqueue never blocks: it either
// admits the FlowFile or fails with a BackpressureError. FlowFiles claimed by a
// running session stay counted against capacity until the session commits, so
// a rollback can always restore them.
type Connection struct {
	id           ConnectionHandle
	source       ProcessorHandle
	destination  ProcessorHandle
	relationship Relationship
	input        Relationship
	capacity     Capacity

	mu            sync.Mutex
	queue         []*FlowFile
	head          int
	bytes         int64
	inflightCount int
	inflightBytes int64

	enqueued atomic.Int64
	rejected atomic.Int64
}

func newConnection(id ConnectionHandle, source ProcessorHandle, rel Relationship, dest ProcessorHandle, input Relationship, capacity Capacity) *Connection {
	if capacity.IsZero() {
		capacity = DefaultCapacity
	}
	return &Connection{
		id:           id,
		source:       source,
		destination:  dest,
		relationship: rel,
		input:        input,
		capacity:     capacity,
	}
}

// NewConnection creates a standalone connection that is not wired into a graph.
// A zero Capacity selects DefaultCapacity.
func NewConnection(capacity Capacity) (*Connection, error) {
	if err := capacity.validate(); err != nil {
		return nil, err
	}
	return newConnection(0, 0, "", 0, "", capacity), nil
}

// ID returns the connection handle.
func (c *Connection) ID() ConnectionHandle {
	return c.id
}

// Source returns the producing processor.
func (c *Connection) Source() ProcessorHandle {
	return c.source
}

// Destination returns the consuming processor.
func (c *Connection) Destination() ProcessorHandle {
	return c.destination
}

// Relationship returns the source's output relationship this connection serves.
func (c *Connection) Relationship() Relationship {
	return c.relationship
}

// InputRelationship returns the destination's input relationship.
func (c *Connection) InputRelationship() Relationship {
	return c.input
}

// Capacity returns the configured bounds.
func (c *Connection) Capacity() Capacity {
	return c.capacity
}

// Enqueue appends a FlowFile at the tail.
//
// Fails with a *BackpressureError (matching ErrBackpressure) when admitting it
// would exceed either capacity dimension; nothing is admitted in that case.
// Fails with ErrAlreadyOwned when any FlowFile with the same identifier is
// queued on a connection or held by a session.
func (c *Connection) Enqueue(ff *FlowFile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enqueueLocked(ff)
}

// Dequeue removes and returns the head FlowFile.
// Returns false when the queue is empty. Never blocks.
func (c *Connection) Dequeue() (*FlowFile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ff, ok := c.popLocked()
	if ok {
		c.bytes -= ff.Size()
		ff.setOwner(ownerFree)
	}
	return ff, ok
}

// IsEmpty reports whether no FlowFiles are queued.
func (c *Connection) IsEmpty() bool {
	return c.Len() == 0
}

// Len returns the number of queued FlowFiles.
func (c *Connection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue) - c.head
}

// Bytes returns the aggregate content size of queued FlowFiles.
func (c *Connection) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

// InFlight returns the number of FlowFiles claimed by an active session.
func (c *Connection) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflightCount
}

// AvailableCapacity returns the remaining headroom in each dimension.
// Unbounded dimensions report math.MaxInt and math.MaxInt64.
func (c *Connection) AvailableCapacity() Capacity {
	c.mu.Lock()
	defer c.mu.Unlock()
	avail := Capacity{MaxCount: math.MaxInt, MaxBytes: math.MaxInt64}
	if c.capacity.MaxCount > 0 {
		avail.MaxCount = max(0, c.capacity.MaxCount-c.occupiedCountLocked())
	}
	if c.capacity.MaxBytes > 0 {
		avail.MaxBytes = max(0, c.capacity.MaxBytes-c.occupiedBytesLocked())
	}
	return avail
}

// IsFull reports whether no further FlowFile can be admitted.
func (c *Connection) IsFull() bool {
	avail := c.AvailableCapacity()
	return avail.MaxCount == 0 || avail.MaxBytes == 0
}

// Peek returns the head FlowFile without removing it.
func (c *Connection) Peek() (*FlowFile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.head == len(c.queue) {
		return nil, false
	}
	return c.queue[c.head], true
}

// Stats returns cumulative counters and current occupancy.
func (c *Connection) Stats() ConnectionStats {
	c.mu.Lock()
	queued, bytes, inflight := len(c.queue)-c.head, c.bytes, c.inflightCount
	c.mu.Unlock()
	return ConnectionStats{
		Queued:   queued,
		Bytes:    bytes,
		InFlight: inflight,
		Enqueued: c.enqueued.Load(),
		Rejected: c.rejected.Load(),
	}
}

// ConnectionStats is a point-in-time view of a connection.
type ConnectionStats struct {
	Queued   int
	Bytes    int64
	InFlight int
	// Enqueued counts FlowFiles ever admitted.
	Enqueued int64
	// Rejected counts admissions refused by backpressure.
	Rejected int64
}

func (c *Connection) occupiedCountLocked() int {
	return len(c.queue) - c.head + c.inflightCount
}

func (c *Connection) occupiedBytesLocked() int64 {
	return c.bytes + c.inflightBytes
}

// admitLocked checks whether ff fits on top of count more FlowFiles totalling
// size bytes already promised to the caller.
func (c *Connection) admitLocked(ff *FlowFile, count int, size int64) error {
	if c.capacity.MaxBytes > 0 && ff.Size() > c.capacity.MaxBytes {
		return fmt.Errorf("%w: %d > %d", ErrFlowFileTooLarge, ff.Size(), c.capacity.MaxBytes)
	}
	return c.fitsLocked(count+1, size+ff.Size())
}

// fitsLocked checks whether count more FlowFiles totalling size bytes fit.
func (c *Connection) fitsLocked(count int, size int64) error {
	if c.capacity.MaxCount > 0 && c.occupiedCountLocked()+count > c.capacity.MaxCount {
		return &BackpressureError{Connection: c.id, Relationship: c.relationship}
	}
	if c.capacity.MaxBytes > 0 && c.occupiedBytesLocked()+size > c.capacity.MaxBytes {
		return &BackpressureError{Connection: c.id, Relationship: c.relationship}
	}
	return nil
}

func (c *Connection) enqueueLocked(ff *FlowFile) error {
	if !ff.acquire(ownerFree, ownerQueued) {
		return ErrAlreadyOwned
	}
	if err := c.admitLocked(ff, 0, 0); err != nil {
		ff.setOwner(ownerFree)
		c.rejected.Add(1)
		return err
	}
	c.pushLocked(ff)
	return nil
}

func (c *Connection) pushLocked(ff *FlowFile) {
	ff.setOwner(ownerQueued)
	c.queue = append(c.queue, ff)
	c.bytes += ff.Size()
	c.enqueued.Add(1)
}

// popLocked removes the head without adjusting byte accounting.
func (c *Connection) popLocked() (*FlowFile, bool) {
	if c.head == len(c.queue) {
		return nil, false
	}
	ff := c.queue[c.head]
	c.queue[c.head] = nil
	c.head++
	switch {
	case c.head == len(c.queue):
		c.queue = c.queue[:0]
		c.head = 0
	case c.head >= 64 && c.head*2 >= len(c.queue):
		n := copy(c.queue, c.queue[c.head:])
		clear(c.queue[n:])
		c.queue = c.queue[:n]
		c.head = 0
	}
	return ff, true
}

// claim moves the head FlowFile into the in-flight set of a session.
// The FlowFile stays owned until the session commits or rolls back.
func (c *Connection) claim() (*FlowFile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ff, ok := c.popLocked()
	if !ok {
		return nil, false
	}
	ff.setOwner(ownerSession)
	c.bytes -= ff.Size()
	c.inflightCount++
	c.inflightBytes += ff.Size()
	return ff, true
}

// releaseLocked forgets claimed FlowFiles once their session committed.
func (c *Connection) releaseLocked(count int, size int64) {
	c.inflightCount -= count
	c.inflightBytes -= size
}

// restore puts claimed FlowFiles back at the head in their original order.
func (c *Connection) restore(ffs []*FlowFile) {
	if len(ffs) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var size int64
	for _, ff := range ffs {
		ff.setOwner(ownerQueued)
		size += ff.Size()
	}
	rest := c.queue[c.head:]
	queue := make([]*FlowFile, 0, len(ffs)+len(rest))
	queue = append(queue, ffs...)
	queue = append(queue, rest...)
	c.queue = queue
	c.head = 0
	c.bytes += size
	c.releaseLocked(len(ffs), size)
}
