package streamsync

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ProcessorHandle identifies a processor within its FlowGraph.
// The zero handle is invalid.
type ProcessorHandle int

// ConnectionHandle identifies a connection within its FlowGraph.
// The zero handle is invalid.
type ConnectionHandle int

// node is a registered processor and its wiring.
type node struct {
	handle          ProcessorHandle
	processor       Processor
	config          *ProcessorContext
	inputs          []Relationship
	outputs         []Relationship
	triggerInterval time.Duration

	in  []*Connection
	out []*Connection

	// runMu is held for the duration of an invocation.
	runMu sync.Mutex
	// active counts invocations that have claimed this node.
	active atomic.Int32
}

func (n *node) name() string {
	return n.config.Name()
}

func (n *node) declaresInput(rel Relationship) bool {
	return slices.Contains(n.inputs, rel)
}

func (n *node) declaresOutput(rel Relationship) bool {
	return slices.Contains(n.outputs, rel)
}

func (n *node) isSource() bool {
	return len(n.inputs) == 0
}

// FlowGraph is the directed graph of processors and connections.
//
// The graph exclusively owns every processor, processor context, and
// connection registered with it. Processors never reference each other; they
// only see relationship names through their Session. Cycles are permitted.
//
// FlowGraph is safe for concurrent use. Wiring may change while a Scheduler is
// running; teardown refuses to remove connections holding FlowFiles or
// processors with an invocation in flight.
//
// Example:
//
//	g := streamsync.NewFlowGraph()
//	gen, _ := g.RegisterProcessor(generator, streamsync.NewProcessorContext("gen"),
//	    streamsync.WithOutputs(streamsync.RelSuccess))
//	sink, _ := g.RegisterProcessor(logger, streamsync.NewProcessorContext("log"),
//	    streamsync.WithInputs(streamsync.RelSuccess))
//	_, err := g.Connect(gen, streamsync.RelSuccess, sink, streamsync.Capacity{MaxCount: 100})
type FlowGraph struct {
	mu             sync.RWMutex
	nodes          map[ProcessorHandle]*node
	byName         map[string]ProcessorHandle
	connections    map[ConnectionHandle]*Connection
	nextProcessor  ProcessorHandle
	nextConnection ConnectionHandle
}

// NewFlowGraph creates an empty graph.
func NewFlowGraph() *FlowGraph {
	return &FlowGraph{
		nodes:       make(map[ProcessorHandle]*node),
		byName:      make(map[string]ProcessorHandle),
		connections: make(map[ConnectionHandle]*Connection),
	}
}

// RegisterProcessor inserts a processor with its configuration.
//
// The processor is registered under pctx.Name(); when pctx is nil a new
// context named after p.Name() is created. Relationships come from
// WithInputs/WithOutputs or, failing those, from the Declarer interface.
//
// Returns a *WiringError wrapping ErrInvalidName or ErrDuplicateProcessor.
func (g *FlowGraph) RegisterProcessor(p Processor, pctx *ProcessorContext, opts ...RegisterOption) (ProcessorHandle, error) {
	if p == nil {
		return 0, &WiringError{Op: "register", Err: fmt.Errorf("%w: nil processor", ErrInvalidName)}
	}
	if pctx == nil {
		pctx = NewProcessorContext(p.Name())
	}
	name := pctx.Name()
	if err := validateName(name); err != nil {
		return 0, &WiringError{Op: "register", Processor: name, Err: err}
	}

	reg := newRegistration(p, opts)

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.byName[name]; exists {
		return 0, &WiringError{Op: "register", Processor: name, Err: ErrDuplicateProcessor}
	}

	g.nextProcessor++
	h := g.nextProcessor
	g.nodes[h] = &node{
		handle:          h,
		processor:       p,
		config:          pctx,
		inputs:          reg.inputs,
		outputs:         reg.outputs,
		triggerInterval: reg.triggerInterval,
	}
	g.byName[name] = h
	return h, nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if strings.ContainsAny(name, " \t\n\r") {
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidName, name)
	}
	return nil
}

// Connect wires from's output relationship rel to to's input relationship of
// the same name. A zero Capacity selects DefaultCapacity.
//
// Returns a *WiringError wrapping ErrUnknownProcessor, ErrUndeclaredRelationship,
// or ErrInvalidCapacity.
func (g *FlowGraph) Connect(from ProcessorHandle, rel Relationship, to ProcessorHandle, capacity Capacity) (ConnectionHandle, error) {
	return g.ConnectPorts(from, rel, to, rel, capacity)
}

// ConnectPorts wires from's output relationship out to to's input relationship in.
func (g *FlowGraph) ConnectPorts(from ProcessorHandle, out Relationship, to ProcessorHandle, in Relationship, capacity Capacity) (ConnectionHandle, error) {
	if err := capacity.validate(); err != nil {
		return 0, &WiringError{Op: "connect", Relationship: out, Err: err}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	src, ok := g.nodes[from]
	if !ok {
		return 0, &WiringError{Op: "connect", Relationship: out, Err: fmt.Errorf("%w: handle %d", ErrUnknownProcessor, from)}
	}
	dst, ok := g.nodes[to]
	if !ok {
		return 0, &WiringError{Op: "connect", Relationship: in, Err: fmt.Errorf("%w: handle %d", ErrUnknownProcessor, to)}
	}
	if !src.declaresOutput(out) {
		return 0, &WiringError{Op: "connect", Processor: src.name(), Relationship: out, Err: ErrUndeclaredRelationship}
	}
	if !dst.declaresInput(in) {
		return 0, &WiringError{Op: "connect", Processor: dst.name(), Relationship: in, Err: ErrUndeclaredRelationship}
	}

	g.nextConnection++
	c := newConnection(g.nextConnection, from, out, to, in, capacity)
	g.connections[c.id] = c
	src.out = append(src.out, c)
	dst.in = append(dst.in, c)
	return c.id, nil
}

// Disconnect removes a connection.
// Fails with ErrConnectionNotEmpty if it holds queued or in-flight FlowFiles,
// or ErrProcessorBusy if either endpoint has an invocation in flight.
func (g *FlowGraph) Disconnect(h ConnectionHandle) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.connections[h]
	if !ok {
		return &WiringError{Op: "disconnect", Err: fmt.Errorf("%w: handle %d", ErrUnknownConnection, h)}
	}
	src, dst := g.nodes[c.source], g.nodes[c.destination]
	if src.active.Load() > 0 || dst.active.Load() > 0 {
		return &WiringError{Op: "disconnect", Relationship: c.relationship, Err: ErrProcessorBusy}
	}
	if stats := c.Stats(); stats.Queued > 0 || stats.InFlight > 0 {
		return &WiringError{Op: "disconnect", Relationship: c.relationship, Err: ErrConnectionNotEmpty}
	}

	src.out = slices.DeleteFunc(src.out, func(x *Connection) bool { return x == c })
	dst.in = slices.DeleteFunc(dst.in, func(x *Connection) bool { return x == c })
	delete(g.connections, h)
	return nil
}

// Unregister removes a processor and its (empty) connections.
// Fails with ErrProcessorBusy if it has an invocation in flight, or
// ErrConnectionNotEmpty if any attached connection holds FlowFiles.
// The scheduler skips handles that no longer resolve.
func (g *FlowGraph) Unregister(h ProcessorHandle) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[h]
	if !ok {
		return &WiringError{Op: "unregister", Err: fmt.Errorf("%w: handle %d", ErrUnknownProcessor, h)}
	}
	if n.active.Load() > 0 {
		return &WiringError{Op: "unregister", Processor: n.name(), Err: ErrProcessorBusy}
	}

	attached := slices.Concat(n.in, n.out)
	for _, c := range attached {
		peer := g.nodes[c.source]
		if c.source == h {
			peer = g.nodes[c.destination]
		}
		if peer.active.Load() > 0 {
			return &WiringError{Op: "unregister", Processor: peer.name(), Err: ErrProcessorBusy}
		}
		if stats := c.Stats(); stats.Queued > 0 || stats.InFlight > 0 {
			return &WiringError{Op: "unregister", Processor: n.name(), Relationship: c.relationship, Err: ErrConnectionNotEmpty}
		}
	}

	for _, c := range attached {
		if src, ok := g.nodes[c.source]; ok {
			src.out = slices.DeleteFunc(src.out, func(x *Connection) bool { return x == c })
		}
		if dst, ok := g.nodes[c.destination]; ok {
			dst.in = slices.DeleteFunc(dst.in, func(x *Connection) bool { return x == c })
		}
		delete(g.connections, c.id)
	}
	delete(g.byName, n.name())
	delete(g.nodes, h)
	return nil
}

// ResolveInputs returns the handles of connections feeding a processor,
// in connection order.
func (g *FlowGraph) ResolveInputs(h ProcessorHandle) ([]ConnectionHandle, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[h]
	if !ok {
		return nil, fmt.Errorf("%w: handle %d", ErrUnknownProcessor, h)
	}
	return connectionHandles(n.in), nil
}

// ResolveOutputs returns the handles of connections leaving a processor,
// in connection order.
func (g *FlowGraph) ResolveOutputs(h ProcessorHandle) ([]ConnectionHandle, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[h]
	if !ok {
		return nil, fmt.Errorf("%w: handle %d", ErrUnknownProcessor, h)
	}
	return connectionHandles(n.out), nil
}

func connectionHandles(conns []*Connection) []ConnectionHandle {
	out := make([]ConnectionHandle, len(conns))
	for i, c := range conns {
		out[i] = c.id
	}
	return out
}

// Connection returns a connection by handle.
func (g *FlowGraph) Connection(h ConnectionHandle) (*Connection, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.connections[h]
	return c, ok
}

// Connections returns all connection handles in ascending order.
func (g *FlowGraph) Connections() []ConnectionHandle {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]ConnectionHandle, 0, len(g.connections))
	for h := range g.connections {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}

// Lookup returns the handle registered under name.
func (g *FlowGraph) Lookup(name string) (ProcessorHandle, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	h, ok := g.byName[name]
	return h, ok
}

// Processors returns all processor handles in ascending order.
func (g *FlowGraph) Processors() []ProcessorHandle {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.processorsLocked()
}

func (g *FlowGraph) processorsLocked() []ProcessorHandle {
	out := make([]ProcessorHandle, 0, len(g.nodes))
	for h := range g.nodes {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}

// Name returns the registered name of a processor.
func (g *FlowGraph) Name(h ProcessorHandle) (string, bool) {
	n, ok := g.node(h)
	if !ok {
		return "", false
	}
	return n.name(), true
}

// Relationships returns the declared input and output relationships of a processor.
func (g *FlowGraph) Relationships(h ProcessorHandle) (inputs, outputs []Relationship, err error) {
	n, ok := g.node(h)
	if !ok {
		return nil, nil, fmt.Errorf("%w: handle %d", ErrUnknownProcessor, h)
	}
	return slices.Clone(n.inputs), slices.Clone(n.outputs), nil
}

// Property reads a processor configuration property.
func (g *FlowGraph) Property(h ProcessorHandle, key string) (string, bool) {
	n, ok := g.node(h)
	if !ok {
		return "", false
	}
	return n.config.Property(key)
}

// SetProperty writes a processor configuration property.
// Blocks until any in-flight invocation of the processor returns.
func (g *FlowGraph) SetProperty(h ProcessorHandle, key, value string) error {
	n, ok := g.node(h)
	if !ok {
		return fmt.Errorf("%w: handle %d", ErrUnknownProcessor, h)
	}
	n.runMu.Lock()
	defer n.runMu.Unlock()
	n.config.SetProperty(key, value)
	return nil
}

// RemoveProperty deletes a processor configuration property.
// Blocks until any in-flight invocation of the processor returns.
func (g *FlowGraph) RemoveProperty(h ProcessorHandle, key string) error {
	n, ok := g.node(h)
	if !ok {
		return fmt.Errorf("%w: handle %d", ErrUnknownProcessor, h)
	}
	n.runMu.Lock()
	defer n.runMu.Unlock()
	n.config.RemoveProperty(key)
	return nil
}

func (g *FlowGraph) node(h ProcessorHandle) (*node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[h]
	return n, ok
}

// wiring is a snapshot of a processor's connections grouped by relationship.
type wiring struct {
	inputs  map[Relationship][]*Connection
	outputs map[Relationship][]*Connection
}

func (g *FlowGraph) wiringFor(n *node) wiring {
	g.mu.RLock()
	defer g.mu.RUnlock()

	w := wiring{
		inputs:  make(map[Relationship][]*Connection, len(n.inputs)),
		outputs: make(map[Relationship][]*Connection, len(n.outputs)),
	}
	for _, c := range n.in {
		w.inputs[c.input] = append(w.inputs[c.input], c)
	}
	for _, c := range n.out {
		w.outputs[c.relationship] = append(w.outputs[c.relationship], c)
	}
	return w
}

// hasInput reports whether any input connection of n holds queued FlowFiles.
func (g *FlowGraph) hasInput(n *node) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, c := range n.in {
		if !c.IsEmpty() {
			return true
		}
	}
	return false
}

// outputsFull reports whether any output connection of n has no headroom.
func (g *FlowGraph) outputsFull(n *node) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, c := range n.out {
		if c.IsFull() {
			return true
		}
	}
	return false
}
