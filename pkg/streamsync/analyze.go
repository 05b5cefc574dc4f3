package streamsync

import (
	"log/slog"
	"slices"
)

// Analysis describes the shape of a FlowGraph. It is diagnostic only:
// cycles and unconnected outputs are legal.
type Analysis struct {
	// Sources are processors with no declared inputs.
	Sources []string
	// Sinks are processors with no outgoing connections.
	Sinks []string
	// Cycles lists each strongly connected component that forms a loop,
	// by processor name.
	Cycles [][]string
	// UnconnectedOutputs maps processor names to declared output relationships
	// with no connection. FlowFiles transferred there are auto-terminated.
	UnconnectedOutputs map[string][]Relationship
	// UnfedInputs maps processor names to declared input relationships with
	// no connection.
	UnfedInputs map[string][]Relationship
}

// HasCycles reports whether the graph contains a loop.
func (a Analysis) HasCycles() bool {
	return len(a.Cycles) > 0
}

// LogWarnings logs cycles and unconnected relationships at warn level.
func (a Analysis) LogWarnings(logger *slog.Logger) {
	if logger == nil {
		return
	}
	for _, cycle := range a.Cycles {
		logger.Warn("flow graph contains a cycle", slog.Any("processors", cycle))
	}
	for _, name := range sortedKeys(a.UnconnectedOutputs) {
		logger.Warn("output relationship has no connection, flowfiles will be auto-terminated",
			slog.String("processor", name),
			slog.Any("relationships", a.UnconnectedOutputs[name]))
	}
	for _, name := range sortedKeys(a.UnfedInputs) {
		logger.Warn("input relationship has no connection",
			slog.String("processor", name),
			slog.Any("relationships", a.UnfedInputs[name]))
	}
}

// Analyze inspects the current wiring.
func (g *FlowGraph) Analyze() Analysis {
	g.mu.RLock()
	defer g.mu.RUnlock()

	a := Analysis{
		UnconnectedOutputs: make(map[string][]Relationship),
		UnfedInputs:        make(map[string][]Relationship),
	}

	handles := g.processorsLocked()
	for _, h := range handles {
		n := g.nodes[h]
		if n.isSource() {
			a.Sources = append(a.Sources, n.name())
		}
		if len(n.out) == 0 {
			a.Sinks = append(a.Sinks, n.name())
		}

		connectedOut := make(map[Relationship]bool, len(n.out))
		for _, c := range n.out {
			connectedOut[c.relationship] = true
		}
		for _, rel := range n.outputs {
			if !connectedOut[rel] {
				a.UnconnectedOutputs[n.name()] = append(a.UnconnectedOutputs[n.name()], rel)
			}
		}

		connectedIn := make(map[Relationship]bool, len(n.in))
		for _, c := range n.in {
			connectedIn[c.input] = true
		}
		for _, rel := range n.inputs {
			if !connectedIn[rel] {
				a.UnfedInputs[n.name()] = append(a.UnfedInputs[n.name()], rel)
			}
		}
	}

	a.Cycles = g.findCyclesLocked(handles)
	return a
}

// findCyclesLocked runs Tarjan's strongly connected components algorithm and
// returns every component with more than one member or a self-loop.
func (g *FlowGraph) findCyclesLocked(handles []ProcessorHandle) [][]string {
	var (
		index   = make(map[ProcessorHandle]int, len(handles))
		lowlink = make(map[ProcessorHandle]int, len(handles))
		onStack = make(map[ProcessorHandle]bool, len(handles))
		stack   []ProcessorHandle
		next    int
		cycles  [][]string
	)

	var strongConnect func(h ProcessorHandle)
	strongConnect = func(h ProcessorHandle) {
		index[h] = next
		lowlink[h] = next
		next++
		stack = append(stack, h)
		onStack[h] = true

		selfLoop := false
		for _, c := range g.nodes[h].out {
			w := c.destination
			if w == h {
				selfLoop = true
			}
			if _, visited := index[w]; !visited {
				strongConnect(w)
				lowlink[h] = min(lowlink[h], lowlink[w])
			} else if onStack[w] {
				lowlink[h] = min(lowlink[h], index[w])
			}
		}

		if lowlink[h] != index[h] {
			return
		}
		var component []ProcessorHandle
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			component = append(component, w)
			if w == h {
				break
			}
		}
		if len(component) > 1 || selfLoop {
			slices.Sort(component)
			names := make([]string, len(component))
			for i, m := range component {
				names[i] = g.nodes[m].name()
			}
			cycles = append(cycles, names)
		}
	}

	for _, h := range handles {
		if _, visited := index[h]; !visited {
			strongConnect(h)
		}
	}
	return cycles
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
