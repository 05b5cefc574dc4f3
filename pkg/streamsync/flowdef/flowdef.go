package flowdef

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/randalmurphal/streamsync/pkg/streamsync"
	"github.com/randalmurphal/streamsync/pkg/streamsync/config"
	"github.com/randalmurphal/streamsync/pkg/streamsync/provenance"
	"github.com/randalmurphal/streamsync/pkg/streamsync/registry"
)

// ErrInvalidDefinition indicates a structurally invalid flow document.
var ErrInvalidDefinition = errors.New("invalid flow definition")

// Factory creates a fresh processor instance.
type Factory func() streamsync.Processor

// Types maps processor type names to factories.
type Types = registry.Registry[string, Factory]

// NewTypes creates an empty type registry.
func NewTypes() *Types {
	return registry.New[string, Factory]()
}

// Flow is a graph built from a definition, with the scheduler settings the
// definition asked for.
type Flow struct {
	// Name is the optional flow name.
	Name string
	// Graph holds the registered processors and connections.
	Graph *streamsync.FlowGraph
	// Options carries the scheduler section as SchedulerOptions.
	Options []streamsync.SchedulerOption
	// Processors maps processor names to handles.
	Processors map[string]streamsync.ProcessorHandle
	// Connections lists the created connections in definition order.
	Connections []streamsync.ConnectionHandle
	// Provenance is the repository named by the definition, or empty.
	// The caller opens it with provenance.Open.
	Provenance string
}

// LoadFile reads a YAML or JSON flow definition from path.
func LoadFile(path string, types *Types) (*Flow, error) {
	cfg, err := config.FromFile(path)
	if err != nil {
		return nil, err
	}
	return Build(cfg, types)
}

// Load reads a YAML (or JSON) flow definition from r.
func Load(r io.Reader, types *Types) (*Flow, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	cfg, err := config.FromYAML(data)
	if err != nil {
		return nil, err
	}
	return Build(cfg, types)
}

// Build constructs a Flow from a parsed definition.
//
// A definition looks like:
//
//	name: temperatures
//	provenance: sqlite:prov.db
//	scheduler:
//	  workers: 4
//	  poll_interval: 10ms
//	default_capacity:
//	  count: 1000
//	  size: 10 MB
//	processors:
//	  - name: gen
//	    type: GenerateFlowFile
//	    trigger_interval: 1s
//	    properties:
//	      content: "21.5"
//	  - name: convert
//	    type: ConvertTemperature
//	connections:
//	  - from: gen
//	    relationship: success
//	    to: convert
//	    capacity:
//	      count: 10
//
// Connections feed the "in" relationship unless input is given.
func Build(cfg config.Config, types *Types) (*Flow, error) {
	if types == nil {
		return nil, fmt.Errorf("%w: no processor types", ErrInvalidDefinition)
	}

	defaultCap, err := parseCapacity(cfg.Section("default_capacity"), streamsync.Capacity{})
	if err != nil {
		return nil, fmt.Errorf("default_capacity: %w", err)
	}

	flow := &Flow{
		Name:       cfg.String("name", ""),
		Graph:      streamsync.NewFlowGraph(),
		Options:    schedulerOptions(cfg.Section("scheduler")),
		Processors: make(map[string]streamsync.ProcessorHandle),
		Provenance: cfg.String("provenance", ""),
	}

	procs := cfg.List("processors")
	if len(procs) == 0 {
		return nil, fmt.Errorf("%w: no processors", ErrInvalidDefinition)
	}
	for i, pc := range procs {
		if err := flow.addProcessor(pc, types); err != nil {
			return nil, fmt.Errorf("processors[%d]: %w", i, err)
		}
	}
	for i, cc := range cfg.List("connections") {
		if err := flow.addConnection(cc, defaultCap); err != nil {
			return nil, fmt.Errorf("connections[%d]: %w", i, err)
		}
	}
	return flow, nil
}

func (f *Flow) addProcessor(pc config.Config, types *Types) error {
	name := pc.String("name", "")
	typ := pc.String("type", "")
	if name == "" || typ == "" {
		return fmt.Errorf("%w: name and type are required", ErrInvalidDefinition)
	}
	factory, err := types.Lookup(typ)
	if err != nil {
		return fmt.Errorf("processor %s: %w", name, err)
	}

	props := pc.StringMap("properties")
	if props == nil && len(pc.Section("properties").Keys()) > 0 {
		return fmt.Errorf("%w: processor %s: properties must be scalar values", ErrInvalidDefinition, name)
	}
	pctx := streamsync.NewProcessorContext(name)
	for k, v := range props {
		pctx.SetProperty(k, v)
	}

	var opts []streamsync.RegisterOption
	if pc.Has("trigger_interval") {
		d := pc.Duration("trigger_interval", -1)
		if d < 0 {
			return fmt.Errorf("%w: processor %s: bad trigger_interval", ErrInvalidDefinition, name)
		}
		opts = append(opts, streamsync.WithTriggerInterval(d))
	}
	if in := pc.StringSlice("inputs", nil); in != nil {
		opts = append(opts, streamsync.WithInputs(relationships(in)...))
	}
	if out := pc.StringSlice("outputs", nil); out != nil {
		opts = append(opts, streamsync.WithOutputs(relationships(out)...))
	}

	h, err := f.Graph.RegisterProcessor(factory(), pctx, opts...)
	if err != nil {
		return err
	}
	f.Processors[name] = h
	return nil
}

func (f *Flow) addConnection(cc config.Config, defaultCap streamsync.Capacity) error {
	fromName := cc.String("from", "")
	toName := cc.String("to", "")
	rel := cc.String("relationship", "")
	if fromName == "" || toName == "" || rel == "" {
		return fmt.Errorf("%w: from, relationship, and to are required", ErrInvalidDefinition)
	}
	from, ok := f.Processors[fromName]
	if !ok {
		return fmt.Errorf("from %q: %w", fromName, streamsync.ErrUnknownProcessor)
	}
	to, ok := f.Processors[toName]
	if !ok {
		return fmt.Errorf("to %q: %w", toName, streamsync.ErrUnknownProcessor)
	}
	capacity, err := parseCapacity(cc.Section("capacity"), defaultCap)
	if err != nil {
		return err
	}

	in := streamsync.Relationship(cc.String("input", string(streamsync.RelIn)))
	h, err := f.Graph.ConnectPorts(from, streamsync.Relationship(rel), to, in, capacity)
	if err != nil {
		return err
	}
	f.Connections = append(f.Connections, h)
	return nil
}

// parseCapacity reads count and size. A missing dimension falls back to def.
func parseCapacity(c config.Config, def streamsync.Capacity) (streamsync.Capacity, error) {
	out := streamsync.Capacity{
		MaxCount: c.Int("count", def.MaxCount),
		MaxBytes: c.Bytes("size", def.MaxBytes),
	}
	if c.Has("size") && c.Bytes("size", -1) < 0 {
		return out, fmt.Errorf("%w: size %q", ErrInvalidDefinition, c.String("size", ""))
	}
	if out.MaxCount < 0 || out.MaxBytes < 0 {
		return out, fmt.Errorf("%w: %s", streamsync.ErrInvalidCapacity, out)
	}
	return out, nil
}

func schedulerOptions(c config.Config) []streamsync.SchedulerOption {
	var opts []streamsync.SchedulerOption
	if n := c.Int("workers", 0); n > 0 {
		opts = append(opts, streamsync.WithWorkers(n))
	}
	durations := []struct {
		key string
		opt func(time.Duration) streamsync.SchedulerOption
	}{
		{"poll_interval", streamsync.WithPollInterval},
		{"yield", streamsync.WithYieldDuration},
		{"max_yield", streamsync.WithMaxYieldDuration},
	}
	for _, d := range durations {
		if v := c.Duration(d.key, 0); v > 0 {
			opts = append(opts, d.opt(v))
		}
	}
	if c.Bool("metrics", false) {
		opts = append(opts, streamsync.WithMetrics(true))
	}
	if c.Bool("tracing", false) {
		opts = append(opts, streamsync.WithTracing(true))
	}
	return opts
}

func relationships(names []string) []streamsync.Relationship {
	out := make([]streamsync.Relationship, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, streamsync.Relationship(n))
		}
	}
	return out
}

// OpenProvenance opens the repository named by the definition. It returns
// nil when the definition names none.
func (f *Flow) OpenProvenance() (provenance.Repository, error) {
	if f.Provenance == "" {
		return nil, nil
	}
	return provenance.Open(f.Provenance)
}
