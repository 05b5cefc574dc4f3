package benchmarks

import (
	"fmt"
	"testing"

	"github.com/randalmurphal/streamsync/pkg/streamsync"
)

// buildChain wires n pass-through processors behind a source.
func buildChain(n int) (*streamsync.FlowGraph, []streamsync.ProcessorHandle, []streamsync.ConnectionHandle) {
	g := streamsync.NewFlowGraph()
	src, err := g.RegisterProcessor(
		streamsync.ProcessorFunc("source", func(streamsync.Context, *streamsync.Session) error {
			return streamsync.ErrNoWork
		}), nil, streamsync.WithOutputs(streamsync.RelSuccess))
	if err != nil {
		panic(err)
	}

	procs := []streamsync.ProcessorHandle{src}
	var conns []streamsync.ConnectionHandle
	for i := range n {
		h, err := g.RegisterProcessor(passthrough(fmt.Sprintf("p%d", i)), nil,
			streamsync.WithInputs(streamsync.RelIn),
			streamsync.WithOutputs(streamsync.RelSuccess))
		if err != nil {
			panic(err)
		}
		c, err := g.ConnectPorts(procs[len(procs)-1], streamsync.RelSuccess, h, streamsync.RelIn, streamsync.Capacity{})
		if err != nil {
			panic(err)
		}
		procs = append(procs, h)
		conns = append(conns, c)
	}
	return g, procs, conns
}

func passthrough(name string) streamsync.Processor {
	return streamsync.ProcessorFunc(name, func(_ streamsync.Context, s *streamsync.Session) error {
		ff, ok := s.Get(streamsync.RelIn)
		if !ok {
			return streamsync.ErrNoWork
		}
		return s.Transfer(ff, streamsync.RelSuccess)
	})
}

// BenchmarkBuild_Chain_10 registers and wires a 10-processor chain.
func BenchmarkBuild_Chain_10(b *testing.B) {
	for b.Loop() {
		buildChain(10)
	}
}

// BenchmarkBuild_Chain_100 registers and wires a 100-processor chain.
func BenchmarkBuild_Chain_100(b *testing.B) {
	for b.Loop() {
		buildChain(100)
	}
}

// BenchmarkAnalyze_Chain_100 analyzes a 100-processor chain.
func BenchmarkAnalyze_Chain_100(b *testing.B) {
	g, _, _ := buildChain(100)
	for b.Loop() {
		_ = g.Analyze()
	}
}

// BenchmarkResolveOutputs looks up a processor's outgoing connections.
func BenchmarkResolveOutputs(b *testing.B) {
	g, procs, _ := buildChain(10)
	for b.Loop() {
		_, _ = g.ResolveOutputs(procs[5])
	}
}
