package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/streamsync/pkg/streamsync"
)

func newValidateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Build a flow definition and report its structure",
		Long: `Validate builds the graph described by a flow definition without running it.

It reports sources, sinks, cycles, outputs with no connection (FlowFiles
sent there are dropped), and inputs nothing feeds.

Examples:
  streamsync validate -f flow.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flow, err := a.load()
			if err != nil {
				return fmt.Errorf("load flow: %w", err)
			}
			printAnalysis(cmd.OutOrStdout(), flow.Name, flow.Graph)
			return nil
		},
	}
	addFileFlag(cmd)
	return cmd
}

func printAnalysis(w io.Writer, name string, g *streamsync.FlowGraph) {
	a := g.Analyze()
	if name == "" {
		name = "(unnamed)"
	}
	fmt.Fprintf(w, "flow %s: %d processors, %d connections\n", name, len(g.Processors()), len(g.Connections()))
	fmt.Fprintf(w, "sources: %s\n", joinOrNone(a.Sources))
	fmt.Fprintf(w, "sinks:   %s\n", joinOrNone(a.Sinks))
	for _, cycle := range a.Cycles {
		fmt.Fprintf(w, "cycle:   %s\n", strings.Join(cycle, " -> "))
	}
	printRelationships(w, "unconnected output", a.UnconnectedOutputs)
	printRelationships(w, "unfed input", a.UnfedInputs)
}

func printRelationships(w io.Writer, label string, m map[string][]streamsync.Relationship) {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		for _, rel := range m[n] {
			fmt.Fprintf(w, "%s: %s.%s\n", label, n, rel)
		}
	}
}

func joinOrNone(s []string) string {
	if len(s) == 0 {
		return "none"
	}
	return strings.Join(s, ", ")
}
