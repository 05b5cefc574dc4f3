package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/streamsync/pkg/streamsync"
)

func newProcessorsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "processors",
		Short: "List the processor types a flow definition may use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			for _, name := range a.types.Keys() {
				factory, err := a.types.Lookup(name)
				if err != nil {
					return err
				}
				var inputs, outputs []streamsync.Relationship
				if d, ok := factory().(streamsync.Declarer); ok {
					inputs, outputs = d.Relationships()
				}
				fmt.Fprintf(w, "%-20s in: %-6s out: %s\n", name, relList(inputs), relList(outputs))
			}
			return nil
		},
	}
}

func relList(rels []streamsync.Relationship) string {
	if len(rels) == 0 {
		return "-"
	}
	names := make([]string, len(rels))
	for i, r := range rels {
		names[i] = string(r)
	}
	return strings.Join(names, ",")
}
