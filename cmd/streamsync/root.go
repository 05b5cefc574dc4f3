package main

import (
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/randalmurphal/streamsync/pkg/streamsync/flowdef"
	"github.com/randalmurphal/streamsync/pkg/streamsync/observability"
	"github.com/randalmurphal/streamsync/pkg/streamsync/processors"
)

// app holds state shared by every subcommand.
type app struct {
	v      *viper.Viper
	logger *slog.Logger
	types  *flowdef.Types
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "streamsync",
		Short: "Run flow-based dataflow pipelines",
		Long: `streamsync loads a flow definition (processors joined by bounded
connections) and runs it until interrupted.

Flags may also be set through STREAMSYNC_* environment variables,
for example STREAMSYNC_LOG_LEVEL=debug.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.String("log-level", "info", "log level (debug|info|warn|error)")
	flags.String("log-format", "text", "log format (text|json)")
	_ = a.v.BindPFlags(flags)

	a.v.SetEnvPrefix("STREAMSYNC")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root.AddCommand(
		newValidateCmd(a),
		newRunCmd(a),
		newProcessorsCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	logger, err := observability.NewLogger(cmd.ErrOrStderr(), a.v.GetString("log-level"), a.v.GetString("log-format"))
	if err != nil {
		return err
	}
	a.logger = logger

	a.types = flowdef.NewTypes()
	return processors.RegisterAll(a.types)
}

// load reads the flow named by the --file flag.
func (a *app) load() (*flowdef.Flow, error) {
	return flowdef.LoadFile(a.v.GetString("file"), a.types)
}

func addFileFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("file", "f", "flow.yaml", "flow definition (YAML or JSON)")
}
