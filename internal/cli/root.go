// Package cli implements the tokutei command.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tokutei-learning/tokutei/internal/config"
	"github.com/tokutei-learning/tokutei/internal/logging"
)

// env is what every subcommand starts from.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCmd creates the root cobra command.
func NewRootCmd() *cobra.Command {
	e := &env{}
	var debug bool

	root := &cobra.Command{
		Use:   "tokutei",
		Short: "TOKUTEI Learning auth and session server",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			if debug {
				cfg.LogLevel = "debug"
			}
			e.cfg = cfg
			e.logger = logging.NewLoggerWithWriter(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat, cmd.ErrOrStderr())
			return nil
		},
		SilenceUsage: true,
	}

	config.RegisterFlags(root.PersistentFlags())
	root.PersistentFlags().BoolVar(&debug, "debug", false, "shorthand for --log-level=debug")

	root.AddCommand(
		newServeCmd(e),
		newSeedCmd(e),
		newCheckConfigCmd(e),
		newLoadtestCmd(e),
	)
	return root
}
