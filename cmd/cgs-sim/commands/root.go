// Package commands implements the cgs-sim command line.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/cgs-simulator/internal/config"
	"github.com/signalsfoundry/cgs-simulator/internal/logging"
)

// app carries process configuration from the root command to subcommands.
type app struct {
	cfg *config.Config
	log logging.Logger
}

// NewRootCommand builds the cgs-sim command tree.
func NewRootCommand() *cobra.Command {
	a := &app{log: logging.Noop()}
	var (
		envFile  string
		logLevel string
	)

	root := &cobra.Command{
		Use:   "cgs-sim",
		Short: "Contact graph scheduling simulator",
		Long: `Contact graph scheduling simulator

Schedules imagery requests onto satellites and routes the acquired
bundles to ground stations over a time-varying contact plan.

Settings come from the environment (LOG_LEVEL, LOG_FORMAT, CGS_*),
optionally seeded from a .env file.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			cfg.Log.Output = cmd.ErrOrStderr()
			a.cfg = cfg
			a.log = logging.New(cfg.Log)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&envFile, "env-file", "", "Environment file to load (default .env)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")

	root.AddCommand(newRunCommand(a))
	root.AddCommand(newRouteCommand(a))
	root.AddCommand(newValidateCommand(a))
	root.AddCommand(newSweepCommand(a))
	return root
}
