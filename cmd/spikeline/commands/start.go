// Package commands implements CLI command handlers for spikeline.
package commands

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/neuracq/spikeline/internal/artifact"
	"github.com/neuracq/spikeline/internal/config"
	"github.com/neuracq/spikeline/internal/observability"
	"github.com/neuracq/spikeline/internal/scheduler"
)

// NewStartCommand creates the pipeline run command.
func NewStartCommand() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the processing pipeline until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(dir)
			if err != nil {
				return err
			}

			tree := artifact.NewTree(dir)

			coords, err := config.LoadElectrodeCoords(tree.CoordsPath(), cfg.NChannels)
			if err != nil {
				return err
			}

			logger := observability.BuildLogger(cfg.LogLevel, cfg.LogJSON)
			metrics := observability.NewMetrics()

			sched, err := scheduler.New(cfg, tree, coords, logger, metrics)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return sched.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "experiment directory")

	return cmd
}
