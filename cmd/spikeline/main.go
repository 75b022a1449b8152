// Package main provides the entry point for the spikeline CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/neuracq/spikeline/cmd/spikeline/commands"
	"github.com/neuracq/spikeline/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "spikeline",
		Short: "Spikeline - staged processing pipeline for multi-channel neural recordings",
		Long: `Spikeline watches an acquisition directory for epoch blocks, rechunks them
into fixed-duration segments, and derives filtered, statistical, and
reference-sorted artifacts per segment.

Commands:
  init      Scaffold an experiment directory
  start     Run the processing pipeline
  serve     Serve the artifact query API
  status    Show per-segment artifact completeness`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewInitCommand())
	rootCmd.AddCommand(commands.NewStartCommand())
	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewStatusCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "spikeline %s (commit: %s, built: %s)\n",
				version.Version, version.Commit, version.Date)
		},
	}
}
