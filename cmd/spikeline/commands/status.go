package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/neuracq/spikeline/internal/artifact"
	"github.com/neuracq/spikeline/internal/config"
	"github.com/neuracq/spikeline/internal/queryapi"
	"github.com/neuracq/spikeline/internal/segbin"
)

// NewStatusCommand creates the completeness report command.
func NewStatusCommand() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show per-segment artifact completeness",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runStatus(dir)
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "experiment directory")

	return cmd
}

func runStatus(dir string) error {
	cfg, err := config.LoadConfig(dir)
	if err != nil {
		return err
	}

	tree := artifact.NewTree(dir)

	report, err := queryapi.BuildReport(tree, cfg)
	if err != nil {
		return err
	}

	if len(report) == 0 {
		fmt.Println("no raw segments yet")

		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"epoch block", "segment", "size", "filt", "stats", "high act", "shifted", "ref sort"})

	for _, block := range report {
		for _, seg := range block.Segments {
			size := uint64(seg.Frames) * uint64(cfg.NChannels) * segbin.BytesPerSample //nolint:gosec // non-negative.

			t.AppendRow(table.Row{
				block.EpochBlock,
				seg.Segment,
				humanize.Bytes(size),
				mark(seg.Artifacts["filt"]),
				mark(seg.Artifacts["stats"]),
				mark(seg.Artifacts["high_activity"]),
				mark(seg.Artifacts["shifted"]),
				mark(seg.Artifacts["reference_sorting"]),
			})
		}

		t.AppendSeparator()
	}

	t.Render()

	printReferenceState(tree)

	return nil
}

func mark(present bool) string {
	if present {
		return color.GreenString("yes")
	}

	return color.RedString("no")
}

func printReferenceState(tree *artifact.Tree) {
	data, err := os.ReadFile(tree.ReferencePointerPath())
	if err != nil {
		fmt.Println("reference: not set")

		return
	}

	pointer := strings.TrimSpace(string(data))

	if tree.Present(tree.ShiftCoeffsPath()) {
		fmt.Printf("reference: %s (calibrated)\n", pointer)

		return
	}

	fmt.Printf("reference: %s (calibration pending)\n", pointer)
}
