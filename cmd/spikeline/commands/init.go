package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/neuracq/spikeline/internal/artifact"
	"github.com/neuracq/spikeline/internal/config"
)

// ErrAlreadyInitialized indicates an experiment directory that already has
// a spikeline.yaml.
var ErrAlreadyInitialized = errors.New("experiment directory already initialized")

// NewInitCommand creates the experiment scaffolding command.
func NewInitCommand() *cobra.Command {
	var (
		dir          string
		channels     int
		sampling     float64
		segmentSec   float64
		forceRewrite bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold an experiment directory",
		Long: `Writes spikeline.yaml with the given parameters, creates the acquisition
directory, and validates electrode_coords.txt when present.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runInit(dir, channels, sampling, segmentSec, forceRewrite)
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "experiment directory")
	cmd.Flags().IntVar(&channels, "channels", config.DefaultNChannels, "number of recording channels")
	cmd.Flags().Float64Var(&sampling, "sampling-frequency", config.DefaultSamplingFrequency, "sampling frequency in Hz")
	cmd.Flags().Float64Var(&segmentSec, "segment-duration", config.DefaultSegmentDurationSec, "raw segment duration in seconds")
	cmd.Flags().BoolVar(&forceRewrite, "force", false, "overwrite an existing spikeline.yaml")

	return cmd
}

func runInit(dir string, channels int, sampling, segmentSec float64, force bool) error {
	tree := artifact.NewTree(dir)

	if _, err := os.Stat(tree.ConfigPath()); err == nil && !force {
		return fmt.Errorf("%w: %s", ErrAlreadyInitialized, tree.ConfigPath())
	}

	cfg := config.Config{
		NChannels:             channels,
		SamplingFrequency:     sampling,
		RawSegmentDurationSec: segmentSec,
		FilterParams: config.FilterParams{
			Lowcut:  config.DefaultFilterLowcut,
			Highcut: config.DefaultFilterHighcut,
			Order:   config.DefaultFilterOrder,
		},
		StatsDetectThreshold:  config.DefaultStatsDetectThreshold,
		CoarseDetectThreshold: config.DefaultCoarseDetectThresh,
		HighActivityThreshold: config.DefaultHighActivityThresh,
		PollIntervalSec:       config.DefaultPollIntervalSec,
		Workers:               config.DefaultWorkers,
		LogLevel:              config.DefaultLogLevel,
	}

	err := cfg.Validate()
	if err != nil {
		return err
	}

	payload, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	err = os.MkdirAll(dir, 0o750)
	if err != nil {
		return fmt.Errorf("create experiment dir: %w", err)
	}

	err = os.WriteFile(tree.ConfigPath(), payload, 0o640)
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	err = os.MkdirAll(tree.AcquisitionDir(), 0o750)
	if err != nil {
		return fmt.Errorf("create acquisition dir: %w", err)
	}

	fmt.Printf("%s wrote %s\n", color.GreenString("ok"), tree.ConfigPath())
	fmt.Printf("%s created %s\n", color.GreenString("ok"), tree.AcquisitionDir())

	coordsPath := tree.CoordsPath()

	_, err = os.Stat(coordsPath)
	if os.IsNotExist(err) {
		fmt.Printf("%s %s missing; provide %d lines of \"x y\" before starting\n",
			color.YellowString("!!"), filepath.Base(coordsPath), channels)

		return nil
	}

	_, err = config.LoadElectrodeCoords(coordsPath, channels)
	if err != nil {
		return err
	}

	fmt.Printf("%s validated %s\n", color.GreenString("ok"), filepath.Base(coordsPath))

	return nil
}
