// Package config defines the experiment configuration, its defaults, and the
// loader that reads spikeline.yaml with environment overrides.
package config

import (
	"errors"
	"fmt"
	"math"
)

// Defaults applied when spikeline.yaml omits a key.
const (
	DefaultNChannels            = 512
	DefaultSamplingFrequency    = 20000.0
	DefaultSegmentDurationSec   = 10.0
	DefaultFilterLowcut         = 300.0
	DefaultFilterHighcut        = 4000.0
	DefaultFilterOrder          = 4
	DefaultStatsDetectThreshold = -40.0
	DefaultCoarseDetectThresh   = -80.0
	DefaultHighActivityThresh   = 3
	DefaultPollIntervalSec      = 5.0
	DefaultWorkers              = 4
	DefaultLogLevel             = "info"
)

var (
	// ErrNonPositive indicates a value that must be strictly positive.
	ErrNonPositive = errors.New("config: value must be positive")
	// ErrThresholdSign indicates a detect threshold that is not negative.
	ErrThresholdSign = errors.New("config: detect threshold must be negative")
	// ErrNegativeThreshold indicates a negative high-activity channel count.
	ErrNegativeThreshold = errors.New("config: high_activity_threshold must be non-negative")
	// ErrFilterBand indicates an unusable band-pass configuration.
	ErrFilterBand = errors.New("config: invalid filter band")
	// ErrCoordCount indicates a coordinate table whose row count does not
	// match n_channels.
	ErrCoordCount = errors.New("config: electrode coordinate count mismatch")
	// ErrMalformedCoordLine indicates a coordinate line that is not "x y".
	ErrMalformedCoordLine = errors.New("config: malformed electrode coordinate line")
)

// FilterParams configures the band-pass stage.
type FilterParams struct {
	Lowcut  float64 `json:"lowcut"  mapstructure:"lowcut"  yaml:"lowcut"`
	Highcut float64 `json:"highcut" mapstructure:"highcut" yaml:"highcut"`
	Order   int     `json:"order"   mapstructure:"order"   yaml:"order"`
}

// Config is the experiment configuration stored in spikeline.yaml at the
// experiment directory root.
type Config struct {
	NChannels             int          `json:"n_channels"                       mapstructure:"n_channels"                       yaml:"n_channels"`
	SamplingFrequency     float64      `json:"sampling_frequency"               mapstructure:"sampling_frequency"               yaml:"sampling_frequency"`
	RawSegmentDurationSec float64      `json:"raw_segment_duration_sec"         mapstructure:"raw_segment_duration_sec"         yaml:"raw_segment_duration_sec"`
	FilterParams          FilterParams `json:"filter_params"                    mapstructure:"filter_params"                    yaml:"filter_params"`
	StatsDetectThreshold  float64      `json:"detect_threshold_for_spike_stats" mapstructure:"detect_threshold_for_spike_stats" yaml:"detect_threshold_for_spike_stats"`
	CoarseDetectThreshold float64      `json:"coarse_sorting_detect_threshold"  mapstructure:"coarse_sorting_detect_threshold"  yaml:"coarse_sorting_detect_threshold"`
	HighActivityThreshold int          `json:"high_activity_threshold"          mapstructure:"high_activity_threshold"          yaml:"high_activity_threshold"`
	PollIntervalSec       float64      `json:"poll_interval_sec"                mapstructure:"poll_interval_sec"                yaml:"poll_interval_sec"`
	Workers               int          `json:"workers"                          mapstructure:"workers"                          yaml:"workers"`
	LogLevel              string       `json:"log_level"                        mapstructure:"log_level"                        yaml:"log_level"`
	LogJSON               bool         `json:"log_json"                         mapstructure:"log_json"                         yaml:"log_json"`
}

// FramesPerSegment returns the fixed window size of the rechunker in frames.
func (c *Config) FramesPerSegment() int {
	return int(math.Round(c.RawSegmentDurationSec * c.SamplingFrequency))
}

// SegmentDuration returns the duration of frames at the configured rate.
func (c *Config) SegmentDuration(frames int) float64 {
	return float64(frames) / c.SamplingFrequency
}

// Validate checks the configuration invariants.
func (c *Config) Validate() error {
	if c.NChannels <= 0 {
		return fmt.Errorf("%w: n_channels=%d", ErrNonPositive, c.NChannels)
	}

	if c.SamplingFrequency <= 0 {
		return fmt.Errorf("%w: sampling_frequency=%g", ErrNonPositive, c.SamplingFrequency)
	}

	if c.RawSegmentDurationSec <= 0 {
		return fmt.Errorf("%w: raw_segment_duration_sec=%g", ErrNonPositive, c.RawSegmentDurationSec)
	}

	if c.PollIntervalSec <= 0 {
		return fmt.Errorf("%w: poll_interval_sec=%g", ErrNonPositive, c.PollIntervalSec)
	}

	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers=%d", ErrNonPositive, c.Workers)
	}

	if c.StatsDetectThreshold >= 0 {
		return fmt.Errorf("%w: detect_threshold_for_spike_stats=%g", ErrThresholdSign, c.StatsDetectThreshold)
	}

	if c.CoarseDetectThreshold >= 0 {
		return fmt.Errorf("%w: coarse_sorting_detect_threshold=%g", ErrThresholdSign, c.CoarseDetectThreshold)
	}

	if c.HighActivityThreshold < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeThreshold, c.HighActivityThreshold)
	}

	fp := c.FilterParams
	if fp.Order < 1 || fp.Lowcut <= 0 || fp.Highcut <= fp.Lowcut || fp.Highcut >= c.SamplingFrequency/2 {
		return fmt.Errorf("%w: lowcut=%g highcut=%g order=%d fs=%g",
			ErrFilterBand, fp.Lowcut, fp.Highcut, fp.Order, c.SamplingFrequency)
	}

	return nil
}
