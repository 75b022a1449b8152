package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// FileName is the config file name inside the experiment directory.
const FileName = "spikeline.yaml"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for spikeline settings.
const envPrefix = "SPIKELINE"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// LoadConfig loads the experiment configuration from
// <experimentDir>/spikeline.yaml, env vars, and defaults. A missing config
// file is not an error; defaults are used.
func LoadConfig(experimentDir string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetConfigFile(filepath.Join(experimentDir, FileName))
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError

		// With an explicit config file path a missing file surfaces as a
		// plain not-exist error rather than ConfigFileNotFoundError.
		if !errors.As(readErr, &notFound) && !errors.Is(readErr, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("n_channels", DefaultNChannels)
	viperCfg.SetDefault("sampling_frequency", DefaultSamplingFrequency)
	viperCfg.SetDefault("raw_segment_duration_sec", DefaultSegmentDurationSec)

	viperCfg.SetDefault("filter_params.lowcut", DefaultFilterLowcut)
	viperCfg.SetDefault("filter_params.highcut", DefaultFilterHighcut)
	viperCfg.SetDefault("filter_params.order", DefaultFilterOrder)

	viperCfg.SetDefault("detect_threshold_for_spike_stats", DefaultStatsDetectThreshold)
	viperCfg.SetDefault("coarse_sorting_detect_threshold", DefaultCoarseDetectThresh)
	viperCfg.SetDefault("high_activity_threshold", DefaultHighActivityThresh)

	viperCfg.SetDefault("poll_interval_sec", DefaultPollIntervalSec)
	viperCfg.SetDefault("workers", DefaultWorkers)
	viperCfg.SetDefault("log_level", DefaultLogLevel)
	viperCfg.SetDefault("log_json", false)
}
