package stage

import (
	"math"

	"github.com/neuracq/spikeline/pkg/dsp"
)

// SpikeStats is the per-channel spike statistics artifact payload.
type SpikeStats struct {
	MeanFiringRates     []float64 `json:"mean_firing_rates"`
	MeanSpikeAmplitudes []float64 `json:"mean_spike_amplitudes"`
}

// ComputeStats detects troughs per channel against threshold (negative) and
// returns mean firing rate (events per second) and mean spike amplitude
// (magnitude at each trough) per channel. Channels with no events report
// zeros.
func ComputeStats(samples []int16, channels int, samplingFrequency, threshold float64) SpikeStats {
	frames := len(samples) / channels
	durationSec := float64(frames) / samplingFrequency

	stats := SpikeStats{
		MeanFiringRates:     make([]float64, channels),
		MeanSpikeAmplitudes: make([]float64, channels),
	}

	for ch := range channels {
		trace := channelTrace(samples, channels, ch)
		troughs := dsp.DetectTroughs(trace, threshold, dsp.DefaultTroughWindow)

		if len(troughs) == 0 {
			continue
		}

		var ampSum float64
		for _, t := range troughs {
			ampSum += math.Abs(trace[t])
		}

		stats.MeanFiringRates[ch] = float64(len(troughs)) / durationSec
		stats.MeanSpikeAmplitudes[ch] = ampSum / float64(len(troughs))
	}

	return stats
}
