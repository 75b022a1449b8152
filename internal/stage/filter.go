// Package stage implements the per-segment pipeline stages: band-pass
// filtering, spike statistics, high-activity detection, channel shift
// compensation, and reference sorting. Every stage is a deterministic pure
// function of its immutable inputs; the Workers type wraps each one in the
// artifact claim/commit protocol.
package stage

import (
	"github.com/neuracq/spikeline/internal/segbin"
	"github.com/neuracq/spikeline/pkg/dsp"
)

// FilterBlock applies the zero-phase band-pass to every channel of a
// frame-major sample block and returns the filtered block, clamped back to
// int16.
func FilterBlock(samples []int16, channels int, bp *dsp.BandPass) []int16 {
	frames := len(samples) / channels
	out := make([]int16, len(samples))
	trace := make([]float64, frames)

	for ch := range channels {
		for t := range frames {
			trace[t] = float64(samples[t*channels+ch])
		}

		bp.Apply(trace)

		filtered := segbin.FromFloat64(trace)
		for t := range frames {
			out[t*channels+ch] = filtered[t]
		}
	}

	return out
}

// channelTrace extracts one channel of a frame-major block as float64.
func channelTrace(samples []int16, channels, ch int) []float64 {
	frames := len(samples) / channels
	trace := make([]float64, frames)

	for t := range frames {
		trace[t] = float64(samples[t*channels+ch])
	}

	return trace
}
