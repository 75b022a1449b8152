package stage

import (
	"math"

	"github.com/neuracq/spikeline/pkg/dsp"
)

// HighActivity is the per-segment high-activity artifact payload.
type HighActivity struct {
	Intervals []dsp.Interval `json:"high_activity_intervals"`
}

// activityWindowSec is the bin width used to count concurrently active
// channels.
const activityWindowSec = 0.05

// ComputeHighActivity bins the segment into fixed 50 ms windows, counts
// channels with at least one trough event per window, and merges windows
// whose active-channel count exceeds minChannels into disjoint
// [start_sec, end_sec) intervals.
func ComputeHighActivity(samples []int16, channels int, samplingFrequency, threshold float64, minChannels int) []dsp.Interval {
	frames := len(samples) / channels

	winFrames := int(math.Round(activityWindowSec * samplingFrequency))
	if winFrames < 1 {
		winFrames = 1
	}

	numBins := (frames + winFrames - 1) / winFrames
	activeCount := make([]int, numBins)

	for ch := range channels {
		trace := channelTrace(samples, channels, ch)
		troughs := dsp.DetectTroughs(trace, threshold, dsp.DefaultTroughWindow)

		seen := make(map[int]bool)

		for _, t := range troughs {
			bin := t / winFrames
			if !seen[bin] {
				seen[bin] = true
				activeCount[bin]++
			}
		}
	}

	var intervals []dsp.Interval

	for bin, count := range activeCount {
		if count <= minChannels {
			continue
		}

		start := float64(bin*winFrames) / samplingFrequency
		end := float64(min((bin+1)*winFrames, frames)) / samplingFrequency
		intervals = append(intervals, dsp.Interval{StartSec: start, EndSec: end})
	}

	return dsp.MergeIntervals(intervals)
}
