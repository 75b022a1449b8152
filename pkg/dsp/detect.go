package dsp

import "sort"

// DefaultTroughWindow is the dedup window (in frames) around a detected
// trough: within ±window only the deepest sample counts as one event.
const DefaultTroughWindow = 10

// DetectTroughs returns the indices of negative deflections in x that reach
// threshold (threshold < 0; a sample qualifies when x[i] <= threshold) and
// are the minimum within ±window frames. At most one event is reported per
// window.
func DetectTroughs(x []float64, threshold float64, window int) []int {
	if window < 1 {
		window = DefaultTroughWindow
	}

	var troughs []int

	for i := 0; i < len(x); i++ {
		if x[i] > threshold {
			continue
		}

		if !isWindowMinimum(x, i, window) {
			continue
		}

		troughs = append(troughs, i)

		// Skip the rest of this event's window.
		i += window
	}

	return troughs
}

// isWindowMinimum reports whether x[i] is the first minimum within ±window
// of i.
func isWindowMinimum(x []float64, i, window int) bool {
	lo := max(0, i-window)
	hi := min(len(x), i+window+1)

	for j := lo; j < hi; j++ {
		if x[j] < x[i] {
			return false
		}

		if x[j] == x[i] && j < i {
			return false
		}
	}

	return true
}

// Interval is a half-open [Start, End) time range in seconds.
type Interval struct {
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
}

// MergeIntervals sorts the intervals and merges overlapping or touching
// ranges into a disjoint, ascending list.
func MergeIntervals(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return nil
	}

	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartSec < sorted[j].StartSec })

	merged := []Interval{sorted[0]}

	for _, iv := range sorted[1:] {
		last := &merged[len(merged)-1]
		if iv.StartSec <= last.EndSec {
			if iv.EndSec > last.EndSec {
				last.EndSec = iv.EndSec
			}

			continue
		}

		merged = append(merged, iv)
	}

	return merged
}

// ChannelMin writes the per-frame minimum across channels of a frame-major
// block into a new slice. data has frames*channels samples.
func ChannelMin(data []float64, channels int) []float64 {
	frames := len(data) / channels
	minTrace := make([]float64, frames)

	for t := range frames {
		row := data[t*channels : (t+1)*channels]
		m := row[0]

		for _, v := range row[1:] {
			if v < m {
				m = v
			}
		}

		minTrace[t] = m
	}

	return minTrace
}
