package stage

import (
	"math"
	"sort"

	"github.com/neuracq/spikeline/pkg/dsp"
)

// SpikeEvents is the raw material of reference sorting: per detected spike,
// the trough frame index and the full cross-channel sample vector at that
// frame.
type SpikeEvents struct {
	Frames  []int
	Vectors [][]float64
}

// DetectSpikeFrames runs trough detection on the channel-min trace of a
// frame-major block at the given (negative) threshold. Frames inside the
// exclude intervals are zeroed before detection so bursts of array-wide
// activity do not flood the sorter.
func DetectSpikeFrames(samples []int16, channels int, samplingFrequency, threshold float64, exclude []dsp.Interval) SpikeEvents {
	frames := len(samples) / channels
	data := make([]float64, len(samples))

	for i, v := range samples {
		data[i] = float64(v)
	}

	for _, iv := range exclude {
		start := max(0, int(math.Round(iv.StartSec*samplingFrequency)))
		end := min(frames, int(math.Round(iv.EndSec*samplingFrequency)))

		for t := start; t < end; t++ {
			for ch := range channels {
				data[t*channels+ch] = 0
			}
		}
	}

	minTrace := dsp.ChannelMin(data, channels)
	troughs := dsp.DetectTroughs(minTrace, threshold, dsp.DefaultTroughWindow)

	events := SpikeEvents{Frames: troughs}

	for _, t := range troughs {
		vec := make([]float64, channels)
		copy(vec, data[t*channels:(t+1)*channels])
		events.Vectors = append(events.Vectors, vec)
	}

	return events
}

// MatchTemplates assigns each spike vector to the nearest template by
// Euclidean distance and reports the spike amplitude as the magnitude of
// the deepest sample. Labels index into templates.
func MatchTemplates(vectors [][]float64, templates [][]float64) (labels []int, amplitudes []float64) {
	labels = make([]int, len(vectors))
	amplitudes = make([]float64, len(vectors))

	for i, vec := range vectors {
		best := 0
		bestDist := math.Inf(1)

		for u, tmpl := range templates {
			d := squaredDistance(vec, tmpl)
			if d < bestDist {
				bestDist = d
				best = u
			}
		}

		labels[i] = best
		amplitudes[i] = -minOf(vec)
	}

	return labels, amplitudes
}

// ExtractTemplates builds per-unit median waveform templates from labeled
// spike vectors. numUnits is the label count; units with no spikes get a
// zero template.
func ExtractTemplates(vectors [][]float64, labels []int, numUnits, channels int) [][]float64 {
	perUnit := make([][][]float64, numUnits)
	for i, vec := range vectors {
		perUnit[labels[i]] = append(perUnit[labels[i]], vec)
	}

	templates := make([][]float64, numUnits)

	for u := range templates {
		templates[u] = make([]float64, channels)

		if len(perUnit[u]) == 0 {
			continue
		}

		column := make([]float64, len(perUnit[u]))

		for ch := range channels {
			for i, vec := range perUnit[u] {
				column[i] = vec[ch]
			}

			templates[u][ch] = median(column)
		}
	}

	return templates
}

func squaredDistance(a, b []float64) float64 {
	var sum float64

	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}

	return sum
}

func minOf(x []float64) float64 {
	m := x[0]
	for _, v := range x[1:] {
		if v < m {
			m = v
		}
	}

	return m
}

func median(x []float64) float64 {
	sorted := make([]float64, len(x))
	copy(sorted, x)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}

	return (sorted[n/2-1] + sorted[n/2]) / 2
}
