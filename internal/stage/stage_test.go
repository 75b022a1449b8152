package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuracq/spikeline/internal/config"
	"github.com/neuracq/spikeline/pkg/dsp"
)

// frameMajor builds a frame-major block from per-channel traces.
func frameMajor(t *testing.T, traces ...[]int16) []int16 {
	t.Helper()

	frames := len(traces[0])
	out := make([]int16, frames*len(traces))

	for ch, trace := range traces {
		require.Len(t, trace, frames)

		for i, v := range trace {
			out[i*len(traces)+ch] = v
		}
	}

	return out
}

func TestComputeStats_SingleSpike(t *testing.T) {
	t.Parallel()

	// One second at 1000 Hz, one -50 deflection on channel 0.
	ch0 := make([]int16, 1000)
	ch0[400] = -50
	ch1 := make([]int16, 1000)

	samples := frameMajor(t, ch0, ch1)

	stats := ComputeStats(samples, 2, 1000, -40)

	assert.InDelta(t, 1.0, stats.MeanFiringRates[0], 1e-9)
	assert.InDelta(t, 50.0, stats.MeanSpikeAmplitudes[0], 1e-9)
	assert.Zero(t, stats.MeanFiringRates[1])
	assert.Zero(t, stats.MeanSpikeAmplitudes[1])
}

func TestComputeStats_MultipleSpikes(t *testing.T) {
	t.Parallel()

	ch0 := make([]int16, 2000)
	ch0[100] = -60
	ch0[900] = -80

	stats := ComputeStats(frameMajor(t, ch0), 1, 1000, -40)

	// Two events over two seconds.
	assert.InDelta(t, 1.0, stats.MeanFiringRates[0], 1e-9)
	assert.InDelta(t, 70.0, stats.MeanSpikeAmplitudes[0], 1e-9)
}

func TestComputeHighActivity(t *testing.T) {
	t.Parallel()

	const fs = 1000.0

	// Three of four channels spike inside the first 50 ms bin; only one in
	// a later bin.
	traces := make([][]int16, 4)
	for ch := range traces {
		traces[ch] = make([]int16, 1000)
	}

	traces[0][10] = -50
	traces[1][20] = -50
	traces[2][30] = -50
	traces[0][500] = -50

	samples := frameMajor(t, traces...)

	intervals := ComputeHighActivity(samples, 4, fs, -40, 2)
	require.Len(t, intervals, 1)

	assert.InDelta(t, 0.0, intervals[0].StartSec, 1e-9)
	assert.InDelta(t, 0.05, intervals[0].EndSec, 1e-9)
}

func TestComputeHighActivity_MergesAdjacentBins(t *testing.T) {
	t.Parallel()

	traces := make([][]int16, 2)
	for ch := range traces {
		traces[ch] = make([]int16, 1000)
	}

	// Both channels active in bins 0 and 1.
	for _, frame := range []int{10, 60} {
		traces[0][frame] = -50
		traces[1][frame+5] = -50
	}

	intervals := ComputeHighActivity(frameMajor(t, traces...), 2, 1000, -40, 1)
	require.Len(t, intervals, 1)

	assert.InDelta(t, 0.0, intervals[0].StartSec, 1e-9)
	assert.InDelta(t, 0.1, intervals[0].EndSec, 1e-9)
}

func TestChannelShifts(t *testing.T) {
	t.Parallel()

	coords := []config.Coord{{X: 0, Y: 0}, {X: 2, Y: 0}, {X: 0, Y: 4}}

	shifts := ChannelShifts(coords, 1.5, -0.5)
	assert.Equal(t, []int{0, 3, -2}, shifts)
}

func TestApplyShifts(t *testing.T) {
	t.Parallel()

	ch0 := []int16{1, 2, 3, 4}
	ch1 := []int16{10, 20, 30, 40}
	samples := frameMajor(t, ch0, ch1)

	shifted := ApplyShifts(samples, 2, []int{1, -1})

	// Channel 0 moves one frame earlier, channel 1 one frame later; edges
	// are zero-filled.
	assert.Equal(t, []int16{2, 0, 3, 10, 4, 20, 0, 30}, shifted)
}

func TestFilterBlock_PreservesShape(t *testing.T) {
	t.Parallel()

	bp, err := dsp.NewBandPass(300, 4000, 20000, 4)
	require.NoError(t, err)

	samples := make([]int16, 2000*4)
	out := FilterBlock(samples, 4, bp)

	assert.Len(t, out, len(samples))
	assert.Equal(t, make([]int16, len(samples)), out)
}

func TestDetectSpikeFrames_ExcludesIntervals(t *testing.T) {
	t.Parallel()

	ch0 := make([]int16, 1000)
	ch0[100] = -90
	ch0[600] = -95

	samples := frameMajor(t, ch0, make([]int16, 1000))

	events := DetectSpikeFrames(samples, 2, 1000, -80, nil)
	assert.Equal(t, []int{100, 600}, events.Frames)

	// Zeroing the window around the second spike removes it.
	events = DetectSpikeFrames(samples, 2, 1000, -80, []dsp.Interval{{StartSec: 0.55, EndSec: 0.65}})
	assert.Equal(t, []int{100}, events.Frames)
}

func TestMatchTemplates(t *testing.T) {
	t.Parallel()

	templates := [][]float64{
		{-100, 0, 0},
		{0, 0, -100},
	}
	vectors := [][]float64{
		{-90, 0, -5},
		{0, -10, -80},
	}

	labels, amplitudes := MatchTemplates(vectors, templates)

	assert.Equal(t, []int{0, 1}, labels)
	assert.Equal(t, []float64{90, 80}, amplitudes)
}

func TestExtractTemplates_Median(t *testing.T) {
	t.Parallel()

	vectors := [][]float64{
		{-10, 0},
		{-20, 0},
		{-30, 0},
		{0, -50},
	}
	labels := []int{0, 0, 0, 1}

	templates := ExtractTemplates(vectors, labels, 2, 2)

	assert.Equal(t, []float64{-20, 0}, templates[0])
	assert.Equal(t, []float64{0, -50}, templates[1])
}
