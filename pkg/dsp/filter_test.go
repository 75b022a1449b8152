package dsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(freq, fs float64, n int) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = math.Sin(2 * math.Pi * freq * float64(i) / fs)
	}

	return x
}

// midRMS measures RMS over the middle of the signal, skipping filter edges.
func midRMS(x []float64) float64 {
	lo := len(x) / 4
	hi := 3 * len(x) / 4

	var sum float64
	for _, v := range x[lo:hi] {
		sum += v * v
	}

	return math.Sqrt(sum / float64(hi-lo))
}

func TestNewBandPass_RejectsBadBand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		lowcut  float64
		highcut float64
		fs      float64
		order   int
	}{
		{"zero lowcut", 0, 4000, 20000, 4},
		{"inverted band", 4000, 300, 20000, 4},
		{"highcut above nyquist", 300, 11000, 20000, 4},
		{"zero order", 300, 4000, 20000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewBandPass(tt.lowcut, tt.highcut, tt.fs, tt.order)
			assert.ErrorIs(t, err, ErrBadBand)
		})
	}
}

func TestBandPass_PassbandVersusStopband(t *testing.T) {
	t.Parallel()

	const fs = 20000.0

	f, err := NewBandPass(300, 4000, fs, 4)
	require.NoError(t, err)

	inBand := sine(1000, fs, 8000)
	f.Apply(inBand)

	passRMS := midRMS(inBand)
	assert.Greater(t, passRMS, 0.5)

	low := sine(10, fs, 8000)
	f.Apply(low)
	assert.Less(t, midRMS(low), passRMS/10)

	high := sine(9000, fs, 8000)
	f.Apply(high)
	assert.Less(t, midRMS(high), passRMS/10)
}

func TestBandPass_ZeroPhase(t *testing.T) {
	t.Parallel()

	const fs = 20000.0

	f, err := NewBandPass(300, 4000, fs, 4)
	require.NoError(t, err)

	ref := sine(1000, fs, 8000)
	filtered := sine(1000, fs, 8000)
	f.Apply(filtered)

	// An in-band tone must come out aligned with the input: normalized
	// correlation near +1 over the settled middle portion.
	var dot, normA, normB float64

	for i := 2000; i < 6000; i++ {
		dot += ref[i] * filtered[i]
		normA += ref[i] * ref[i]
		normB += filtered[i] * filtered[i]
	}

	corr := dot / math.Sqrt(normA*normB)
	assert.Greater(t, corr, 0.8)
}

func TestBandPass_OddOrder(t *testing.T) {
	t.Parallel()

	const fs = 20000.0

	f, err := NewBandPass(300, 4000, fs, 3)
	require.NoError(t, err)

	inBand := sine(1000, fs, 8000)
	f.Apply(inBand)

	assert.Greater(t, midRMS(inBand), 0.5)
}
