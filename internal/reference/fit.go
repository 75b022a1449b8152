package reference

import (
	"math"

	"github.com/neuracq/spikeline/internal/config"
)

// maxLagFrames bounds the cross-correlation search when estimating
// per-channel delays.
const maxLagFrames = 30

// ShiftCoeffs is the fitted linear relationship between electrode position
// and signal delay, persisted as computed/shift_coeffs.yaml.
type ShiftCoeffs struct {
	CX float64 `yaml:"c_x"`
	CY float64 `yaml:"c_y"`
}

// FitShiftCoeffs estimates each channel's delay against the array-mean
// signal by cross-correlation, then least-squares fits
// delay_i = c_x*x_i + c_y*y_i over the electrode coordinates.
func FitShiftCoeffs(samples []float64, channels int, coords []config.Coord) ShiftCoeffs {
	frames := len(samples) / channels

	mean := make([]float64, frames)

	for t := range frames {
		var sum float64
		for ch := range channels {
			sum += samples[t*channels+ch]
		}

		mean[t] = sum / float64(channels)
	}

	lags := make([]float64, channels)

	for ch := range channels {
		trace := make([]float64, frames)
		for t := range frames {
			trace[t] = samples[t*channels+ch]
		}

		lags[ch] = float64(bestLag(trace, mean))
	}

	return solveCoeffs(lags, coords)
}

// bestLag finds the lag maximizing the correlation of trace advanced by lag
// against ref; ties resolve toward the smaller magnitude.
func bestLag(trace, ref []float64) int {
	best := 0
	bestCorr := math.Inf(-1)

	for lag := -maxLagFrames; lag <= maxLagFrames; lag++ {
		var corr float64

		for t := range ref {
			src := t + lag
			if src < 0 || src >= len(trace) {
				continue
			}

			corr += trace[src] * ref[t]
		}

		if corr > bestCorr || (corr == bestCorr && abs(lag) < abs(best)) {
			bestCorr = corr
			best = lag
		}
	}

	return best
}

// solveCoeffs solves the 2x2 normal equations of the through-origin least
// squares fit. A degenerate coordinate set yields zero coefficients.
func solveCoeffs(lags []float64, coords []config.Coord) ShiftCoeffs {
	var sxx, sxy, syy, sxl, syl float64

	for i, c := range coords {
		sxx += c.X * c.X
		sxy += c.X * c.Y
		syy += c.Y * c.Y
		sxl += c.X * lags[i]
		syl += c.Y * lags[i]
	}

	det := sxx*syy - sxy*sxy
	if math.Abs(det) < 1e-12 {
		return ShiftCoeffs{}
	}

	return ShiftCoeffs{
		CX: (syy*sxl - sxy*syl) / det,
		CY: (sxx*syl - sxy*sxl) / det,
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}

	return x
}
