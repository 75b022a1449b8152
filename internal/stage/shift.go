package stage

import (
	"math"

	"github.com/neuracq/spikeline/internal/config"
)

// ChannelShifts converts the fitted shift coefficients and the electrode
// coordinate table into a per-channel frame shift.
func ChannelShifts(coords []config.Coord, cx, cy float64) []int {
	shifts := make([]int, len(coords))
	for i, c := range coords {
		shifts[i] = int(math.Round(cx*c.X + cy*c.Y))
	}

	return shifts
}

// ApplyShifts time-shifts each channel of a frame-major block by its
// per-channel frame count, filling vacated edges with zeros. A positive
// shift moves the channel's samples earlier in time.
func ApplyShifts(samples []int16, channels int, shifts []int) []int16 {
	frames := len(samples) / channels
	out := make([]int16, len(samples))

	for ch, shift := range shifts {
		for t := range frames {
			src := t + shift
			if src < 0 || src >= frames {
				continue
			}

			out[t*channels+ch] = samples[src*channels+ch]
		}
	}

	return out
}
