// Package dsp provides the small signal-processing primitives the pipeline
// stages share: Butterworth band-pass filtering, trough detection, and
// interval bookkeeping. Everything operates on float64 slices and is
// deterministic for a given input.
package dsp

import (
	"errors"
	"fmt"
	"math"
)

// ErrBadBand indicates an invalid (lowcut, highcut, fs) combination.
var ErrBadBand = errors.New("dsp: invalid filter band")

// biquad is one direct-form-I second-order section, normalized so a0 == 1.
// First-order sections set b2 and a2 to zero.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

func (s biquad) apply(x []float64) {
	var x1, x2, y1, y2 float64

	for i, v := range x {
		y := s.b0*v + s.b1*x1 + s.b2*x2 - s.a1*y1 - s.a2*y2
		x2, x1 = x1, v
		y2, y1 = y1, y
		x[i] = y
	}
}

// BandPass is a zero-phase Butterworth band-pass filter, realized as a
// cascade of high-pass sections at lowcut and low-pass sections at highcut.
type BandPass struct {
	sections []biquad
}

// NewBandPass designs a Butterworth band-pass of the given order.
// Order is the order of each edge (as in the usual lowcut/highcut/order
// configuration triple); both even and odd orders are supported.
func NewBandPass(lowcut, highcut, fs float64, order int) (*BandPass, error) {
	nyquist := fs / 2
	if lowcut <= 0 || highcut <= lowcut || highcut >= nyquist {
		return nil, fmt.Errorf("%w: lowcut=%g highcut=%g fs=%g", ErrBadBand, lowcut, highcut, fs)
	}

	if order < 1 {
		return nil, fmt.Errorf("%w: order=%d", ErrBadBand, order)
	}

	sections := butterworthSections(lowcut, fs, order, true)
	sections = append(sections, butterworthSections(highcut, fs, order, false)...)

	return &BandPass{sections: sections}, nil
}

// Apply filters x in place, forward then backward, so the net response has
// zero phase. The squared magnitude response doubles the effective order.
func (f *BandPass) Apply(x []float64) {
	for _, s := range f.sections {
		s.apply(x)
	}

	reverse(x)

	for _, s := range f.sections {
		s.apply(x)
	}

	reverse(x)
}

// butterworthSections builds the biquad cascade for one Butterworth edge.
// highpass selects the high-pass realization; otherwise low-pass.
func butterworthSections(fc, fs float64, order int, highpass bool) []biquad {
	sections := make([]biquad, 0, (order+1)/2)

	pairs := order / 2
	for k := range pairs {
		// Pole-pair quality factors of the Butterworth prototype.
		phi := float64(2*k+1) * math.Pi / float64(2*order)
		q := 1 / (2 * math.Cos(phi))
		sections = append(sections, rbjSection(fc, fs, q, highpass))
	}

	if order%2 == 1 {
		sections = append(sections, firstOrderSection(fc, fs, highpass))
	}

	return sections
}

// rbjSection computes a second-order low/high-pass section (audio-EQ-cookbook
// form) at cutoff fc with quality q.
func rbjSection(fc, fs, q float64, highpass bool) biquad {
	w0 := 2 * math.Pi * fc / fs
	cosW := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * q)
	a0 := 1 + alpha

	var s biquad

	if highpass {
		s.b0 = (1 + cosW) / 2
		s.b1 = -(1 + cosW)
	} else {
		s.b0 = (1 - cosW) / 2
		s.b1 = 1 - cosW
	}

	s.b2 = s.b0
	s.b0 /= a0
	s.b1 /= a0
	s.b2 /= a0
	s.a1 = -2 * cosW / a0
	s.a2 = (1 - alpha) / a0

	return s
}

// firstOrderSection computes a single-pole low/high-pass via the bilinear
// transform, expressed as a degenerate biquad.
func firstOrderSection(fc, fs float64, highpass bool) biquad {
	k := math.Tan(math.Pi * fc / fs)

	var s biquad

	if highpass {
		s.b0 = 1 / (k + 1)
		s.b1 = -s.b0
	} else {
		s.b0 = k / (k + 1)
		s.b1 = s.b0
	}

	s.a1 = (k - 1) / (k + 1)

	return s
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
