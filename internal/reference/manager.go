// Package reference tracks the designated reference segment pointer and the
// one-time calibration derived from it: shift coefficients and the
// reference spike template set. Re-pointing the reference invalidates every
// reference-dependent artifact and recalibrates against the new segment.
package reference

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/neuracq/spikeline/internal/artifact"
	"github.com/neuracq/spikeline/internal/config"
	"github.com/neuracq/spikeline/internal/segbin"
	"github.com/neuracq/spikeline/internal/stage"
	"github.com/neuracq/spikeline/pkg/dsp"
	"github.com/neuracq/spikeline/pkg/npyio"
)

// State of the calibration state machine.
type State int

// Calibration states.
const (
	NoReference State = iota
	CalibrationPending
	CalibrationReady
)

func (s State) String() string {
	switch s {
	case CalibrationPending:
		return "calibration_pending"
	case CalibrationReady:
		return "calibration_ready"
	default:
		return "no_reference"
	}
}

// ErrBadPointer indicates a reference_segment.txt that is not a single
// "<epoch_block>/<segment>" line.
var ErrBadPointer = errors.New("reference: malformed reference_segment.txt")

// Pointer identifies the reference segment.
type Pointer struct {
	EpochBlock string
	Segment    string
}

func (p Pointer) String() string {
	return p.EpochBlock + "/" + p.Segment
}

// Manager drives calibration.
type Manager struct {
	tree      *artifact.Tree
	cfg       *config.Config
	coords    []config.Coord
	clusterer Clusterer
	logger    *slog.Logger
	bp        *dsp.BandPass
}

// NewManager returns a Manager using the given clusterer for template
// extraction.
func NewManager(cfg *config.Config, tree *artifact.Tree, coords []config.Coord, clusterer Clusterer, logger *slog.Logger) (*Manager, error) {
	bp, err := dsp.NewBandPass(cfg.FilterParams.Lowcut, cfg.FilterParams.Highcut,
		cfg.SamplingFrequency, cfg.FilterParams.Order)
	if err != nil {
		return nil, err
	}

	return &Manager{tree: tree, cfg: cfg, coords: coords, clusterer: clusterer, logger: logger, bp: bp}, nil
}

// ReadPointer parses reference_segment.txt. ok is false when the file is
// absent or empty.
func (m *Manager) ReadPointer() (Pointer, bool, error) {
	data, err := os.ReadFile(m.tree.ReferencePointerPath())
	if err != nil {
		if os.IsNotExist(err) {
			return Pointer{}, false, nil
		}

		return Pointer{}, false, fmt.Errorf("reference: read pointer: %w", err)
	}

	line := strings.TrimSpace(string(data))
	if line == "" {
		return Pointer{}, false, nil
	}

	parts := strings.SplitN(line, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || strings.Contains(parts[1], "/") {
		return Pointer{}, false, fmt.Errorf("%w: %q", ErrBadPointer, line)
	}

	return Pointer{EpochBlock: parts[0], Segment: parts[1]}, true, nil
}

// Sync reconciles the pointer with the current calibration, invalidating
// stale reference-dependent artifacts when the pointer moved, and attempts
// calibration when the reference raw segment is available. It is safe to
// call every cycle.
func (m *Manager) Sync() (State, error) {
	ptr, ok, err := m.ReadPointer()
	if err != nil {
		return NoReference, err
	}

	if !ok {
		return NoReference, nil
	}

	calibrated, err := m.calibratedPointer()
	if err != nil {
		return CalibrationPending, err
	}

	if calibrated == ptr.String() {
		return CalibrationReady, nil
	}

	if calibrated != "" {
		err = m.invalidateCalibration(calibrated)
		if err != nil {
			return CalibrationPending, err
		}
	}

	return m.calibrate(ptr)
}

// Calibration loads the persisted shift coefficients and reference
// templates for the stage workers.
func (m *Manager) Calibration() (*stage.Calibration, error) {
	coeffs, err := m.LoadShiftCoeffs()
	if err != nil {
		return nil, err
	}

	ptr, ok, err := m.ReadPointer()
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, errors.New("reference: pointer unset")
	}

	tmplPath := filepath.Join(m.tree.Path(artifact.KindRefSort, ptr.EpochBlock, ptr.Segment),
		artifact.TemplatesFile)

	arr, err := npyio.ReadFile(tmplPath)
	if err != nil {
		return nil, fmt.Errorf("reference: read templates: %w", err)
	}

	units := arr.Rows()
	channels := 0

	if len(arr.Shape) == 2 {
		channels = arr.Shape[1]
	}

	templates := make([][]float64, units)

	for u := range templates {
		templates[u] = make([]float64, channels)
		for ch := range channels {
			templates[u][ch] = float64(arr.Float32[u*channels+ch])
		}
	}

	return &stage.Calibration{CX: coeffs.CX, CY: coeffs.CY, Templates: templates}, nil
}

// LoadShiftCoeffs reads computed/shift_coeffs.yaml.
func (m *Manager) LoadShiftCoeffs() (ShiftCoeffs, error) {
	data, err := os.ReadFile(m.tree.ShiftCoeffsPath())
	if err != nil {
		return ShiftCoeffs{}, fmt.Errorf("reference: read shift coeffs: %w", err)
	}

	var coeffs ShiftCoeffs

	err = yaml.Unmarshal(data, &coeffs)
	if err != nil {
		return ShiftCoeffs{}, fmt.Errorf("reference: decode shift coeffs: %w", err)
	}

	return coeffs, nil
}

func (m *Manager) calibratedPointer() (string, error) {
	data, err := os.ReadFile(m.tree.CalibratedPointerPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}

		return "", fmt.Errorf("reference: read calibrated marker: %w", err)
	}

	return strings.TrimSpace(string(data)), nil
}

// invalidateCalibration removes every artifact derived from the previous
// reference: the coefficients, the marker, and all shifted and
// reference-sorting outputs.
func (m *Manager) invalidateCalibration(previous string) error {
	m.logger.Info("reference re-pointed, invalidating calibration artifacts", "previous", previous)

	paths := []string{
		m.tree.CalibratedPointerPath(),
		m.tree.ShiftCoeffsPath(),
	}

	for _, kind := range []artifact.Kind{artifact.KindShifted, artifact.KindRefSort} {
		blocks, err := artifact.EpochBlocks(m.tree.RawDir())
		if err != nil {
			return err
		}

		for _, block := range blocks {
			segments, err := m.tree.RawSegments(block)
			if err != nil {
				return err
			}

			for _, segment := range segments {
				paths = append(paths, m.tree.Path(kind, block, segment))
			}
		}
	}

	return m.tree.Invalidate(paths...)
}

// calibrate runs the one-time fit and template extraction against the
// pointer's raw segment. Returns CalibrationPending while the segment has
// not been rechunked yet.
func (m *Manager) calibrate(ptr Pointer) (State, error) {
	rawPath := m.tree.RawSegmentPath(ptr.EpochBlock, ptr.Segment)
	if !m.tree.Present(rawPath) {
		return CalibrationPending, nil
	}

	raw, _, err := segbin.ReadAll(rawPath, m.cfg.NChannels)
	if err != nil {
		return CalibrationPending, err
	}

	filtered := stage.FilterBlock(raw, m.cfg.NChannels, m.bp)
	coeffs := FitShiftCoeffs(segbin.ToFloat64(filtered), m.cfg.NChannels, m.coords)

	shifts := stage.ChannelShifts(m.coords, coeffs.CX, coeffs.CY)
	shifted := stage.ApplyShifts(filtered, m.cfg.NChannels, shifts)

	events := stage.DetectSpikeFrames(shifted, m.cfg.NChannels, m.cfg.SamplingFrequency,
		m.cfg.CoarseDetectThreshold, nil)
	labels, numUnits := m.clusterer.Cluster(events.Vectors)
	if numUnits == 0 {
		// A template-free calibration would leave later matching with no
		// unit to assign. Stay pending until the pointer names a segment
		// with detectable spikes.
		m.logger.Warn("no spikes in reference segment, calibration deferred",
			"reference", ptr.String(),
			"threshold", m.cfg.CoarseDetectThreshold)

		return CalibrationPending, nil
	}

	templates := stage.ExtractTemplates(events.Vectors, labels, numUnits, m.cfg.NChannels)

	amplitudes := make([]float64, len(events.Vectors))
	for i, vec := range events.Vectors {
		amplitudes[i] = -minOf(vec)
	}

	err = m.writeShiftCoeffs(coeffs)
	if err != nil {
		return CalibrationPending, err
	}

	err = m.writeReferenceSorting(ptr, events.Frames, labels, amplitudes, templates)
	if err != nil {
		return CalibrationPending, err
	}

	err = m.writeMarker(ptr)
	if err != nil {
		return CalibrationPending, err
	}

	m.logger.Info("calibration complete",
		"reference", ptr.String(),
		"c_x", coeffs.CX,
		"c_y", coeffs.CY,
		"units", numUnits,
		"spikes", len(events.Frames))

	return CalibrationReady, nil
}

func (m *Manager) writeShiftCoeffs(coeffs ShiftCoeffs) error {
	payload, err := yaml.Marshal(coeffs)
	if err != nil {
		return fmt.Errorf("reference: encode shift coeffs: %w", err)
	}

	return m.commitFile(m.tree.ShiftCoeffsPath(), payload)
}

func (m *Manager) writeReferenceSorting(ptr Pointer, frames, labels []int, amplitudes []float64, templates [][]float64) error {
	final := m.tree.Path(artifact.KindRefSort, ptr.EpochBlock, ptr.Segment)
	if m.tree.Present(final) {
		return nil
	}

	claim, err := m.tree.ClaimDir(final)
	if err != nil {
		if errors.Is(err, artifact.ErrClaimConflict) {
			return nil
		}

		return err
	}

	err = stage.WriteSortingDir(claim.StagingPath(), frames, labels, amplitudes, templates, m.cfg.SamplingFrequency)
	if err != nil {
		_ = claim.Abort()

		return err
	}

	return claim.Commit()
}

func (m *Manager) writeMarker(ptr Pointer) error {
	return m.commitFile(m.tree.CalibratedPointerPath(), []byte(ptr.String()+"\n"))
}

func (m *Manager) commitFile(final string, payload []byte) error {
	if m.tree.Present(final) {
		return nil
	}

	claim, err := m.tree.Claim(final)
	if err != nil {
		if errors.Is(err, artifact.ErrClaimConflict) {
			return nil
		}

		return err
	}

	err = os.WriteFile(claim.StagingPath(), payload, 0o640)
	if err != nil {
		_ = claim.Abort()

		return fmt.Errorf("reference: write %s: %w", final, err)
	}

	return claim.Commit()
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
