// Package artifact manages the on-disk artifact tree of an experiment
// directory: the canonical path layout, artifact status, and the atomic
// claim/commit protocol every producer goes through. A final path either
// holds a complete artifact or does not exist; partial output only ever
// lives at dot-prefixed staging siblings.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Kind identifies one artifact family in the computed tree.
type Kind string

// Artifact kinds, in pipeline order.
const (
	KindRaw          Kind = "raw"
	KindFilt         Kind = "filt"
	KindStats        Kind = "stats"
	KindHighActivity Kind = "high_activity"
	KindShifted      Kind = "shifted"
	KindRefSort      Kind = "reference_sorting"
)

// ComputedKinds lists the derived artifact kinds, in pipeline order.
var ComputedKinds = []Kind{KindFilt, KindStats, KindHighActivity, KindShifted, KindRefSort}

// Per-kind filename suffixes appended to the segment filename.
const (
	suffixFilt         = ".filt"
	suffixShifted      = ".shifted"
	suffixStats        = ".stats.json"
	suffixHighActivity = ".high_activity.json"
)

// Reference-sorting directory contents.
const (
	SpikeTimesFile      = "spike_times.npy"
	SpikeLabelsFile     = "spike_labels.npy"
	SpikeAmplitudesFile = "spike_amplitudes.npy"
	TemplatesFile       = "templates.npy"
)

// Tree resolves every path of the experiment directory layout.
type Tree struct {
	root string
}

// NewTree returns a Tree rooted at the experiment directory.
func NewTree(root string) *Tree {
	return &Tree{root: root}
}

// Root returns the experiment directory.
func (t *Tree) Root() string { return t.root }

// AcquisitionDir is where the recording hardware deposits epoch-block
// directories of raw stream files.
func (t *Tree) AcquisitionDir() string { return filepath.Join(t.root, "acquisition") }

// AcquisitionBlockDir returns the stream directory of one epoch block.
func (t *Tree) AcquisitionBlockDir(epochBlock string) string {
	return filepath.Join(t.AcquisitionDir(), epochBlock)
}

// RawDir holds the rechunked fixed-duration segments.
func (t *Tree) RawDir() string { return filepath.Join(t.root, "raw") }

// RawBlockDir returns the raw segment directory of one epoch block.
func (t *Tree) RawBlockDir(epochBlock string) string {
	return filepath.Join(t.RawDir(), epochBlock)
}

// RawSegmentPath returns the path of one rechunked segment.
func (t *Tree) RawSegmentPath(epochBlock, segment string) string {
	return filepath.Join(t.RawDir(), epochBlock, segment)
}

// SegmentFileName renders the 1-based segment index as segment_NNN.bin.
func SegmentFileName(index int) string {
	return fmt.Sprintf("segment_%03d.bin", index)
}

// ComputedDir holds every derived artifact.
func (t *Tree) ComputedDir() string { return filepath.Join(t.root, "computed") }

// Path returns the final path of the artifact of the given kind for one
// segment. For KindRefSort the path is a directory.
func (t *Tree) Path(kind Kind, epochBlock, segment string) string {
	switch kind {
	case KindRaw:
		return t.RawSegmentPath(epochBlock, segment)
	case KindFilt:
		return filepath.Join(t.ComputedDir(), string(KindFilt), epochBlock, segment+suffixFilt)
	case KindShifted:
		return filepath.Join(t.ComputedDir(), string(KindShifted), epochBlock, segment+suffixShifted)
	case KindStats:
		return filepath.Join(t.ComputedDir(), string(KindStats), epochBlock, segment+suffixStats)
	case KindHighActivity:
		return filepath.Join(t.ComputedDir(), string(KindHighActivity), epochBlock, segment+suffixHighActivity)
	case KindRefSort:
		return filepath.Join(t.ComputedDir(), string(KindRefSort), epochBlock, segment)
	default:
		return ""
	}
}

// ShiftCoeffsPath is the one-time calibration output of the reference
// manager.
func (t *Tree) ShiftCoeffsPath() string {
	return filepath.Join(t.ComputedDir(), "shift_coeffs.yaml")
}

// ReferencePointerPath is the operator-written reference segment pointer.
func (t *Tree) ReferencePointerPath() string {
	return filepath.Join(t.root, "reference_segment.txt")
}

// CalibratedPointerPath records the pointer identity the current calibration
// artifacts were derived from.
func (t *Tree) CalibratedPointerPath() string {
	return filepath.Join(t.ComputedDir(), "reference_segment.calibrated")
}

// ConfigPath is the experiment configuration file.
func (t *Tree) ConfigPath() string { return filepath.Join(t.root, "spikeline.yaml") }

// CoordsPath is the electrode coordinate table.
func (t *Tree) CoordsPath() string { return filepath.Join(t.root, "electrode_coords.txt") }

// EpochBlocks lists the epoch-block directories under dir in name order.
func EpochBlocks(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("artifact: list epoch blocks: %w", err)
	}

	var blocks []string

	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			blocks = append(blocks, entry.Name())
		}
	}

	sort.Strings(blocks)

	return blocks, nil
}

// RawSegments lists the rechunked segment filenames of one epoch block in
// name order.
func (t *Tree) RawSegments(epochBlock string) ([]string, error) {
	entries, err := os.ReadDir(t.RawBlockDir(epochBlock))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("artifact: list raw segments: %w", err)
	}

	var segments []string

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".bin") {
			continue
		}

		segments = append(segments, name)
	}

	sort.Strings(segments)

	return segments, nil
}
