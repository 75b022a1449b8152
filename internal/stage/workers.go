package stage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/neuracq/spikeline/internal/artifact"
	"github.com/neuracq/spikeline/internal/config"
	"github.com/neuracq/spikeline/internal/segbin"
	"github.com/neuracq/spikeline/pkg/dsp"
	"github.com/neuracq/spikeline/pkg/npyio"
)

// ErrMissingInput indicates a stage was dispatched before its input
// artifact exists; the scheduler retries on a later cycle.
var ErrMissingInput = errors.New("stage: input artifact missing")

// Calibration is the global reference-derived state the Shift and
// Reference-Sorting stages depend on.
type Calibration struct {
	CX        float64
	CY        float64
	Templates [][]float64
}

// Workers runs the per-segment stages under the artifact claim protocol.
type Workers struct {
	cfg    *config.Config
	tree   *artifact.Tree
	coords []config.Coord
	logger *slog.Logger
	bp     *dsp.BandPass
}

// NewWorkers builds the stage workers, designing the band-pass from the
// configured filter parameters.
func NewWorkers(cfg *config.Config, tree *artifact.Tree, coords []config.Coord, logger *slog.Logger) (*Workers, error) {
	bp, err := dsp.NewBandPass(cfg.FilterParams.Lowcut, cfg.FilterParams.Highcut, cfg.SamplingFrequency, cfg.FilterParams.Order)
	if err != nil {
		return nil, err
	}

	return &Workers{cfg: cfg, tree: tree, coords: coords, logger: logger, bp: bp}, nil
}

// Build produces the artifact of the given kind for one segment. calib may
// be nil for kinds without a calibration dependency. ErrClaimConflict means
// another worker holds the key; ErrMissingInput means a dependency has not
// landed yet. Both are benign.
func (w *Workers) Build(kind artifact.Kind, epochBlock, segment string, calib *Calibration) error {
	switch kind {
	case artifact.KindFilt:
		return w.buildFilt(epochBlock, segment)
	case artifact.KindStats:
		return w.buildStats(epochBlock, segment)
	case artifact.KindHighActivity:
		return w.buildHighActivity(epochBlock, segment)
	case artifact.KindShifted:
		return w.buildShifted(epochBlock, segment, calib)
	case artifact.KindRefSort:
		return w.buildRefSort(epochBlock, segment, calib)
	default:
		return fmt.Errorf("stage: unknown kind %q", kind)
	}
}

func (w *Workers) readSamples(path string) ([]int16, error) {
	if !w.tree.Present(path) {
		return nil, fmt.Errorf("%w: %s", ErrMissingInput, path)
	}

	samples, _, err := segbin.ReadAll(path, w.cfg.NChannels)
	if err != nil {
		return nil, err
	}

	return samples, nil
}

func (w *Workers) commitFile(finalPath string, payload []byte) error {
	claim, err := w.tree.Claim(finalPath)
	if err != nil {
		return err
	}

	err = os.WriteFile(claim.StagingPath(), payload, 0o640)
	if err != nil {
		_ = claim.Abort()

		return fmt.Errorf("stage: write %s: %w", finalPath, err)
	}

	err = claim.Commit()
	if err != nil {
		return err
	}

	w.logger.Debug("artifact committed", "path", finalPath)

	return nil
}

func (w *Workers) buildFilt(epochBlock, segment string) error {
	raw, err := w.readSamples(w.tree.RawSegmentPath(epochBlock, segment))
	if err != nil {
		return err
	}

	filtered := FilterBlock(raw, w.cfg.NChannels, w.bp)

	return w.commitFile(w.tree.Path(artifact.KindFilt, epochBlock, segment), segbin.Encode(filtered))
}

func (w *Workers) buildStats(epochBlock, segment string) error {
	raw, err := w.readSamples(w.tree.RawSegmentPath(epochBlock, segment))
	if err != nil {
		return err
	}

	stats := ComputeStats(raw, w.cfg.NChannels, w.cfg.SamplingFrequency, w.cfg.StatsDetectThreshold)

	payload, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("stage: marshal stats: %w", err)
	}

	return w.commitFile(w.tree.Path(artifact.KindStats, epochBlock, segment), payload)
}

func (w *Workers) buildHighActivity(epochBlock, segment string) error {
	raw, err := w.readSamples(w.tree.RawSegmentPath(epochBlock, segment))
	if err != nil {
		return err
	}

	intervals := ComputeHighActivity(raw, w.cfg.NChannels, w.cfg.SamplingFrequency,
		w.cfg.StatsDetectThreshold, w.cfg.HighActivityThreshold)
	if intervals == nil {
		intervals = []dsp.Interval{}
	}

	payload, err := json.Marshal(HighActivity{Intervals: intervals})
	if err != nil {
		return fmt.Errorf("stage: marshal high activity: %w", err)
	}

	return w.commitFile(w.tree.Path(artifact.KindHighActivity, epochBlock, segment), payload)
}

func (w *Workers) buildShifted(epochBlock, segment string, calib *Calibration) error {
	filtered, err := w.readSamples(w.tree.Path(artifact.KindFilt, epochBlock, segment))
	if err != nil {
		return err
	}

	shifts := ChannelShifts(w.coords, calib.CX, calib.CY)
	shifted := ApplyShifts(filtered, w.cfg.NChannels, shifts)

	return w.commitFile(w.tree.Path(artifact.KindShifted, epochBlock, segment), segbin.Encode(shifted))
}

func (w *Workers) buildRefSort(epochBlock, segment string, calib *Calibration) error {
	shifted, err := w.readSamples(w.tree.Path(artifact.KindShifted, epochBlock, segment))
	if err != nil {
		return err
	}

	exclude, err := w.readHighActivity(epochBlock, segment)
	if err != nil {
		return err
	}

	events := DetectSpikeFrames(shifted, w.cfg.NChannels, w.cfg.SamplingFrequency,
		w.cfg.CoarseDetectThreshold, exclude)
	labels, amplitudes := MatchTemplates(events.Vectors, calib.Templates)

	claim, err := w.tree.ClaimDir(w.tree.Path(artifact.KindRefSort, epochBlock, segment))
	if err != nil {
		return err
	}

	err = WriteSortingDir(claim.StagingPath(), events.Frames, labels, amplitudes,
		calib.Templates, w.cfg.SamplingFrequency)
	if err != nil {
		_ = claim.Abort()

		return err
	}

	return claim.Commit()
}

func (w *Workers) readHighActivity(epochBlock, segment string) ([]dsp.Interval, error) {
	path := w.tree.Path(artifact.KindHighActivity, epochBlock, segment)
	if !w.tree.Present(path) {
		return nil, fmt.Errorf("%w: %s", ErrMissingInput, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("stage: read high activity: %w", err)
	}

	var ha HighActivity

	err = json.Unmarshal(data, &ha)
	if err != nil {
		return nil, fmt.Errorf("stage: decode high activity: %w", err)
	}

	return ha.Intervals, nil
}

// WriteSortingDir writes the four sorting arrays into dir: spike times in
// seconds (float32), unit labels (int32), amplitudes (float32), and the
// template matrix carried forward unchanged for traceability.
func WriteSortingDir(dir string, frames []int, labels []int, amplitudes []float64, templates [][]float64, samplingFrequency float64) error {
	times := make([]float32, len(frames))
	for i, f := range frames {
		times[i] = float32(float64(f) / samplingFrequency)
	}

	labels32 := make([]int32, len(labels))
	for i, l := range labels {
		labels32[i] = int32(l) //nolint:gosec // unit counts are small.
	}

	amps := make([]float32, len(amplitudes))
	for i, a := range amplitudes {
		amps[i] = float32(a)
	}

	channels := 0
	if len(templates) > 0 {
		channels = len(templates[0])
	}

	flat := make([]float32, 0, len(templates)*channels)
	for _, tmpl := range templates {
		for _, v := range tmpl {
			flat = append(flat, float32(v))
		}
	}

	err := npyio.WriteFloat32File(filepath.Join(dir, artifact.SpikeTimesFile), times, len(times))
	if err != nil {
		return err
	}

	err = npyio.WriteInt32File(filepath.Join(dir, artifact.SpikeLabelsFile), labels32, len(labels32))
	if err != nil {
		return err
	}

	err = npyio.WriteFloat32File(filepath.Join(dir, artifact.SpikeAmplitudesFile), amps, len(amps))
	if err != nil {
		return err
	}

	return npyio.WriteFloat32File(filepath.Join(dir, artifact.TemplatesFile), flat, len(templates), channels)
}
