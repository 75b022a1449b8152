// Package queryapi serves read-only views over the computed artifact tree:
// completeness reports, artifact payloads, and binary range reads. It never
// writes; the pipeline owns all mutation.
package queryapi

import (
	"github.com/neuracq/spikeline/internal/artifact"
	"github.com/neuracq/spikeline/internal/config"
	"github.com/neuracq/spikeline/internal/segbin"
)

// SegmentReport is the per-segment completeness view.
type SegmentReport struct {
	Segment   string          `json:"segment"`
	Frames    int             `json:"frames"`
	Artifacts map[string]bool `json:"artifacts"`
}

// BlockReport aggregates one epoch block.
type BlockReport struct {
	EpochBlock string          `json:"epoch_block"`
	Segments   []SegmentReport `json:"segments"`
	Complete   int             `json:"complete_segments"`
}

// Complete reports whether every artifact kind exists for the segment.
func (r SegmentReport) Complete() bool {
	for _, present := range r.Artifacts {
		if !present {
			return false
		}
	}

	return true
}

// BuildReport walks the raw tree and reports artifact existence per segment
// and kind.
func BuildReport(tree *artifact.Tree, cfg *config.Config) ([]BlockReport, error) {
	blocks, err := artifact.EpochBlocks(tree.RawDir())
	if err != nil {
		return nil, err
	}

	reports := make([]BlockReport, 0, len(blocks))

	for _, block := range blocks {
		segments, err := tree.RawSegments(block)
		if err != nil {
			return nil, err
		}

		report := BlockReport{EpochBlock: block}

		for _, segment := range segments {
			frames, err := segbin.FrameCount(tree.RawSegmentPath(block, segment), cfg.NChannels)
			if err != nil {
				return nil, err
			}

			sr := SegmentReport{
				Segment:   segment,
				Frames:    frames,
				Artifacts: make(map[string]bool, len(artifact.ComputedKinds)),
			}

			for _, kind := range artifact.ComputedKinds {
				sr.Artifacts[string(kind)] = tree.Present(tree.Path(kind, block, segment))
			}

			if sr.Complete() {
				report.Complete++
			}

			report.Segments = append(report.Segments, sr)
		}

		reports = append(reports, report)
	}

	return reports, nil
}
