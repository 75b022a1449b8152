// Package rechunk splits a sealed epoch block's concatenated stream files
// into fixed-duration raw segments. Segment indices are 1-based and
// contiguous; a segment already present on disk is never re-chunked.
package rechunk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/neuracq/spikeline/internal/acquisition"
	"github.com/neuracq/spikeline/internal/artifact"
	"github.com/neuracq/spikeline/internal/config"
	"github.com/neuracq/spikeline/internal/segbin"
)

// Rechunker emits raw segments for sealed epoch blocks.
type Rechunker struct {
	tree   *artifact.Tree
	cfg    *config.Config
	logger *slog.Logger
}

// New returns a Rechunker writing into tree's raw directory.
func New(tree *artifact.Tree, cfg *config.Config, logger *slog.Logger) *Rechunker {
	return &Rechunker{tree: tree, cfg: cfg, logger: logger}
}

// Process chunks one epoch block, writing every segment not yet present.
// Unsealed blocks are skipped: the final segment's length is unknown until
// the block stops growing. Returns the number of segments written.
func (r *Rechunker) Process(block acquisition.Block) (int, error) {
	if !block.Sealed {
		return 0, nil
	}

	stride := int64(r.cfg.NChannels) * segbin.BytesPerSample
	if block.TotalBytes%stride != 0 {
		return 0, &segbin.FormatError{
			Path:     r.tree.AcquisitionBlockDir(block.ID),
			Size:     block.TotalBytes,
			Channels: r.cfg.NChannels,
		}
	}

	totalFrames := int(block.TotalBytes / stride)
	if totalFrames == 0 {
		return 0, nil
	}

	segFrames := r.cfg.FramesPerSegment()
	numSegments := (totalFrames + segFrames - 1) / segFrames
	written := 0

	for index := 1; index <= numSegments; index++ {
		target := r.tree.RawSegmentPath(block.ID, artifact.SegmentFileName(index))
		if r.tree.Present(target) {
			continue
		}

		startFrame := (index - 1) * segFrames
		endFrame := min(index*segFrames, totalFrames)

		samples, err := r.readStreamFrames(block, int64(startFrame)*stride, int64(endFrame)*stride)
		if err != nil {
			return written, err
		}

		err = segbin.WriteAtomic(target, samples)
		if err != nil {
			return written, err
		}

		written++

		r.logger.Info("raw segment written",
			"epoch_block", block.ID,
			"segment", artifact.SegmentFileName(index),
			"frames", endFrame-startFrame,
			"size", humanize.Bytes(uint64(endFrame-startFrame)*uint64(stride))) //nolint:gosec // non-negative.
	}

	return written, nil
}

// readStreamFrames reads the byte range [startByte, endByte) of the block's
// stream, which is the concatenation of its files in name order, and decodes
// it as int16 LE samples.
func (r *Rechunker) readStreamFrames(block acquisition.Block, startByte, endByte int64) ([]int16, error) {
	buf := make([]byte, endByte-startByte)
	blockDir := r.tree.AcquisitionBlockDir(block.ID)

	var fileStart int64

	filled := 0

	for _, sf := range block.Files {
		fileEnd := fileStart + sf.Size

		lo := max(startByte, fileStart)
		hi := min(endByte, fileEnd)

		if lo < hi {
			n, err := readAt(filepath.Join(blockDir, sf.Name), lo-fileStart, buf[filled:filled+int(hi-lo)])
			if err != nil {
				return nil, err
			}

			filled += n

			// The file holds fewer bytes than the manifest claimed; stop so
			// the length check below reports the truncation instead of
			// committing a zero-padded segment.
			if n < int(hi-lo) {
				break
			}
		}

		fileStart = fileEnd
		if fileStart >= endByte {
			break
		}
	}

	if int64(filled) != endByte-startByte {
		return nil, fmt.Errorf("rechunk: %s: stream shorter than manifest: got %d of %d bytes",
			block.ID, filled, endByte-startByte)
	}

	samples := make([]int16, len(buf)/segbin.BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*segbin.BytesPerSample:])) //nolint:gosec // intentional bit reinterpretation.
	}

	return samples, nil
}

// readAt fills dst from path at offset and reports how many bytes were
// available. Hitting EOF is not an error here; the caller checks the total
// against the manifest.
func readAt(path string, offset int64, dst []byte) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("rechunk: open %s: %w", path, err)
	}
	defer f.Close()

	n, err := f.ReadAt(dst, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("rechunk: read %s: %w", path, err)
	}

	return n, nil
}
