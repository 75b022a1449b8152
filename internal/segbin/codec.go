// Package segbin reads and writes the segment binary format shared by the
// acquisition stream and every computed waveform artifact: int16
// little-endian samples, frame-major (all channels of frame t, then frame
// t+1), with no header.
package segbin

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/edsrzf/mmap-go"
)

// BytesPerSample is the width of one int16 sample on disk.
const BytesPerSample = 2

// tmpPrefix marks in-flight staging files; a crash leaves only these behind.
const tmpPrefix = ".tmp-"

// ErrRange indicates a frame range outside the file's bounds.
var ErrRange = errors.New("segbin: frame range out of bounds")

// FormatError reports a file whose byte size is not a whole number of frames
// for the configured channel count.
type FormatError struct {
	Path     string
	Size     int64
	Channels int
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("segbin: %s: size %d is not a multiple of %d channels x %d bytes",
		e.Path, e.Size, e.Channels, BytesPerSample)
}

// FrameCount returns the number of complete frames in the file at path.
func FrameCount(path string, channels int) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("segbin: stat: %w", err)
	}

	stride := int64(channels) * BytesPerSample
	if info.Size()%stride != 0 {
		return 0, &FormatError{Path: path, Size: info.Size(), Channels: channels}
	}

	return int(info.Size() / stride), nil
}

// ReadAll reads the whole segment, returning the samples and the frame count.
func ReadAll(path string, channels int) ([]int16, int, error) {
	frames, err := FrameCount(path, channels)
	if err != nil {
		return nil, 0, err
	}

	samples, err := readRange(path, channels, 0, frames, frames)
	if err != nil {
		return nil, 0, err
	}

	return samples, frames, nil
}

// ReadFrameRange reads frames [startFrame, endFrame) of the segment at path.
func ReadFrameRange(path string, channels, startFrame, endFrame int) ([]int16, error) {
	totalFrames, err := FrameCount(path, channels)
	if err != nil {
		return nil, err
	}

	if startFrame < 0 || endFrame < startFrame || endFrame > totalFrames {
		return nil, fmt.Errorf("%w: [%d, %d) of %d frames", ErrRange, startFrame, endFrame, totalFrames)
	}

	return readRange(path, channels, startFrame, endFrame, totalFrames)
}

func readRange(path string, channels, startFrame, endFrame, totalFrames int) ([]int16, error) {
	count := (endFrame - startFrame) * channels
	if totalFrames == 0 || count == 0 {
		return []int16{}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("segbin: open: %w", err)
	}
	defer f.Close()

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("segbin: mmap: %w", err)
	}
	defer m.Unmap() //nolint:errcheck // read-only mapping.

	samples := make([]int16, count)
	base := startFrame * channels * BytesPerSample

	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(m[base+i*BytesPerSample:])) //nolint:gosec // intentional bit reinterpretation.
	}

	return samples, nil
}

// FrameRangeForSeconds converts a half-open time range in seconds to a frame
// range, clamped to [0, totalFrames).
func FrameRangeForSeconds(startSec, endSec, samplingFrequency float64, totalFrames int) (int, int) {
	start := int(math.Round(startSec * samplingFrequency))
	end := int(math.Round(endSec * samplingFrequency))

	start = max(0, min(start, totalFrames))
	end = max(start, min(end, totalFrames))

	return start, end
}

// WriteAtomic writes samples to path via a dot-prefixed sibling temp file and
// a final rename, creating parent directories as needed. Readers never see a
// partial file.
func WriteAtomic(path string, samples []int16) error {
	dir := filepath.Dir(path)

	err := os.MkdirAll(dir, 0o750)
	if err != nil {
		return fmt.Errorf("segbin: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tmpPrefix+filepath.Base(path)+"-")
	if err != nil {
		return fmt.Errorf("segbin: create temp: %w", err)
	}

	tmpPath := tmp.Name()

	err = binary.Write(tmp, binary.LittleEndian, samples)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)

		return fmt.Errorf("segbin: write: %w", err)
	}

	err = tmp.Close()
	if err != nil {
		os.Remove(tmpPath)

		return fmt.Errorf("segbin: close temp: %w", err)
	}

	err = os.Rename(tmpPath, path)
	if err != nil {
		os.Remove(tmpPath)

		return fmt.Errorf("segbin: rename: %w", err)
	}

	return nil
}

// Encode renders samples as little-endian bytes.
func Encode(samples []int16) []byte {
	buf := make([]byte, len(samples)*BytesPerSample)
	for i, v := range samples {
		binary.LittleEndian.PutUint16(buf[i*BytesPerSample:], uint16(v)) //nolint:gosec // intentional bit reinterpretation.
	}

	return buf
}

// ToFloat64 widens samples for filtering.
func ToFloat64(samples []int16) []float64 {
	out := make([]float64, len(samples))
	for i, v := range samples {
		out[i] = float64(v)
	}

	return out
}

// FromFloat64 rounds and clamps values back to int16.
func FromFloat64(values []float64) []int16 {
	out := make([]int16, len(values))

	for i, v := range values {
		r := math.Round(v)

		switch {
		case r > math.MaxInt16:
			out[i] = math.MaxInt16
		case r < math.MinInt16:
			out[i] = math.MinInt16
		default:
			out[i] = int16(r)
		}
	}

	return out
}
