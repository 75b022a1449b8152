// Package acquisition watches the acquisition directory where the recording
// hardware deposits epoch blocks: one directory per contiguous recording,
// holding a name-ordered sequence of raw stream files that only ever grows.
package acquisition

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// StreamFile is one raw stream file inside an epoch block.
type StreamFile struct {
	Name string
	Size int64
}

// Block is one observed epoch block. Files are name-sorted; their
// concatenation in that order is the block's sample stream.
type Block struct {
	ID         string
	Files      []StreamFile
	TotalBytes int64
	Sealed     bool
}

// observation is one poll's view of a block's manifest.
type observation struct {
	manifest map[string]int64
	seenAt   time.Time
}

// Monitor discovers epoch blocks and decides when a block is sealed: its
// file set and sizes unchanged between two polls separated by at least the
// quiet window. Sealing is sticky; late writes to a sealed block are the
// operator's error, not ours to undo.
type Monitor struct {
	dir    string
	quiet  time.Duration
	logger *slog.Logger

	prev   map[string]observation
	sealed map[string]bool
}

// NewMonitor returns a Monitor over the acquisition directory dir.
func NewMonitor(dir string, quiet time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		dir:    dir,
		quiet:  quiet,
		logger: logger,
		prev:   make(map[string]observation),
		sealed: make(map[string]bool),
	}
}

// Poll observes the acquisition directory once, updating seal state, and
// returns the current blocks in name order. A missing acquisition directory
// is an empty result, not an error.
func (m *Monitor) Poll(now time.Time) ([]Block, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("acquisition: read dir: %w", err)
	}

	var blocks []Block

	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		block, err := m.observeBlock(entry.Name(), now)
		if err != nil {
			return nil, err
		}

		blocks = append(blocks, block)
	}

	sort.Slice(blocks, func(i, j int) bool { return blocks[i].ID < blocks[j].ID })

	return blocks, nil
}

func (m *Monitor) observeBlock(id string, now time.Time) (Block, error) {
	entries, err := os.ReadDir(filepath.Join(m.dir, id))
	if err != nil {
		return Block{}, fmt.Errorf("acquisition: read block %s: %w", id, err)
	}

	manifest := make(map[string]int64, len(entries))
	block := Block{ID: id}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return Block{}, fmt.Errorf("acquisition: stat %s/%s: %w", id, name, err)
		}

		manifest[name] = info.Size()
		block.Files = append(block.Files, StreamFile{Name: name, Size: info.Size()})
		block.TotalBytes += info.Size()
	}

	sort.Slice(block.Files, func(i, j int) bool { return block.Files[i].Name < block.Files[j].Name })

	if m.sealed[id] {
		block.Sealed = true

		return block, nil
	}

	prev, seen := m.prev[id]
	if seen && manifestsEqual(prev.manifest, manifest) && now.Sub(prev.seenAt) >= m.quiet {
		m.sealed[id] = true
		block.Sealed = true

		m.logger.Info("epoch block sealed",
			"epoch_block", id,
			"files", len(block.Files),
			"bytes", block.TotalBytes)

		return block, nil
	}

	if !seen || !manifestsEqual(prev.manifest, manifest) {
		m.prev[id] = observation{manifest: manifest, seenAt: now}
	}

	return block, nil
}

func manifestsEqual(a, b map[string]int64) bool {
	if len(a) != len(b) {
		return false
	}

	for name, size := range a {
		if b[name] != size {
			return false
		}
	}

	return true
}
