package acquisition

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeStream(t *testing.T, dir, block, name string, size int) {
	t.Helper()

	path := filepath.Join(dir, block, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o600))
}

func TestPoll_NameSortedDiscovery(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeStream(t, dir, "e2", "data_000.bin", 8)
	writeStream(t, dir, "e1", "data_001.bin", 4)
	writeStream(t, dir, "e1", "data_000.bin", 4)

	m := NewMonitor(dir, time.Minute, testLogger())

	blocks, err := m.Poll(time.Now())
	require.NoError(t, err)
	require.Len(t, blocks, 2)

	assert.Equal(t, "e1", blocks[0].ID)
	assert.Equal(t, "e2", blocks[1].ID)
	assert.Equal(t, []StreamFile{{"data_000.bin", 4}, {"data_001.bin", 4}}, blocks[0].Files)
	assert.Equal(t, int64(8), blocks[0].TotalBytes)
}

func TestPoll_SealsAfterQuietWindow(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeStream(t, dir, "e1", "data_000.bin", 16)

	m := NewMonitor(dir, 10*time.Second, testLogger())
	start := time.Now()

	blocks, err := m.Poll(start)
	require.NoError(t, err)
	assert.False(t, blocks[0].Sealed)

	// Unchanged but before the quiet window elapses: still open.
	blocks, err = m.Poll(start.Add(5 * time.Second))
	require.NoError(t, err)
	assert.False(t, blocks[0].Sealed)

	blocks, err = m.Poll(start.Add(11 * time.Second))
	require.NoError(t, err)
	assert.True(t, blocks[0].Sealed)

	// Sealing is sticky.
	blocks, err = m.Poll(start.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, blocks[0].Sealed)
}

func TestPoll_GrowthResetsQuietWindow(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeStream(t, dir, "e1", "data_000.bin", 16)

	m := NewMonitor(dir, 10*time.Second, testLogger())
	start := time.Now()

	_, err := m.Poll(start)
	require.NoError(t, err)

	// The stream grows; the observation window restarts.
	writeStream(t, dir, "e1", "data_000.bin", 32)

	blocks, err := m.Poll(start.Add(11 * time.Second))
	require.NoError(t, err)
	assert.False(t, blocks[0].Sealed)

	blocks, err = m.Poll(start.Add(15 * time.Second))
	require.NoError(t, err)
	assert.False(t, blocks[0].Sealed)

	blocks, err = m.Poll(start.Add(22 * time.Second))
	require.NoError(t, err)
	assert.True(t, blocks[0].Sealed)
}

func TestPoll_NewFileResetsQuietWindow(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeStream(t, dir, "e1", "data_000.bin", 16)

	m := NewMonitor(dir, 10*time.Second, testLogger())
	start := time.Now()

	_, err := m.Poll(start)
	require.NoError(t, err)

	writeStream(t, dir, "e1", "data_001.bin", 16)

	blocks, err := m.Poll(start.Add(11 * time.Second))
	require.NoError(t, err)
	assert.False(t, blocks[0].Sealed)
}

func TestPoll_MissingDirIsEmpty(t *testing.T) {
	t.Parallel()

	m := NewMonitor(filepath.Join(t.TempDir(), "missing"), time.Second, testLogger())

	blocks, err := m.Poll(time.Now())
	require.NoError(t, err)
	assert.Empty(t, blocks)
}

func TestPoll_IgnoresHiddenEntries(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeStream(t, dir, "e1", "data_000.bin", 4)
	writeStream(t, dir, "e1", ".tmp-partial", 2)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".staging"), 0o750))

	m := NewMonitor(dir, time.Second, testLogger())

	blocks, err := m.Poll(time.Now())
	require.NoError(t, err)
	require.Len(t, blocks, 1)

	assert.Equal(t, []StreamFile{{"data_000.bin", 4}}, blocks[0].Files)
}
