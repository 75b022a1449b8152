package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTree_Paths(t *testing.T) {
	t.Parallel()

	tree := NewTree("/exp")

	assert.Equal(t, "/exp/raw/e1/segment_001.bin", tree.Path(KindRaw, "e1", "segment_001.bin"))
	assert.Equal(t, "/exp/computed/filt/e1/segment_001.bin.filt", tree.Path(KindFilt, "e1", "segment_001.bin"))
	assert.Equal(t, "/exp/computed/shifted/e1/segment_001.bin.shifted", tree.Path(KindShifted, "e1", "segment_001.bin"))
	assert.Equal(t, "/exp/computed/stats/e1/segment_001.bin.stats.json", tree.Path(KindStats, "e1", "segment_001.bin"))
	assert.Equal(t, "/exp/computed/high_activity/e1/segment_001.bin.high_activity.json",
		tree.Path(KindHighActivity, "e1", "segment_001.bin"))
	assert.Equal(t, "/exp/computed/reference_sorting/e1/segment_001.bin", tree.Path(KindRefSort, "e1", "segment_001.bin"))
	assert.Equal(t, "/exp/computed/shift_coeffs.yaml", tree.ShiftCoeffsPath())
	assert.Equal(t, "/exp/reference_segment.txt", tree.ReferencePointerPath())
}

func TestSegmentFileName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "segment_001.bin", SegmentFileName(1))
	assert.Equal(t, "segment_042.bin", SegmentFileName(42))
	assert.Equal(t, "segment_100.bin", SegmentFileName(100))
}

func TestClaim_CommitPublishes(t *testing.T) {
	t.Parallel()

	tree := NewTree(t.TempDir())
	final := tree.Path(KindFilt, "e1", "segment_001.bin")

	claim, err := tree.Claim(final)
	require.NoError(t, err)

	assert.Equal(t, StatusClaimed, tree.Status(final))

	require.NoError(t, os.WriteFile(claim.StagingPath(), []byte("data"), 0o600))
	require.NoError(t, claim.Commit())

	assert.Equal(t, StatusPresent, tree.Status(final))

	data, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), data)
}

func TestClaim_Conflict(t *testing.T) {
	t.Parallel()

	tree := NewTree(t.TempDir())
	final := tree.Path(KindFilt, "e1", "segment_001.bin")

	first, err := tree.Claim(final)
	require.NoError(t, err)

	_, err = tree.Claim(final)
	assert.ErrorIs(t, err, ErrClaimConflict)

	require.NoError(t, first.Abort())
	assert.Equal(t, StatusAbsent, tree.Status(final))

	// Aborting releases the claim for the next producer.
	_, err = tree.Claim(final)
	assert.NoError(t, err)
}

func TestClaim_FailedCommitReleasesClaim(t *testing.T) {
	t.Parallel()

	tree := NewTree(t.TempDir())
	final := tree.Path(KindFilt, "e1", "segment_001.bin")

	claim, err := tree.Claim(final)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(claim.StagingPath(), []byte("data"), 0o600))

	// Occupy the final path with a non-empty directory so the rename fails.
	require.NoError(t, os.MkdirAll(filepath.Join(final, "occupied"), 0o750))

	err = claim.Commit()
	require.Error(t, err)

	// The staging path is gone, so the next cycle can re-claim without
	// waiting for a restart sweep.
	assert.NoFileExists(t, claim.StagingPath())

	require.NoError(t, os.RemoveAll(final))

	_, err = tree.Claim(final)
	assert.NoError(t, err)
}

func TestClaimDir(t *testing.T) {
	t.Parallel()

	tree := NewTree(t.TempDir())
	final := tree.Path(KindRefSort, "e1", "segment_001.bin")

	claim, err := tree.ClaimDir(final)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(claim.StagingPath(), SpikeTimesFile), []byte("x"), 0o600))
	require.NoError(t, claim.Commit())

	assert.Equal(t, StatusPresent, tree.Status(final))
	assert.FileExists(t, filepath.Join(final, SpikeTimesFile))
}

func TestInvalidate(t *testing.T) {
	t.Parallel()

	tree := NewTree(t.TempDir())
	final := tree.Path(KindStats, "e1", "segment_001.bin")

	claim, err := tree.Claim(final)
	require.NoError(t, err)
	require.NoError(t, claim.Commit())

	require.NoError(t, tree.Invalidate(final, "/nonexistent-is-fine"))
	assert.Equal(t, StatusAbsent, tree.Status(final))
}

func TestSweepStaging(t *testing.T) {
	t.Parallel()

	tree := NewTree(t.TempDir())
	fileFinal := tree.Path(KindFilt, "e1", "segment_001.bin")
	dirFinal := tree.Path(KindRefSort, "e1", "segment_001.bin")

	_, err := tree.Claim(fileFinal)
	require.NoError(t, err)

	_, err = tree.ClaimDir(dirFinal)
	require.NoError(t, err)

	require.NoError(t, SweepStaging(tree.Root()))

	assert.Equal(t, StatusAbsent, tree.Status(fileFinal))
	assert.Equal(t, StatusAbsent, tree.Status(dirFinal))

	// The sweep frees both claims.
	_, err = tree.Claim(fileFinal)
	assert.NoError(t, err)

	_, err = tree.ClaimDir(dirFinal)
	assert.NoError(t, err)
}

func TestEpochBlocksAndSegments(t *testing.T) {
	t.Parallel()

	tree := NewTree(t.TempDir())

	require.NoError(t, os.MkdirAll(tree.RawBlockDir("e2"), 0o750))
	require.NoError(t, os.MkdirAll(tree.RawBlockDir("e1"), 0o750))
	require.NoError(t, os.WriteFile(tree.RawSegmentPath("e1", "segment_002.bin"), nil, 0o600))
	require.NoError(t, os.WriteFile(tree.RawSegmentPath("e1", "segment_001.bin"), nil, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(tree.RawBlockDir("e1"), ".tmp-segment_003.bin"), nil, 0o600))

	blocks, err := EpochBlocks(tree.RawDir())
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e2"}, blocks)

	segments, err := tree.RawSegments("e1")
	require.NoError(t, err)
	assert.Equal(t, []string{"segment_001.bin", "segment_002.bin"}, segments)

	// A missing block directory is an empty listing, not an error.
	none, err := tree.RawSegments("missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}
