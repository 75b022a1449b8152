package queryapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuracq/spikeline/internal/artifact"
	"github.com/neuracq/spikeline/internal/config"
	"github.com/neuracq/spikeline/internal/observability"
	"github.com/neuracq/spikeline/internal/segbin"
)

func testServer(t *testing.T) (*Server, *artifact.Tree) {
	t.Helper()

	cfg := &config.Config{
		NChannels:             2,
		SamplingFrequency:     1000,
		RawSegmentDurationSec: 1.0,
	}
	tree := artifact.NewTree(t.TempDir())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewServer(cfg, tree, logger, observability.NewMetrics()), tree
}

func get(t *testing.T, handler http.Handler, url string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	handler.ServeHTTP(rec, req)

	return rec
}

func seedSegment(t *testing.T, tree *artifact.Tree, epochBlock, segment string, frames int) {
	t.Helper()

	samples := make([]int16, frames*2)
	for i := range samples {
		samples[i] = int16(i % 100)
	}

	require.NoError(t, segbin.WriteAtomic(tree.RawSegmentPath(epochBlock, segment), samples))
}

func TestHandleConfig(t *testing.T) {
	t.Parallel()

	s, _ := testServer(t)
	rec := get(t, s.Router(), "/api/config")

	require.Equal(t, http.StatusOK, rec.Code)

	var cfg map[string]any

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.InDelta(t, 1000.0, cfg["sampling_frequency"], 1e-9)
}

func TestHandleEpochBlocks(t *testing.T) {
	t.Parallel()

	s, tree := testServer(t)
	seedSegment(t, tree, "e1", "segment_001.bin", 1000)

	rec := get(t, s.Router(), "/api/epoch_blocks")
	require.Equal(t, http.StatusOK, rec.Code)

	var report []BlockReport

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Len(t, report, 1)

	assert.Equal(t, "e1", report[0].EpochBlock)
	require.Len(t, report[0].Segments, 1)
	assert.Equal(t, 1000, report[0].Segments[0].Frames)
	assert.False(t, report[0].Segments[0].Artifacts["filt"])
	assert.Zero(t, report[0].Complete)
}

func TestHandleArtifacts(t *testing.T) {
	t.Parallel()

	s, tree := testServer(t)
	seedSegment(t, tree, "e1", "segment_001.bin", 1000)

	claim, err := tree.Claim(tree.Path(artifact.KindStats, "e1", "segment_001.bin"))
	require.NoError(t, err)
	require.NoError(t, claim.Commit())

	rec := get(t, s.Router(), "/api/epoch_blocks/e1/segments/segment_001.bin/artifacts")
	require.Equal(t, http.StatusOK, rec.Code)

	var flags map[string]bool

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &flags))
	assert.True(t, flags["stats"])
	assert.False(t, flags["filt"])

	rec = get(t, s.Router(), "/api/epoch_blocks/e1/segments/segment_099.bin/artifacts")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleJSONArtifact(t *testing.T) {
	t.Parallel()

	s, tree := testServer(t)
	seedSegment(t, tree, "e1", "segment_001.bin", 1000)

	statsPath := tree.Path(artifact.KindStats, "e1", "segment_001.bin")
	claim, err := tree.Claim(statsPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(claim.StagingPath(),
		[]byte(`{"mean_firing_rates":[1,0],"mean_spike_amplitudes":[50,0]}`), 0o600))
	require.NoError(t, claim.Commit())

	rec := get(t, s.Router(), "/api/epoch_blocks/e1/segments/segment_001.bin/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"mean_firing_rates":[1,0],"mean_spike_amplitudes":[50,0]}`, rec.Body.String())

	rec = get(t, s.Router(), "/api/epoch_blocks/e1/segments/segment_001.bin/high_activity")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleShiftCoeffs(t *testing.T) {
	t.Parallel()

	s, tree := testServer(t)

	rec := get(t, s.Router(), "/api/shift_coeffs")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	claim, err := tree.Claim(tree.ShiftCoeffsPath())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(claim.StagingPath(), []byte("c_x: 1.5\nc_y: -0.25\n"), 0o600))
	require.NoError(t, claim.Commit())

	rec = get(t, s.Router(), "/api/shift_coeffs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"c_x": 1.5, "c_y": -0.25}`, rec.Body.String())
}

func TestHandleData_RangeRead(t *testing.T) {
	t.Parallel()

	s, tree := testServer(t)
	seedSegment(t, tree, "e1", "segment_001.bin", 1000)

	rec := get(t, s.Router(),
		"/api/epoch_blocks/e1/segments/segment_001.bin/data?kind=raw&start_sec=0.1&end_sec=0.2")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "100", rec.Header().Get(HeaderNumFrames))
	assert.Equal(t, "2", rec.Header().Get(HeaderNumChannels))
	assert.Equal(t, "1000", rec.Header().Get(HeaderSamplingFrequency))

	body := rec.Body.Bytes()
	require.Len(t, body, 100*2*segbin.BytesPerSample)

	// First sample of frame 100.
	first := int16(body[0]) | int16(body[1])<<8
	assert.Equal(t, int16(200%100), first)
}

func TestHandleData_Validation(t *testing.T) {
	t.Parallel()

	s, tree := testServer(t)
	seedSegment(t, tree, "e1", "segment_001.bin", 1000)

	rec := get(t, s.Router(), "/api/epoch_blocks/e1/segments/segment_001.bin/data?kind=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, s.Router(),
		"/api/epoch_blocks/e1/segments/segment_001.bin/data?kind=raw&start_sec=0.5&end_sec=0.1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, s.Router(), "/api/epoch_blocks/e1/segments/segment_001.bin/data?kind=filt")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s, _ := testServer(t)

	rec := get(t, s.Router(), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
