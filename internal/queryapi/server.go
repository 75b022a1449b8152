package queryapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gopkg.in/yaml.v3"

	"github.com/neuracq/spikeline/internal/artifact"
	"github.com/neuracq/spikeline/internal/config"
	"github.com/neuracq/spikeline/internal/observability"
	"github.com/neuracq/spikeline/internal/segbin"
)

// Range-read response headers.
const (
	HeaderNumFrames         = "X-Num-Frames"
	HeaderNumChannels       = "X-Num-Channels"
	HeaderSamplingFrequency = "X-Sampling-Frequency"
)

// binaryKinds are the artifact kinds addressable by range reads.
var binaryKinds = map[string]artifact.Kind{
	"raw":     artifact.KindRaw,
	"filt":    artifact.KindFilt,
	"shifted": artifact.KindShifted,
}

// Server exposes the query API.
type Server struct {
	cfg     *config.Config
	tree    *artifact.Tree
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewServer returns a Server over the given experiment tree.
func NewServer(cfg *config.Config, tree *artifact.Tree, logger *slog.Logger, metrics *observability.Metrics) *Server {
	return &Server{cfg: cfg, tree: tree, logger: logger, metrics: metrics}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		ExposedHeaders: []string{HeaderNumFrames, HeaderNumChannels, HeaderSamplingFrequency},
	}))

	r.Get("/api/config", s.handleConfig)
	r.Get("/api/epoch_blocks", s.handleEpochBlocks)
	r.Get("/api/shift_coeffs", s.handleShiftCoeffs)

	r.Route("/api/epoch_blocks/{epochBlock}/segments/{segment}", func(r chi.Router) {
		r.Get("/artifacts", s.handleArtifacts)
		r.Get("/stats", s.handleJSONArtifact(artifact.KindStats))
		r.Get("/high_activity", s.handleJSONArtifact(artifact.KindHighActivity))
		r.Get("/data", s.handleData)
	})

	r.Handle("/metrics", s.metrics.Handler())

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		s.logger.Warn("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cfg)
}

func (s *Server) handleEpochBlocks(w http.ResponseWriter, _ *http.Request) {
	report, err := BuildReport(s.tree, s.cfg)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())

		return
	}

	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleShiftCoeffs(w http.ResponseWriter, _ *http.Request) {
	path := s.tree.ShiftCoeffsPath()
	if !s.tree.Present(path) {
		s.writeError(w, http.StatusNotFound, "calibration not ready")

		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())

		return
	}

	var coeffs struct {
		CX float64 `json:"c_x" yaml:"c_x"`
		CY float64 `json:"c_y" yaml:"c_y"`
	}

	err = yaml.Unmarshal(data, &coeffs)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())

		return
	}

	s.writeJSON(w, http.StatusOK, coeffs)
}

func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	epochBlock := chi.URLParam(r, "epochBlock")
	segment := chi.URLParam(r, "segment")

	if !s.tree.Present(s.tree.RawSegmentPath(epochBlock, segment)) {
		s.writeError(w, http.StatusNotFound, "unknown segment")

		return
	}

	flags := make(map[string]bool, len(artifact.ComputedKinds))
	for _, kind := range artifact.ComputedKinds {
		flags[string(kind)] = s.tree.Present(s.tree.Path(kind, epochBlock, segment))
	}

	s.writeJSON(w, http.StatusOK, flags)
}

// handleJSONArtifact serves a stats or high-activity payload verbatim.
func (s *Server) handleJSONArtifact(kind artifact.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := s.tree.Path(kind, chi.URLParam(r, "epochBlock"), chi.URLParam(r, "segment"))
		if !s.tree.Present(path) {
			s.writeError(w, http.StatusNotFound, "artifact not computed")

			return
		}

		data, err := os.ReadFile(path)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())

			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	}
}

// handleData serves a binary [start_sec, end_sec) range of a raw, filtered,
// or shifted segment, with shape metadata in response headers.
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	epochBlock := chi.URLParam(r, "epochBlock")
	segment := chi.URLParam(r, "segment")

	kind, ok := binaryKinds[r.URL.Query().Get("kind")]
	if !ok {
		s.writeError(w, http.StatusBadRequest, "kind must be raw, filt, or shifted")

		return
	}

	path := s.tree.Path(kind, epochBlock, segment)
	if !s.tree.Present(path) {
		s.writeError(w, http.StatusNotFound, "artifact not computed")

		return
	}

	totalFrames, err := segbin.FrameCount(path, s.cfg.NChannels)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())

		return
	}

	startSec, endSec, err := parseRange(r, totalFrames, s.cfg.SamplingFrequency)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	startFrame, endFrame := segbin.FrameRangeForSeconds(startSec, endSec, s.cfg.SamplingFrequency, totalFrames)

	samples, err := segbin.ReadFrameRange(path, s.cfg.NChannels, startFrame, endFrame)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())

		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set(HeaderNumFrames, strconv.Itoa(endFrame-startFrame))
	w.Header().Set(HeaderNumChannels, strconv.Itoa(s.cfg.NChannels))
	w.Header().Set(HeaderSamplingFrequency, strconv.FormatFloat(s.cfg.SamplingFrequency, 'g', -1, 64))

	_, _ = w.Write(segbin.Encode(samples))
}

func parseRange(r *http.Request, totalFrames int, samplingFrequency float64) (startSec, endSec float64, err error) {
	q := r.URL.Query()

	startSec, err = parseFloatOr(q.Get("start_sec"), 0)
	if err != nil {
		return 0, 0, errors.New("bad start_sec")
	}

	endSec, err = parseFloatOr(q.Get("end_sec"), float64(totalFrames)/samplingFrequency)
	if err != nil {
		return 0, 0, errors.New("bad end_sec")
	}

	if endSec < startSec {
		return 0, 0, fmt.Errorf("end_sec %g before start_sec %g", endSec, startSec)
	}

	return startSec, endSec, nil
}

func parseFloatOr(raw string, fallback float64) (float64, error) {
	if raw == "" {
		return fallback, nil
	}

	return strconv.ParseFloat(raw, 64)
}
