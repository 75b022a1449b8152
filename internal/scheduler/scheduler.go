// Package scheduler drives the pipeline: each poll cycle observes the
// acquisition directory, rechunks sealed epoch blocks, reconciles the
// reference calibration, computes the missing-artifact work set, and
// dispatches it to a bounded worker pool. Failures are isolated per work
// item and retried by later cycles; "artifact present" is the only
// completion state.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/neuracq/spikeline/internal/acquisition"
	"github.com/neuracq/spikeline/internal/artifact"
	"github.com/neuracq/spikeline/internal/config"
	"github.com/neuracq/spikeline/internal/observability"
	"github.com/neuracq/spikeline/internal/rechunk"
	"github.com/neuracq/spikeline/internal/reference"
	"github.com/neuracq/spikeline/internal/stage"
)

// workItem is one (segment, kind) build.
type workItem struct {
	kind       artifact.Kind
	epochBlock string
	segment    string
}

// Scheduler owns the poll loop.
type Scheduler struct {
	cfg     *config.Config
	tree    *artifact.Tree
	logger  *slog.Logger
	metrics *observability.Metrics

	monitor   *acquisition.Monitor
	rechunker *rechunk.Rechunker
	refMgr    *reference.Manager
	workers   *stage.Workers
}

// New wires the pipeline components. The monitor's quiet window equals the
// poll interval, so sealing requires two unchanged polls one interval
// apart.
func New(cfg *config.Config, tree *artifact.Tree, coords []config.Coord, logger *slog.Logger, metrics *observability.Metrics) (*Scheduler, error) {
	workers, err := stage.NewWorkers(cfg, tree, coords, logger)
	if err != nil {
		return nil, err
	}

	clusterer := &reference.PeakChannelClusterer{Coords: coords}

	refMgr, err := reference.NewManager(cfg, tree, coords, clusterer, logger)
	if err != nil {
		return nil, err
	}

	interval := pollInterval(cfg)

	return &Scheduler{
		cfg:       cfg,
		tree:      tree,
		logger:    logger,
		metrics:   metrics,
		monitor:   acquisition.NewMonitor(tree.AcquisitionDir(), interval, logger),
		rechunker: rechunk.New(tree, cfg, logger),
		refMgr:    refMgr,
		workers:   workers,
	}, nil
}

func pollInterval(cfg *config.Config) time.Duration {
	return time.Duration(cfg.PollIntervalSec * float64(time.Second))
}

// Run executes poll cycles until ctx is cancelled. Cancellation takes
// effect at the cycle boundary; in-flight builds finish or abort cleanly
// first. Orphaned staging paths from a previous crash are swept once at
// startup.
func (s *Scheduler) Run(ctx context.Context) error {
	err := artifact.SweepStaging(s.tree.RawDir())
	if err != nil {
		return err
	}

	err = artifact.SweepStaging(s.tree.ComputedDir())
	if err != nil {
		return err
	}

	interval := pollInterval(s.cfg)
	s.logger.Info("scheduler started", "poll_interval", interval, "workers", s.cfg.Workers)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")

			return nil
		case <-timer.C:
		}

		cycleErr := s.Cycle(ctx)
		if cycleErr != nil {
			s.logger.Error("cycle failed", "error", cycleErr)
		}

		timer.Reset(interval)
	}
}

// Cycle runs one full poll cycle. Exported so a single cycle can be driven
// directly.
func (s *Scheduler) Cycle(ctx context.Context) error {
	ctx, span := observability.Tracer().Start(ctx, "scheduler.cycle")
	defer span.End()

	blocks, err := s.monitor.Poll(time.Now())
	if err != nil {
		return err
	}

	for _, block := range blocks {
		written, rerr := s.rechunker.Process(block)

		s.metrics.SegmentsWritten.Add(float64(written))

		if rerr != nil {
			// An unchunkable block must not stall the others.
			s.logger.Warn("rechunk failed", "epoch_block", block.ID, "error", rerr)
		}
	}

	state, err := s.refMgr.Sync()
	if err != nil {
		s.logger.Warn("reference sync failed", "error", err)
	}

	var calib *stage.Calibration

	if state == reference.CalibrationReady {
		calib, err = s.refMgr.Calibration()
		if err != nil {
			s.logger.Warn("calibration load failed", "error", err)

			state = reference.CalibrationPending
		}
	}

	items, err := s.workSet(state == reference.CalibrationReady)
	if err != nil {
		return err
	}

	s.dispatch(ctx, items, calib)
	s.metrics.CyclesTotal.Inc()
	span.SetAttributes(attribute.Int("work_items", len(items)))

	return nil
}

// workSet lists every (segment, kind) whose artifact is absent and whose
// readiness predicate holds: raw-only stages need the raw segment; Shift
// additionally needs the filtered artifact and calibration;
// Reference-Sorting needs the shifted and high-activity artifacts and
// calibration.
func (s *Scheduler) workSet(calibReady bool) ([]workItem, error) {
	blocks, err := artifact.EpochBlocks(s.tree.RawDir())
	if err != nil {
		return nil, err
	}

	var items []workItem

	for _, block := range blocks {
		segments, err := s.tree.RawSegments(block)
		if err != nil {
			return nil, err
		}

		for _, segment := range segments {
			for _, kind := range artifact.ComputedKinds {
				if !s.eligible(kind, block, segment, calibReady) {
					continue
				}

				if s.tree.Present(s.tree.Path(kind, block, segment)) {
					continue
				}

				items = append(items, workItem{kind: kind, epochBlock: block, segment: segment})
			}
		}
	}

	return items, nil
}

func (s *Scheduler) eligible(kind artifact.Kind, block, segment string, calibReady bool) bool {
	switch kind {
	case artifact.KindFilt, artifact.KindStats, artifact.KindHighActivity:
		return true
	case artifact.KindShifted:
		return calibReady && s.tree.Present(s.tree.Path(artifact.KindFilt, block, segment))
	case artifact.KindRefSort:
		return calibReady &&
			s.tree.Present(s.tree.Path(artifact.KindShifted, block, segment)) &&
			s.tree.Present(s.tree.Path(artifact.KindHighActivity, block, segment))
	default:
		return false
	}
}

// dispatch runs the work set on a bounded pool and waits for completion.
func (s *Scheduler) dispatch(ctx context.Context, items []workItem, calib *stage.Calibration) {
	if len(items) == 0 {
		return
	}

	sem := make(chan struct{}, s.cfg.Workers)

	var wg sync.WaitGroup

	for _, item := range items {
		wg.Add(1)
		sem <- struct{}{}

		go func(it workItem) {
			defer wg.Done()
			defer func() { <-sem }()

			s.runItem(ctx, it, calib)
		}(item)
	}

	wg.Wait()
}

func (s *Scheduler) runItem(ctx context.Context, it workItem, calib *stage.Calibration) {
	_, span := observability.Tracer().Start(ctx, "stage."+string(it.kind),
		trace.WithAttributes(
			attribute.String("epoch_block", it.epochBlock),
			attribute.String("segment", it.segment),
		))
	defer span.End()

	s.metrics.InFlightBuilds.Inc()
	defer s.metrics.InFlightBuilds.Dec()

	start := time.Now()
	err := s.workers.Build(it.kind, it.epochBlock, it.segment, calib)

	s.metrics.BuildDuration.WithLabelValues(string(it.kind)).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		s.metrics.ArtifactBuildsTotal.WithLabelValues(string(it.kind)).Inc()
	case errors.Is(err, artifact.ErrClaimConflict), errors.Is(err, stage.ErrMissingInput):
		// Benign: another worker holds the key or a dependency has not
		// landed; the next cycle resolves it.
		s.logger.Debug("work item deferred",
			"kind", string(it.kind),
			"epoch_block", it.epochBlock,
			"segment", it.segment,
			"reason", err)
	default:
		s.metrics.BuildFailuresTotal.WithLabelValues(string(it.kind)).Inc()
		s.logger.Warn("work item failed",
			"kind", string(it.kind),
			"epoch_block", it.epochBlock,
			"segment", it.segment,
			"error", err)
	}
}
