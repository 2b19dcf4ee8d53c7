// internal/prefetch/sweeper.go - Loads the tile images of a sequence of views
package prefetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"github.com/valpere/rastertiles/internal/logging"
	"github.com/valpere/rastertiles/internal/tile"
)

// Renderer selects and schedules the tiles of a view
type Renderer interface {
	TilesWithinExtent(extent orb.Bound, canvasWidth int) (int, []*tile.Tile)
	ScheduleImagesWithinExtent(extent orb.Bound, canvasWidth, canvasHeight int) bool
}

// Waiter blocks until every scheduled job has finished
type Waiter interface {
	Wait(ctx context.Context) error
}

// Sweeper runs sweeps one step at a time, waiting for the images of a step
// before moving to the next
type Sweeper struct {
	renderer Renderer
	waiter   Waiter
	reporter ProgressReporter
	logger   *slog.Logger
	mutex    sync.Mutex
}

// NewSweeper creates a sweeper. reporter may be nil.
func NewSweeper(renderer Renderer, waiter Waiter, reporter ProgressReporter, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		renderer: renderer,
		waiter:   waiter,
		reporter: reporter,
		logger:   logging.OrNop(logger),
	}
}

// ZoomSteps returns n views centred on view, each showing twice the extent
// of the previous one on the same canvas
func ZoomSteps(view orb.Bound, canvasWidth, canvasHeight, n int) []Step {
	center := view.Center()
	halfW := (view.Max[0] - view.Min[0]) / 2
	halfH := (view.Max[1] - view.Min[1]) / 2

	steps := make([]Step, 0, n)
	for i := 0; i < n; i++ {
		f := math.Exp2(float64(i))
		steps = append(steps, Step{
			Extent: orb.Bound{
				Min: orb.Point{center[0] - halfW*f, center[1] - halfH*f},
				Max: orb.Point{center[0] + halfW*f, center[1] + halfH*f},
			},
			CanvasWidth:  canvasWidth,
			CanvasHeight: canvasHeight,
		})
	}
	return steps
}

// Run executes sweep until every step is loaded, a step fails or ctx is done
func (s *Sweeper) Run(ctx context.Context, sweep *Sweep) error {
	s.mutex.Lock()
	sweep.Status = StatusRunning
	now := time.Now()
	sweep.StartedAt = &now
	sweep.Progress.StartTime = now
	s.mutex.Unlock()

	if s.reporter != nil {
		s.reporter.ReportProgress(sweep)
	}

	for i, step := range sweep.Steps {
		if err := ctx.Err(); err != nil {
			s.completeWithError(sweep, err)
			return err
		}

		result, err := s.load(ctx, sweep, i, step)
		if err != nil {
			err = fmt.Errorf("step %d failed: %w", i, err)
			s.completeWithError(sweep, err)
			return err
		}

		s.updateProgress(sweep, result)
		if s.reporter != nil {
			s.reporter.ReportStepComplete(sweep, result)
		}
	}

	s.completeSuccessfully(sweep)
	if s.reporter != nil {
		s.reporter.ReportSweepComplete(sweep)
	}
	return nil
}

func (s *Sweeper) load(ctx context.Context, sweep *Sweep, index int, step Step) (*StepResult, error) {
	start := time.Now()
	if sweep.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sweep.StepTimeout)
		defer cancel()
	}

	level, tiles := s.renderer.TilesWithinExtent(step.Extent, step.CanvasWidth)
	cached := s.renderer.ScheduleImagesWithinExtent(step.Extent, step.CanvasWidth, step.CanvasHeight)
	if !cached {
		if err := s.waiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	result := &StepResult{
		Index:    index,
		Step:     step,
		Level:    level,
		Tiles:    len(tiles),
		Cached:   cached,
		Duration: time.Since(start),
	}
	s.logger.Debug("prefetch step loaded",
		"sweep", sweep.ID, "step", index, "level", level, "tiles", len(tiles), "cached", cached)
	return result, nil
}

func (s *Sweeper) updateProgress(sweep *Sweep, result *StepResult) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	sweep.Progress.ProcessedSteps++
	sweep.Progress.TilesRequested += int64(result.Tiles)
	sweep.Progress.UpdateThroughput()
}

func (s *Sweeper) completeSuccessfully(sweep *Sweep) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	sweep.Status = StatusCompleted
	now := time.Now()
	sweep.CompletedAt = &now
	sweep.Progress.UpdateThroughput()
}

func (s *Sweeper) completeWithError(sweep *Sweep, err error) {
	s.mutex.Lock()
	sweep.Status = StatusFailed
	if errors.Is(err, context.Canceled) {
		sweep.Status = StatusCanceled
	}
	now := time.Now()
	sweep.CompletedAt = &now
	sweep.Error = err
	s.mutex.Unlock()

	s.logger.Warn("prefetch sweep stopped", "sweep", sweep.ID, "status", sweep.Status.String(), "error", err)
	if s.reporter != nil {
		s.reporter.ReportSweepFailed(sweep, err)
	}
}
