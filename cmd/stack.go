// cmd/stack.go - Rendering stack shared by the commands
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/valpere/rastertiles/internal/config"
	"github.com/valpere/rastertiles/internal/creator"
	"github.com/valpere/rastertiles/internal/graphics"
	"github.com/valpere/rastertiles/internal/imagecache"
	"github.com/valpere/rastertiles/internal/jobs"
	"github.com/valpere/rastertiles/internal/logging"
	"github.com/valpere/rastertiles/internal/metrics"
	"github.com/valpere/rastertiles/internal/render"
	"github.com/valpere/rastertiles/internal/schedule"
	"github.com/valpere/rastertiles/internal/source"
	"github.com/valpere/rastertiles/pkg/grid"
)

// stack owns everything a command needs to render frames
type stack struct {
	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	prefs     *config.Preferences
	retriever source.Retriever
	pool      *jobs.Pool
	scheduler *schedule.Scheduler
	renderer  *render.Renderer
	target    grid.GridGeometry
}

// loadConfig loads the configuration and builds its logger
func loadConfig() (*config.Config, *slog.Logger, io.Closer, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	level := cfg.Logging.Level
	if cfg.Logging.Verbose {
		level = "debug"
	}
	logger, closer, err := logging.New(logging.Options{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, closer, nil
}

// newStack opens the configured source and projects a renderer onto the
// configured target. With watch set the level change threshold follows
// edits of the config file.
func newStack(ctx context.Context, watch bool) (s *stack, err error) {
	cfg, logger, closer, err := loadConfig()
	if err != nil {
		return nil, err
	}
	s = &stack{cfg: cfg, logger: logger, logCloser: closer, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			err = multierr.Append(err, s.Close(ctx))
			s = nil
		}
	}()

	if s.metrics, err = metrics.New(s.registry); err != nil {
		return s, fmt.Errorf("failed to register metrics: %w", err)
	}
	if s.target, err = cfg.TargetGeometry(); err != nil {
		return s, fmt.Errorf("invalid target: %w", err)
	}
	if s.retriever, err = source.NewRetriever(ctx, cfg); err != nil {
		return s, fmt.Errorf("failed to open source: %w", err)
	}
	sourceGrid, err := s.retriever.Manifest().Grid()
	if err != nil {
		return s, fmt.Errorf("invalid source grid: %w", err)
	}

	if watch {
		s.prefs = config.WatchPreferences(viper.GetViper(), logger)
	} else {
		s.prefs = config.NewPreferences(cfg.Render.LevelChangeThreshold, logger)
	}

	record := creator.NewRecord(s.retriever,
		graphics.NewSoftware(cfg.Render.ValueMin, cfg.Render.ValueMax),
		creator.Options{Logger: logger, Metrics: s.metrics})
	s.pool = jobs.NewPool(cfg.Scheduler.Workers, logger)
	s.scheduler = schedule.New(imagecache.New(), s.pool, record.Planner(cfg.Scheduler.Batched), schedule.Options{
		JobTimeout: cfg.Scheduler.JobTimeout,
		Metrics:    s.metrics,
		Logger:     logger,
	})
	s.renderer = render.New(sourceGrid, s.scheduler, render.Options{
		Levels:   cfg.Tileset.Levels,
		TileSize: cfg.Tileset.TileSize,
		Imaging: graphics.Imaging{
			Brightness:  cfg.Render.Brightness,
			Contrast:    cfg.Render.Contrast,
			Interpolate: cfg.Render.Interpolate,
		},
		Preferences: s.prefs,
		Metrics:     s.metrics,
		Logger:      logger,
	})
	if err = s.renderer.Project(ctx, s.target); err != nil {
		return s, fmt.Errorf("failed to project tiles: %w", err)
	}

	logger.Debug("rendering stack ready",
		"source", s.retriever.Manifest().Name, "target", s.target.String(),
		"levels", cfg.Tileset.Levels, "tile_size", cfg.Tileset.TileSize, "batched", cfg.Scheduler.Batched)
	return s, nil
}

// Close disposes the renderer, stops the workers and releases the source
// and log file
func (s *stack) Close(ctx context.Context) error {
	var err error
	if s.renderer != nil {
		err = multierr.Append(err, s.renderer.Dispose(ctx))
	}
	if s.pool != nil {
		s.pool.Close()
	}
	if s.retriever != nil {
		err = multierr.Append(err, s.retriever.Close())
	}
	if s.logCloser != nil {
		err = multierr.Append(err, s.logCloser.Close())
	}
	return err
}
