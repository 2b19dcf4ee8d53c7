// internal/creator/creator.go - Tile image creation contracts and the direct policy
package creator

import (
	"context"
	"log/slog"

	"github.com/valpere/rastertiles/internal"
	"github.com/valpere/rastertiles/internal/graphics"
	"github.com/valpere/rastertiles/internal/logging"
	"github.com/valpere/rastertiles/internal/metrics"
	"github.com/valpere/rastertiles/internal/tile"
	"github.com/valpere/rastertiles/pkg/grid"
)

// TileImageCreator builds the drawable image of a single tile
type TileImageCreator interface {
	CreateTileImage(ctx context.Context, t *tile.Tile, target grid.GridGeometry) (*graphics.DrawableImage, error)
}

// Sink receives the outcome of creation jobs
type Sink interface {
	// InstallImage hands a staged image over to the cache
	InstallImage(t *tile.Tile, img *graphics.DrawableImage)
	// Abandon releases a tile without an image so it is requested again later
	Abandon(t *tile.Tile)
	// Loaded reports whether the cache already holds a loaded image for key
	Loaded(key tile.Key) bool
	// Target returns the geometry meshes are currently built for
	Target() grid.GridGeometry
}

// Job creates the images of Tiles when run. Every tile must end in exactly
// one InstallImage or Abandon call on the sink. Meshes are built for the
// sink's target at the time the job runs.
type Job struct {
	Tiles []*tile.Tile
	Run   func(ctx context.Context, sink Sink)
}

// Planner groups tiles needing images into jobs
type Planner interface {
	Plan(tiles []*tile.Tile) []Job
}

// Options holds the collaborators shared by the planners
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (o Options) logger() *slog.Logger {
	return logging.OrNop(o.Logger)
}

// Direct plans one job per tile, each calling the creator synchronously
type Direct struct {
	creator TileImageCreator
	opts    Options
}

// NewDirect creates a direct planner for creator
func NewDirect(creator TileImageCreator, opts Options) *Direct {
	return &Direct{creator: creator, opts: opts}
}

// Plan returns one job per tile
func (d *Direct) Plan(tiles []*tile.Tile) []Job {
	jobs := make([]Job, 0, len(tiles))
	for _, t := range tiles {
		t := t
		jobs = append(jobs, Job{
			Tiles: []*tile.Tile{t},
			Run: func(ctx context.Context, sink Sink) {
				d.run(ctx, sink, t)
			},
		})
	}
	return jobs
}

func (d *Direct) run(ctx context.Context, sink Sink, t *tile.Tile) {
	if err := ctx.Err(); err != nil {
		sink.Abandon(t)
		return
	}
	img, err := d.creator.CreateTileImage(ctx, t, sink.Target())
	if err != nil {
		fail(d.opts, sink, t, nil, err)
		return
	}
	if err := img.Image.Stage(); err != nil {
		fail(d.opts, sink, t, img, err)
		return
	}
	sink.InstallImage(t, img)
}

// fail logs a creation failure, releases img and abandons the tile
func fail(opts Options, sink Sink, t *tile.Tile, img *graphics.DrawableImage, err error) {
	if internal.CodeOf(err) == "" {
		err = internal.NewError(internal.ErrorCodeRetrieval, "tile image creation failed", err)
	}
	opts.logger().Warn("failed to create tile image", "tile", t.String(), "code", internal.CodeOf(err), "error", err)
	opts.Metrics.Failed()
	img.Dispose()
	sink.Abandon(t)
}
