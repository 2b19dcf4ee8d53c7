// internal/render/renderer.go - Level selection, fallback compositing and interrogation
package render

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/paulmach/orb"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/valpere/rastertiles/internal"
	"github.com/valpere/rastertiles/internal/config"
	"github.com/valpere/rastertiles/internal/graphics"
	"github.com/valpere/rastertiles/internal/logging"
	"github.com/valpere/rastertiles/internal/metrics"
	"github.com/valpere/rastertiles/internal/schedule"
	"github.com/valpere/rastertiles/internal/tile"
	"github.com/valpere/rastertiles/internal/units"
	"github.com/valpere/rastertiles/pkg/grid"
)

// DefaultLevelChangeThreshold is the number of canvas pixels per level cell
// tolerated before switching to a finer level
const DefaultLevelChangeThreshold = 1.0

// Options configures a Renderer
type Options struct {
	Levels   int
	TileSize int
	Imaging  graphics.Imaging
	// Preferences supplies the level change threshold. When nil the
	// threshold is DefaultLevelChangeThreshold until set explicitly.
	Preferences *config.Preferences
	Converter   *units.Converter
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Renderer selects the pyramid level for a view, returns the drawable
// images to composite and keeps the scheduler fed with the tiles the view
// still needs.
type Renderer struct {
	mu               sync.Mutex
	source           grid.GridGeometry
	fromLonLat       grid.Transform
	pyramid          *tile.Pyramid
	scheduler        *schedule.Scheduler
	imaging          graphics.Imaging
	lastPaintedLevel int
	disposed         bool

	threshold   atomic.Float64
	unsubscribe func()

	opts   Options
	logger *slog.Logger
}

// New creates a renderer for the source grid. Project must be called
// before the first frame.
func New(source grid.GridGeometry, scheduler *schedule.Scheduler, opts Options) *Renderer {
	if opts.Converter == nil {
		opts.Converter = units.NewConverter()
	}
	r := &Renderer{
		source:      source,
		fromLonLat:  grid.NewTransform(grid.WGS84, source.CRS),
		scheduler:   scheduler,
		imaging:     opts.Imaging,
		unsubscribe: func() {},
		opts:        opts,
		logger:      logging.OrNop(opts.Logger),
	}

	r.threshold.Store(DefaultLevelChangeThreshold)
	if prefs := opts.Preferences; prefs != nil {
		r.threshold.Store(prefs.LevelChangeThreshold())
		r.unsubscribe = prefs.Subscribe(func(v float64) {
			r.threshold.Store(v)
		})
	}
	return r
}

// LevelChangeThreshold returns the threshold used by level selection
func (r *Renderer) LevelChangeThreshold() float64 {
	return r.threshold.Load()
}

// SetLevelChangeThreshold fixes the threshold. Later preference changes no
// longer affect this renderer.
func (r *Renderer) SetLevelChangeThreshold(threshold float64) {
	r.mu.Lock()
	r.unsubscribe()
	r.unsubscribe = func() {}
	r.mu.Unlock()
	r.threshold.Store(threshold)
}

// SetImaging replaces the display parameters copied onto drawn images
func (r *Renderer) SetImaging(im graphics.Imaging) {
	r.mu.Lock()
	r.imaging = im
	r.mu.Unlock()
}

// LastPaintedLevel returns the level selected by the last rendered frame
func (r *Renderer) LastPaintedLevel() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastPaintedLevel
}

// Pyramid returns the current pyramid, or nil before Project
func (r *Renderer) Pyramid() *tile.Pyramid {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pyramid
}

// Project rebuilds the pyramid for target. Cached images are kept and
// their meshes are rebuilt for the new geometry.
func (r *Renderer) Project(ctx context.Context, target grid.GridGeometry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.disposed {
		return internal.Errorf(internal.ErrorCodePrecondition, "renderer used after dispose")
	}
	pyramid, err := tile.NewPyramid(ctx, r.source, target, r.opts.Levels, r.opts.TileSize, r.logger)
	if err != nil {
		return err
	}
	if r.pyramid != nil {
		r.pyramid.Dispose()
	}
	r.pyramid = pyramid
	r.scheduler.SetTarget(target)
	if r.lastPaintedLevel >= pyramid.NumLevels() {
		r.lastPaintedLevel = pyramid.NumLevels() - 1
	}

	r.remesh(target)
	r.logger.Info("projected tile pyramid", "target", target.String(), "levels", pyramid.NumLevels())
	return nil
}

// remesh clones the mesh of every cached image for target. Images whose
// mesh cannot be rebuilt are dropped and recreated on demand. Meshes are
// swapped under the cache shard lock, and entries replaced since the
// snapshot are left alone.
func (r *Renderer) remesh(target grid.GridGeometry) {
	cache := r.scheduler.Cache()

	type entry struct {
		key tile.Key
		img *graphics.DrawableImage
	}
	var entries []entry
	cache.Range(func(k tile.Key, img *graphics.DrawableImage) bool {
		entries = append(entries, entry{k, img})
		return true
	})

	for _, e := range entries {
		e := e
		cache.Update(e.key, func(img *graphics.DrawableImage) bool {
			if img != e.img || img.Mesh == nil || img.Mesh.Target().Equal(target) {
				return true
			}
			mesh, err := img.Mesh.Clone(target)
			if err != nil {
				r.logger.Warn("failed to rebuild tile mesh", "tile", e.key.String(), "error", err)
				return false
			}
			img.Mesh.Dispose()
			img.Mesh = mesh
			return true
		})
	}
	r.opts.Metrics.SetCached(cache.Len())
}

// SelectLevel returns the coarsest level whose cells are drawn no larger
// than the level change threshold, scanning from the coarsest level down
func (r *Renderer) SelectLevel(extent orb.Bound, canvasWidth int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pyramid == nil {
		return 0
	}
	return r.selectLevel(extent, canvasWidth)
}

func (r *Renderer) selectLevel(extent orb.Bound, canvasWidth int) int {
	ratio := float64(canvasWidth) / (extent.Max[0] - extent.Min[0])
	threshold := r.threshold.Load()

	level := r.pyramid.NumLevels() - 1
	for level > 0 && r.pyramid.Level(level).PixelDensity()*ratio > threshold {
		level--
	}
	return level
}

// GetImagesToRender returns the images to draw for a view extent in target
// grid coordinates on a canvas of the given size. Coarser fallback images
// come first. Tiles without a usable image are scheduled and never waited
// for.
func (r *Renderer) GetImagesToRender(extent orb.Bound, canvasWidth, canvasHeight int) []*graphics.DrawableImage {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pyramid == nil || !validCanvas(extent, canvasWidth, canvasHeight) {
		return nil
	}
	r.lastPaintedLevel = r.selectLevel(extent, canvasWidth)
	r.opts.Metrics.SetLevel(r.lastPaintedLevel)
	return r.imagesWithinExtent(extent, r.lastPaintedLevel)
}

// ScheduleImagesWithinExtent schedules every tile a frame of the view
// would need without drawing it. It reports whether no creation job is
// outstanding.
func (r *Renderer) ScheduleImagesWithinExtent(extent orb.Bound, canvasWidth, canvasHeight int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pyramid == nil || !validCanvas(extent, canvasWidth, canvasHeight) {
		return true
	}
	r.imagesWithinExtent(extent, r.selectLevel(extent, canvasWidth))
	return r.scheduler.Pending() == 0
}

// TilesWithinExtent returns the level a frame of the view would use and
// its tiles intersecting extent
func (r *Renderer) TilesWithinExtent(extent orb.Bound, canvasWidth int) (int, []*tile.Tile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pyramid == nil {
		return 0, nil
	}
	level := r.selectLevel(extent, canvasWidth)
	return level, r.pyramid.IntersectingTiles(level, extent)
}

func validCanvas(extent orb.Bound, w, h int) bool {
	return w > 0 && h > 0 && extent.Max[0] > extent.Min[0] && extent.Max[1] > extent.Min[1]
}

// levelFrame is what one level contributes to a frame
type levelFrame struct {
	drawables []*graphics.DrawableImage
	needing   []*tile.Tile
	needLower bool
}

// frameAt collects the cached images of the tiles of level within extent and
// the tiles that still need one. It schedules nothing.
func (r *Renderer) frameAt(extent orb.Bound, level int) levelFrame {
	cache := r.scheduler.Cache()
	tiles := r.pyramid.IntersectingTiles(level, extent)

	frame := levelFrame{drawables: make([]*graphics.DrawableImage, 0, len(tiles))}
	for _, t := range tiles {
		img, ok := cache.Get(t.Key())
		if !ok || img.Image == nil {
			frame.needing = append(frame.needing, t)
			frame.needLower = true
			continue
		}

		switch img.Image.Status() {
		case graphics.StatusFailed, graphics.StatusInvalid:
			frame.needing = append(frame.needing, t)
			frame.needLower = true
		default:
			img.Image.SetImaging(r.imaging)
			if img.Image.Status() != graphics.StatusLoaded {
				frame.needLower = true
			}
			frame.drawables = append(frame.drawables, img)
		}
	}
	return frame
}

// imagesWithinExtent composes the frames of level and of coarser levels
// while the finer one is incomplete, then schedules the tiles level needs
// and cancels jobs it no longer needs.
func (r *Renderer) imagesWithinExtent(extent orb.Bound, level int) []*graphics.DrawableImage {
	var (
		layers  [][]*graphics.DrawableImage
		needing []*tile.Tile
	)
	for l := level; l < r.pyramid.NumLevels(); l++ {
		frame := r.frameAt(extent, l)
		if l == level {
			needing = frame.needing
		}
		layers = append(layers, frame.drawables)
		if !frame.needLower {
			break
		}
	}

	if len(needing) > 0 {
		if err := r.scheduler.Submit(needing); err != nil {
			r.logger.Warn("failed to schedule tile images", "level", level, "tiles", len(needing), "error", err)
		}
	}
	r.scheduler.CancelStaleJobs(needing)

	total := 0
	for _, layer := range layers {
		total += len(layer)
	}
	drawables := make([]*graphics.DrawableImage, 0, total)
	for i := len(layers) - 1; i >= 0; i-- {
		drawables = append(drawables, layers[i]...)
	}
	return drawables
}

// Interrogate returns the raw value under a longitude/latitude position in
// the level last painted, converted to unit when unit is set. Samples equal
// to the image's no-data value yield NaN, as do positions without a loaded
// tile image.
func (r *Renderer) Interrogate(lonlat orb.Point, unit string) (float64, error) {
	return r.interrogate(lonlat, unit, nil)
}

// InterrogateNoData is Interrogate with an explicit no-data sentinel
func (r *Renderer) InterrogateNoData(lonlat orb.Point, unit string, noData float64) (float64, error) {
	return r.interrogate(lonlat, unit, &noData)
}

func (r *Renderer) interrogate(lonlat orb.Point, unit string, noData *float64) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pyramid == nil {
		return math.NaN(), internal.Errorf(internal.ErrorCodePrecondition, "renderer has not been projected")
	}

	p, err := r.fromLonLat.Apply(lonlat)
	if err != nil {
		return math.NaN(), internal.NewError(internal.ErrorCodeTransform,
			fmt.Sprintf("cannot interrogate (%g, %g)", lonlat.Lon(), lonlat.Lat()), err)
	}
	level := r.pyramid.Level(r.lastPaintedLevel)
	gx, gy, err := level.TransformToGrid(p[0], p[1])
	if err != nil {
		return math.NaN(), err
	}

	t := level.TileAt(gx, gy)
	if t == nil {
		return math.NaN(), nil
	}
	img, ok := r.scheduler.Cache().Get(t.Key())
	if !ok {
		return math.NaN(), nil
	}
	cmap, ok := img.Image.(graphics.ColormappedImage)
	if !ok {
		return math.NaN(), nil
	}

	value := cmap.Value(int(gx)-t.Rect.X, int(gy)-t.Rect.Y)
	sentinel := cmap.NoDataValue()
	if noData != nil {
		sentinel = *noData
	}
	if math.IsNaN(value) || matchesNoData(value, sentinel) {
		return math.NaN(), nil
	}

	dataUnit := cmap.DataUnit()
	if unit == "" || dataUnit == "" || unit == dataUnit {
		return value, nil
	}
	return r.opts.Converter.Convert(value, dataUnit, unit)
}

// matchesNoData compares at sample precision
func matchesNoData(v, sentinel float64) bool {
	if math.IsNaN(sentinel) {
		return math.IsNaN(v)
	}
	return float32(v) == float32(sentinel)
}

// Dispose tears down the scheduler, which waits for running jobs before
// clearing the cache, then releases the pyramid and detaches from
// preferences. The renderer cannot be used afterwards.
func (r *Renderer) Dispose(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.disposed {
		return nil
	}
	r.disposed = true

	var err error
	err = multierr.Append(err, r.scheduler.Teardown(ctx))
	if r.pyramid != nil {
		r.pyramid.Dispose()
		r.pyramid = nil
	}
	r.unsubscribe()
	r.unsubscribe = func() {}
	return err
}
