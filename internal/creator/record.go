// internal/creator/record.go - Tile images backed by a data retrieval service
package creator

import (
	"context"
	"sort"
	"sync"

	"github.com/valpere/rastertiles/internal"
	"github.com/valpere/rastertiles/internal/graphics"
	"github.com/valpere/rastertiles/internal/raster"
	"github.com/valpere/rastertiles/internal/source"
	"github.com/valpere/rastertiles/internal/tile"
	"github.com/valpere/rastertiles/pkg/grid"
)

// Record creates tile images whose samples come from a Retriever. Images are
// returned unstaged; their data is fetched when they are staged.
type Record struct {
	retriever source.Retriever
	target    graphics.Target
	opts      Options
}

// NewRecord creates a record creator reading from retriever and allocating
// images on target
func NewRecord(retriever source.Retriever, target graphics.Target, opts Options) *Record {
	return &Record{retriever: retriever, target: target, opts: opts}
}

// CreateTileImage builds an unstaged image and mesh for t
func (r *Record) CreateTileImage(ctx context.Context, t *tile.Tile, target grid.GridGeometry) (*graphics.DrawableImage, error) {
	img, _, err := r.createImage(ctx, t, target)
	return img, err
}

// Planner returns the batched planner when batched is set and the direct
// planner otherwise
func (r *Record) Planner(batched bool) Planner {
	if batched {
		return &Batched{record: r}
	}
	return NewDirect(r, r.opts)
}

func (r *Record) createImage(ctx context.Context, t *tile.Tile, target grid.GridGeometry) (*graphics.DrawableImage, *tileData, error) {
	data := &tileData{fetch: func() (*raster.Data, error) {
		return r.retriever.Retrieve(ctx, t.Level, t.Rect)
	}}

	img, err := r.target.InitializeRaster(data.get, t.Rect.Width, t.Rect.Height)
	if err != nil {
		return nil, nil, err
	}
	mesh, err := r.target.ConstructMesh(t.Geometry, target)
	if err != nil {
		img.Dispose()
		return nil, nil, err
	}
	return &graphics.DrawableImage{Image: img, Mesh: mesh}, data, nil
}

// tileData is the data callback of one image. Samples preset from a bulk
// retrieval are used in place of an individual fetch.
type tileData struct {
	mu     sync.Mutex
	preset *raster.Data
	fetch  func() (*raster.Data, error)
}

func (d *tileData) set(data *raster.Data) {
	d.mu.Lock()
	d.preset = data
	d.mu.Unlock()
}

func (d *tileData) get() (*raster.Data, error) {
	d.mu.Lock()
	preset := d.preset
	d.mu.Unlock()
	if preset != nil {
		return preset, nil
	}
	return d.fetch()
}

// Batched plans one job per rectangle of edge-adjacent tiles. Each job
// retrieves its rectangle in one call and slices the result per tile.
type Batched struct {
	record *Record
}

// Plan merges the tiles of each level into rectangles and returns one job
// per rectangle, finest level first
func (b *Batched) Plan(tiles []*tile.Tile) []Job {
	byLevel := make(map[int][]*tile.Tile)
	for _, t := range tiles {
		byLevel[t.Level] = append(byLevel[t.Level], t)
	}
	levels := make([]int, 0, len(byLevel))
	for l := range byLevel {
		levels = append(levels, l)
	}
	sort.Ints(levels)

	var jobs []Job
	for _, level := range levels {
		level := level
		members := byLevel[level]
		rects := make([]grid.Rect, len(members))
		for i, t := range members {
			rects[i] = t.Rect
		}

		for _, merged := range MergeRects(rects) {
			var group []*tile.Tile
			for _, t := range members {
				if merged.ContainsRect(t.Rect) {
					group = append(group, t)
				}
			}
			jobs = append(jobs, Job{
				Tiles: group,
				Run: func(ctx context.Context, sink Sink) {
					b.run(ctx, sink, level, group)
				},
			})
		}
	}
	return jobs
}

type pendingImage struct {
	tile *tile.Tile
	img  *graphics.DrawableImage
	data *tileData
}

func (b *Batched) run(ctx context.Context, sink Sink, level int, group []*tile.Tile) {
	opts := b.record.opts
	target := sink.Target()

	var pending []pendingImage
	for _, t := range group {
		// a fresher image may have been installed since planning
		if sink.Loaded(t.Key()) {
			sink.Abandon(t)
			continue
		}
		img, data, err := b.record.createImage(ctx, t, target)
		if err != nil {
			fail(opts, sink, t, nil, err)
			continue
		}
		pending = append(pending, pendingImage{tile: t, img: img, data: data})
	}
	if len(pending) == 0 {
		return
	}

	if allUnloaded(pending) {
		if err := b.retrieveBulk(ctx, level, pending); err != nil {
			for _, p := range pending {
				fail(opts, sink, p.tile, p.img, err)
			}
			return
		}
	}

	staged := pending[:0]
	for _, p := range pending {
		if err := p.img.Image.Stage(); err != nil {
			fail(opts, sink, p.tile, p.img, err)
			continue
		}
		staged = append(staged, p)
	}
	for _, p := range staged {
		sink.InstallImage(p.tile, p.img)
	}
}

// retrieveBulk fetches the bounding rectangle of pending in one call and
// presets each image's samples with its slice of the result
func (b *Batched) retrieveBulk(ctx context.Context, level int, pending []pendingImage) error {
	bound := pending[0].tile.Rect
	for _, p := range pending[1:] {
		bound = bound.Union(p.tile.Rect)
	}

	bulk, err := b.record.retriever.Retrieve(ctx, level, bound)
	if err != nil {
		return err
	}
	for _, p := range pending {
		sub, err := bulk.Sub(p.tile.Rect)
		if err != nil {
			return internal.NewError(internal.ErrorCodeRetrieval, "failed to slice bulk retrieval", err)
		}
		p.data.set(sub)
	}
	return nil
}

func allUnloaded(pending []pendingImage) bool {
	for _, p := range pending {
		if p.img.Image.Status() != graphics.StatusUnloaded {
			return false
		}
	}
	return true
}

// MergeRects repeatedly merges any two rectangles sharing a full edge until
// no such pair remains. The total area is preserved.
func MergeRects(rects []grid.Rect) []grid.Rect {
	out := append([]grid.Rect(nil), rects...)
	for merged := true; merged; {
		merged = false
	search:
		for i := 0; i < len(out); i++ {
			for j := i + 1; j < len(out); j++ {
				if out[i].SharesEdge(out[j]) {
					out[i] = out[i].Union(out[j])
					out = append(out[:j], out[j+1:]...)
					merged = true
					break search
				}
			}
		}
	}
	return out
}
