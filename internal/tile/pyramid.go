// internal/tile/pyramid.go - Multi-resolution tile pyramids
package tile

import (
	"context"
	"log/slog"
	"math"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"

	"github.com/valpere/rastertiles/internal"
	"github.com/valpere/rastertiles/internal/logging"
	"github.com/valpere/rastertiles/pkg/grid"
)

// extentEdgeSamples is the number of points taken along each edge of a view
// extent when locating candidate tiles.
const extentEdgeSamples = 16

// Pyramid is the set of levels of one source raster projected onto one
// target grid.
type Pyramid struct {
	source   grid.GridGeometry
	target   grid.GridGeometry
	tileSize int
	levels   []*Level
}

// LevelGeometry returns the native geometry of level i of source: the same
// envelope with each dimension halved i times, rounding up.
func LevelGeometry(source grid.GridGeometry, i int) grid.GridGeometry {
	div := 1 << i
	return source.Resized((source.Width+div-1)/div, (source.Height+div-1)/div)
}

// NewPyramid builds numLevels levels of source placed on target. Levels are
// built concurrently; any level failing to project fails the pyramid.
func NewPyramid(ctx context.Context, source, target grid.GridGeometry, numLevels, tileSize int, logger *slog.Logger) (*Pyramid, error) {
	if numLevels <= 0 {
		return nil, internal.Errorf(internal.ErrorCodePrecondition, "pyramid needs at least one level, got %d", numLevels)
	}
	if err := source.Validate(); err != nil {
		return nil, internal.NewError(internal.ErrorCodePrecondition, "invalid source grid", err)
	}
	if err := target.Validate(); err != nil {
		return nil, internal.NewError(internal.ErrorCodePrecondition, "invalid target grid", err)
	}
	logger = logging.OrNop(logger)

	levels := make([]*Level, numLevels)
	g, ctx := errgroup.WithContext(ctx)
	for i := range levels {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			level, err := NewLevel(i, LevelGeometry(source, i), target, tileSize, logger)
			if err != nil {
				return err
			}
			levels[i] = level
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.Debug("pyramid projected", "levels", numLevels, "tile_size", tileSize, "target", target.String())
	return &Pyramid{source: source, target: target, tileSize: tileSize, levels: levels}, nil
}

// NumLevels returns the number of levels
func (p *Pyramid) NumLevels() int { return len(p.levels) }

// TileSize returns the nominal tile edge length
func (p *Pyramid) TileSize() int { return p.tileSize }

// Source returns the full-resolution source geometry
func (p *Pyramid) Source() grid.GridGeometry { return p.source }

// Target returns the target geometry the pyramid was projected onto
func (p *Pyramid) Target() grid.GridGeometry { return p.target }

// Level returns level i. Indices outside the pyramid panic.
func (p *Pyramid) Level(i int) *Level {
	if i < 0 || i >= len(p.levels) {
		panic(internal.Errorf(internal.ErrorCodePrecondition, "level %d outside pyramid of %d levels", i, len(p.levels)))
	}
	return p.levels[i]
}

// IntersectingTiles returns, in row-major order, the tiles of a level that
// cover part of extent, given in target grid coordinates. Only tiles in the
// candidate index range derived from the extent are instantiated.
func (p *Pyramid) IntersectingTiles(levelIndex int, extent orb.Bound) []*Tile {
	level := p.Level(levelIndex)
	x0, y0, x1, y1 := p.candidateRange(level, extent)

	var tiles []*Tile
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			t := level.Tile(x, y)
			if t.Intersects(extent) {
				tiles = append(tiles, t)
			}
		}
	}
	return tiles
}

// candidateRange maps the extent outline into the level grid and returns the
// inclusive tile index range it covers, padded by one tile. When no sample
// transforms every tile is a candidate.
func (p *Pyramid) candidateRange(level *Level, extent orb.Bound) (x0, y0, x1, y1 int) {
	fromTarget := grid.NewTransform(p.target.CRS, level.geometry.CRS)
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	found := false

	sample := func(tx, ty float64) {
		pt, err := fromTarget.Apply(p.target.GridToCRS(tx, ty))
		if err != nil {
			return
		}
		gx, gy, err := level.geometry.CRSToGrid(pt)
		if err != nil {
			return
		}
		minX, maxX = math.Min(minX, gx), math.Max(maxX, gx)
		minY, maxY = math.Min(minY, gy), math.Max(maxY, gy)
		found = true
	}

	w := extent.Max[0] - extent.Min[0]
	h := extent.Max[1] - extent.Min[1]
	for i := 0; i <= extentEdgeSamples; i++ {
		f := float64(i) / extentEdgeSamples
		sample(extent.Min[0]+f*w, extent.Min[1])
		sample(extent.Min[0]+f*w, extent.Max[1])
		sample(extent.Min[0], extent.Min[1]+f*h)
		sample(extent.Max[0], extent.Min[1]+f*h)
	}
	sample(extent.Center()[0], extent.Center()[1])

	if !found {
		return 0, 0, level.numX - 1, level.numY - 1
	}

	size := float64(level.tileSize)
	x0 = clampIndex(int(math.Floor(minX/size))-1, level.numX)
	x1 = clampIndex(int(math.Floor(maxX/size))+1, level.numX)
	y0 = clampIndex(int(math.Floor(minY/size))-1, level.numY)
	y1 = clampIndex(int(math.Floor(maxY/size))+1, level.numY)
	return x0, y0, x1, y1
}

func clampIndex(i, n int) int {
	return max(0, min(i, n-1))
}

// Dispose releases every level
func (p *Pyramid) Dispose() {
	for _, l := range p.levels {
		l.Dispose()
	}
}
