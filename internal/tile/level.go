// internal/tile/level.go - One resolution layer of a tile pyramid
package tile

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"
	"go.uber.org/atomic"

	"github.com/valpere/rastertiles/internal"
	"github.com/valpere/rastertiles/internal/logging"
	"github.com/valpere/rastertiles/pkg/grid"
)

// slot holds one lazily created tile
type slot struct {
	once sync.Once
	tile *Tile
}

// Level owns the tiles of one resolution and places them in both the level
// grid and the target grid.
type Level struct {
	index    int
	tileSize int
	geometry grid.GridGeometry
	target   grid.GridGeometry
	toTarget grid.Transform
	density  float64
	numX     int
	numY     int
	slots    []slot
	created  atomic.Int64
	disposed atomic.Bool
	logger   *slog.Logger
}

// NewLevel creates level index with native geometry placed on target.
// It fails with a transform error when the pixel density cannot be derived.
func NewLevel(index int, geometry, target grid.GridGeometry, tileSize int, logger *slog.Logger) (*Level, error) {
	if tileSize <= 0 {
		return nil, internal.Errorf(internal.ErrorCodePrecondition, "tile size must be positive, got %d", tileSize)
	}
	l := &Level{
		index:    index,
		tileSize: tileSize,
		geometry: geometry,
		target:   target,
		toTarget: grid.NewTransform(geometry.CRS, target.CRS),
		numX:     (geometry.Width + tileSize - 1) / tileSize,
		numY:     (geometry.Height + tileSize - 1) / tileSize,
		logger:   logging.OrNop(logger),
	}
	l.slots = make([]slot, l.numX*l.numY)

	density, err := l.computeDensity()
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeTransform,
			fmt.Sprintf("cannot transform level %d into target", index), err)
	}
	l.density = density
	return l, nil
}

// Index returns the level number, 0 being full resolution
func (l *Level) Index() int { return l.index }

// TileSize returns the nominal tile edge length in cells
func (l *Level) TileSize() int { return l.tileSize }

// Geometry returns the native grid geometry of the level
func (l *Level) Geometry() grid.GridGeometry { return l.geometry }

// NumXTiles returns the number of tile columns
func (l *Level) NumXTiles() int { return l.numX }

// NumYTiles returns the number of tile rows
func (l *Level) NumYTiles() int { return l.numY }

// PixelDensity returns the number of level grid cells covered by one target
// grid pixel along its diagonal. Coarser levels have larger densities.
func (l *Level) PixelDensity() float64 { return l.density }

// Created returns how many tiles have been instantiated
func (l *Level) Created() int64 { return l.created.Load() }

// Tile returns the tile at index (x, y), creating it on first use.
// Indices outside the tile array are a programming error and panic.
func (l *Level) Tile(x, y int) *Tile {
	if l.disposed.Load() {
		panic(internal.Errorf(internal.ErrorCodePrecondition, "level %d used after dispose", l.index))
	}
	if x < 0 || y < 0 || x >= l.numX || y >= l.numY {
		panic(internal.Errorf(internal.ErrorCodePrecondition,
			"tile index (%d, %d) outside %dx%d tiles of level %d", x, y, l.numX, l.numY, l.index))
	}
	s := &l.slots[y*l.numX+x]
	s.once.Do(func() {
		s.tile = l.createTile(x, y)
		l.created.Inc()
	})
	return s.tile
}

// TileAt returns the tile containing level grid coordinate (gx, gy), or nil
// when the point lies outside the level.
func (l *Level) TileAt(gx, gy float64) *Tile {
	if math.IsNaN(gx) || math.IsNaN(gy) || gx < 0 || gy < 0 {
		return nil
	}
	// compare before converting so huge coordinates cannot overflow int
	if gx >= float64(l.numX*l.tileSize) || gy >= float64(l.numY*l.tileSize) {
		return nil
	}
	x := int(gx / float64(l.tileSize))
	y := int(gy / float64(l.tileSize))
	t := l.Tile(x, y)
	if !t.GridContains(int(gx), int(gy)) {
		return nil
	}
	return t
}

// PopulateAll eagerly creates every tile of the level
func (l *Level) PopulateAll() {
	for y := 0; y < l.numY; y++ {
		for x := 0; x < l.numX; x++ {
			l.Tile(x, y)
		}
	}
}

// TransformToGrid converts a point in the level CRS into level grid space
func (l *Level) TransformToGrid(x, y float64) (gx, gy float64, err error) {
	gx, gy, err = l.geometry.CRSToGrid(orb.Point{x, y})
	if err != nil {
		return 0, 0, internal.NewError(internal.ErrorCodeTransform,
			fmt.Sprintf("cannot place (%g, %g) on level %d", x, y, l.index), err)
	}
	return gx, gy, nil
}

// TileRect returns the level grid cells of tile (x, y). Edge tiles are
// smaller than the nominal tile size.
func (l *Level) TileRect(x, y int) grid.Rect {
	tx, ty := x*l.tileSize, y*l.tileSize
	return grid.NewRect(tx, ty,
		min(l.tileSize, l.geometry.Width-tx),
		min(l.tileSize, l.geometry.Height-ty))
}

// Dispose marks the level disposed. Tiles already handed out stay valid, but
// using the level afterwards panics.
func (l *Level) Dispose() {
	l.disposed.Store(true)
}

func (l *Level) createTile(x, y int) *Tile {
	rect := l.TileRect(x, y)
	geometry := l.geometry.Sub(rect)

	border, err := l.computeBorder(rect)
	if err != nil {
		l.logger.Debug("failed to create tile border", "level", l.index, "x", x, "y", y, "error", err)
		border = nil
	}

	return &Tile{
		Level:    l.index,
		X:        x,
		Y:        y,
		Rect:     rect,
		Geometry: geometry,
		Border:   border,
	}
}

// computeDensity maps a target pixel diagonal near the level centre back
// into the level grid and measures it. When the centre is not on the target
// grid a point at half width and three quarter height is used instead.
func (l *Level) computeDensity() (float64, error) {
	env := l.geometry.Envelope
	center := orb.Point{env.Min[0] + (env.Max[0]-env.Min[0])/2, env.Min[1] + (env.Max[1]-env.Min[1])/2}

	mx, my := math.NaN(), math.NaN()
	if p, err := l.toTarget.Apply(center); err == nil {
		if gx, gy, err := l.target.CRSToGrid(p); err == nil {
			mx, my = gx, gy
		}
	}
	if math.IsNaN(mx) || math.IsNaN(my) ||
		mx < 0 || mx > float64(l.target.Width-1) ||
		my < 0 || my > float64(l.target.Height-1) {
		mx = float64(l.target.Width) * 0.5
		my = float64(l.target.Height) * 0.75
	}

	fromTarget := l.toTarget.Inverse()
	var pts [2]orb.Point
	for i, tp := range [2]orb.Point{{mx, my}, {mx + 1, my + 1}} {
		p, err := fromTarget.Apply(l.target.GridToCRS(tp[0], tp[1]))
		if err != nil {
			return 0, err
		}
		gx, gy, err := l.geometry.CRSToGrid(p)
		if err != nil {
			return 0, err
		}
		pts[i] = orb.Point{gx, gy}
	}

	dist := math.Hypot(pts[1][0]-pts[0][0], pts[1][1]-pts[0][1])
	if !(dist > 0) || math.IsInf(dist, 0) {
		return 0, fmt.Errorf("degenerate pixel distance %g", dist)
	}
	return math.Sqrt2 / dist, nil
}

// computeBorder samples the tile outline, moves it onto the target grid and
// clips it to the target grid bounds. Level 0, and levels finer than the
// display, sample at density 1.
func (l *Level) computeBorder(rect grid.Rect) (orb.Polygon, error) {
	density := l.density
	if l.index == 0 || density < 1 {
		density = 1
	}
	segX := max(1, int(math.Ceil(float64(rect.Width)/(4*density))))
	segY := max(1, int(math.Ceil(float64(rect.Height)/(4*density))))

	x0, y0 := float64(rect.X), float64(rect.Y)
	x1, y1 := float64(rect.MaxX()), float64(rect.MaxY())
	outline := make([]orb.Point, 0, 2*(segX+segY)+1)
	for i := 0; i < segX; i++ {
		outline = append(outline, orb.Point{x0 + (x1-x0)*float64(i)/float64(segX), y0})
	}
	for i := 0; i < segY; i++ {
		outline = append(outline, orb.Point{x1, y0 + (y1-y0)*float64(i)/float64(segY)})
	}
	for i := 0; i < segX; i++ {
		outline = append(outline, orb.Point{x1 - (x1-x0)*float64(i)/float64(segX), y1})
	}
	for i := 0; i < segY; i++ {
		outline = append(outline, orb.Point{x0, y1 - (y1-y0)*float64(i)/float64(segY)})
	}

	ring := make(orb.Ring, 0, len(outline)+1)
	for _, gp := range outline {
		p, err := l.toTarget.Apply(l.geometry.GridToCRS(gp[0], gp[1]))
		if err != nil {
			continue
		}
		tx, ty, err := l.target.CRSToGrid(p)
		if err != nil {
			continue
		}
		ring = append(ring, orb.Point{tx, ty})
	}
	if len(ring) == 0 {
		return nil, fmt.Errorf("no point of %s transforms into %s", rect, l.target.CRS.Name())
	}
	if len(ring) < 3 {
		return orb.Polygon{}, nil
	}
	ring = append(ring, ring[0])

	clipped := clip.Polygon(l.target.Bound(), orb.Polygon{ring})
	if len(clipped) == 0 || math.Abs(planar.Area(clipped)) == 0 {
		return orb.Polygon{}, nil
	}
	return clipped, nil
}
