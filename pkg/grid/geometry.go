// pkg/grid/geometry.go - Grid geometries: a raster grid placed in a CRS
package grid

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// GridGeometry places a Width x Height cell grid over Envelope in CRS.
// Grid row 0 is the northern (max Y) edge; cell corners map onto the
// envelope edges.
type GridGeometry struct {
	CRS      CRS
	Envelope orb.Bound
	Width    int
	Height   int
}

// NewGridGeometry creates a grid geometry after validating its dimensions
func NewGridGeometry(crs CRS, envelope orb.Bound, width, height int) (GridGeometry, error) {
	g := GridGeometry{CRS: crs, Envelope: envelope, Width: width, Height: height}
	if err := g.Validate(); err != nil {
		return GridGeometry{}, err
	}
	return g, nil
}

// Validate checks that the geometry describes a usable, non-degenerate grid
func (g GridGeometry) Validate() error {
	if g.CRS == nil {
		return fmt.Errorf("grid geometry has no coordinate reference system")
	}
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("invalid grid dimensions %dx%d", g.Width, g.Height)
	}
	if !(g.Envelope.Max[0] > g.Envelope.Min[0]) || !(g.Envelope.Max[1] > g.Envelope.Min[1]) {
		return fmt.Errorf("degenerate envelope %v", g.Envelope)
	}
	return nil
}

// Range returns the full cell range of the grid
func (g GridGeometry) Range() Rect {
	return Rect{Width: g.Width, Height: g.Height}
}

// Bound returns the grid extent in grid coordinates
func (g GridGeometry) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{float64(g.Width), float64(g.Height)}}
}

// CellSize returns the CRS span of a single cell in x and y
func (g GridGeometry) CellSize() (dx, dy float64) {
	dx = (g.Envelope.Max[0] - g.Envelope.Min[0]) / float64(g.Width)
	dy = (g.Envelope.Max[1] - g.Envelope.Min[1]) / float64(g.Height)
	return dx, dy
}

// GridToCRS maps a grid coordinate (cell corner convention) into the CRS
func (g GridGeometry) GridToCRS(gx, gy float64) orb.Point {
	dx, dy := g.CellSize()
	return orb.Point{g.Envelope.Min[0] + gx*dx, g.Envelope.Max[1] - gy*dy}
}

// CRSToGrid maps a CRS coordinate into grid space
func (g GridGeometry) CRSToGrid(p orb.Point) (gx, gy float64, err error) {
	dx, dy := g.CellSize()
	gx = (p[0] - g.Envelope.Min[0]) / dx
	gy = (g.Envelope.Max[1] - p[1]) / dy
	if math.IsNaN(gx) || math.IsNaN(gy) || math.IsInf(gx, 0) || math.IsInf(gy, 0) {
		return 0, 0, fmt.Errorf("%w: (%g, %g) has no grid position", ErrNotInvertible, p[0], p[1])
	}
	return gx, gy, nil
}

// RectEnvelope returns the CRS envelope covered by a cell rectangle
func (g GridGeometry) RectEnvelope(r Rect) orb.Bound {
	nw := g.GridToCRS(float64(r.X), float64(r.Y))
	se := g.GridToCRS(float64(r.MaxX()), float64(r.MaxY()))
	return orb.Bound{Min: orb.Point{nw[0], se[1]}, Max: orb.Point{se[0], nw[1]}}
}

// Sub returns the geometry of a cell rectangle as a grid of its own
func (g GridGeometry) Sub(r Rect) GridGeometry {
	return GridGeometry{CRS: g.CRS, Envelope: g.RectEnvelope(r), Width: r.Width, Height: r.Height}
}

// Resized returns a geometry over the same envelope with a new cell count
func (g GridGeometry) Resized(width, height int) GridGeometry {
	return GridGeometry{CRS: g.CRS, Envelope: g.Envelope, Width: width, Height: height}
}

// Equal reports whether both geometries describe the same grid
func (g GridGeometry) Equal(o GridGeometry) bool {
	return SameCRS(g.CRS, o.CRS) && g.Envelope.Equal(o.Envelope) && g.Width == o.Width && g.Height == o.Height
}

// String returns a string representation of the grid geometry
func (g GridGeometry) String() string {
	name := "<nil>"
	if g.CRS != nil {
		name = g.CRS.Name()
	}
	return fmt.Sprintf("%s %dx%d %v", name, g.Width, g.Height, g.Envelope)
}
