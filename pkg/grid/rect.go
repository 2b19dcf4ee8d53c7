// pkg/grid/rect.go - Integer cell rectangles in grid space
package grid

import "fmt"

// Rect is a half-open rectangle of grid cells: [X, X+Width) x [Y, Y+Height)
type Rect struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// NewRect creates a rectangle from its origin and size
func NewRect(x, y, width, height int) Rect {
	return Rect{X: x, Y: y, Width: width, Height: height}
}

// MaxX returns the exclusive right edge
func (r Rect) MaxX() int { return r.X + r.Width }

// MaxY returns the exclusive bottom edge
func (r Rect) MaxY() int { return r.Y + r.Height }

// Empty reports whether the rectangle covers no cells
func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// Area returns the number of cells covered
func (r Rect) Area() int {
	if r.Empty() {
		return 0
	}
	return r.Width * r.Height
}

// Contains reports whether cell (x, y) lies inside the rectangle
func (r Rect) Contains(x, y int) bool {
	return x >= r.X && x < r.MaxX() && y >= r.Y && y < r.MaxY()
}

// ContainsRect reports whether o lies entirely inside r
func (r Rect) ContainsRect(o Rect) bool {
	return o.X >= r.X && o.Y >= r.Y && o.MaxX() <= r.MaxX() && o.MaxY() <= r.MaxY()
}

// Intersects reports whether the two rectangles share at least one cell
func (r Rect) Intersects(o Rect) bool {
	return r.X < o.MaxX() && o.X < r.MaxX() && r.Y < o.MaxY() && o.Y < r.MaxY()
}

// Union returns the smallest rectangle containing both r and o
func (r Rect) Union(o Rect) Rect {
	if r.Empty() {
		return o
	}
	if o.Empty() {
		return r
	}
	x0, y0 := min(r.X, o.X), min(r.Y, o.Y)
	x1, y1 := max(r.MaxX(), o.MaxX()), max(r.MaxY(), o.MaxY())
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// SharesEdge reports whether r and o touch along one complete edge, i.e.
// their union is itself a rectangle with exactly the area of both.
func (r Rect) SharesEdge(o Rect) bool {
	if r.Empty() || o.Empty() {
		return false
	}
	if r.X == o.X && r.Width == o.Width {
		return r.MaxY() == o.Y || o.MaxY() == r.Y
	}
	if r.Y == o.Y && r.Height == o.Height {
		return r.MaxX() == o.X || o.MaxX() == r.X
	}
	return false
}

// String returns a string representation of the rectangle
func (r Rect) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.Width, r.Height, r.X, r.Y)
}
