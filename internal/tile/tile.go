// internal/tile/tile.go - Tile descriptors
package tile

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"

	"github.com/valpere/rastertiles/pkg/grid"
)

// Key identifies a tile independently of the target it was projected onto,
// so cached images survive a re-projection.
type Key struct {
	Level int
	Rect  grid.Rect
}

// String returns a string representation of the key
func (k Key) String() string {
	return fmt.Sprintf("%d/%d,%d/%dx%d", k.Level, k.Rect.X, k.Rect.Y, k.Rect.Width, k.Rect.Height)
}

// Hash computes an FNV-1a hash of the key
func (k Key) Hash() uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, v := range [...]int{k.Level, k.Rect.X, k.Rect.Y, k.Rect.Width, k.Rect.Height} {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

// Tile is an immutable rectangular region of one level.
//
// Border is the tile outline in target grid space clipped to the target
// grid. A nil Border means it could not be computed and the whole tile is
// used; an empty, non-nil Border means the tile lies outside the target.
type Tile struct {
	Level    int
	X, Y     int
	Rect     grid.Rect
	Geometry grid.GridGeometry
	Border   orb.Polygon
}

// Key returns the cache key of the tile
func (t *Tile) Key() Key {
	return Key{Level: t.Level, Rect: t.Rect}
}

// GridContains reports whether level grid cell (gx, gy) lies in the tile
func (t *Tile) GridContains(gx, gy int) bool {
	return t.Rect.Contains(gx, gy)
}

// Intersects reports whether the tile covers part of extent, given in target
// grid coordinates. Tiles without a border always intersect.
func (t *Tile) Intersects(extent orb.Bound) bool {
	if t.Border == nil {
		return true
	}
	if len(t.Border) == 0 || !t.Border.Bound().Intersects(extent) {
		return false
	}
	clipped := clip.Polygon(extent, t.Border.Clone())
	return len(clipped) > 0 && math.Abs(planar.Area(clipped)) > 0
}

// String returns a string representation of the tile
func (t *Tile) String() string {
	return fmt.Sprintf("tile %d/%d/%d %s", t.Level, t.X, t.Y, t.Rect)
}
