// pkg/grid/crs.go - Coordinate reference systems and transforms between them
package grid

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// ErrNotInvertible is returned when a point has no image under a transform
var ErrNotInvertible = errors.New("transform not invertible at point")

// MaxMercatorLatitude is the latitude at which web mercator y reaches the
// square world extent.
const MaxMercatorLatitude = 85.05112877980659

// lonLatEpsilon absorbs rounding at the antimeridian and the poles.
const lonLatEpsilon = 1e-9

// CRS is a coordinate reference system that can convert to and from
// geographic longitude/latitude, which acts as the pivot between systems.
type CRS interface {
	Name() string
	ToLonLat(p orb.Point) (orb.Point, error)
	FromLonLat(p orb.Point) (orb.Point, error)
}

// Well known coordinate reference systems
var (
	WGS84       CRS = geographic{}
	WebMercator CRS = mercator{}
)

type geographic struct{}

func (geographic) Name() string { return "EPSG:4326" }

func (geographic) ToLonLat(p orb.Point) (orb.Point, error) {
	if err := checkLonLat(p, 90); err != nil {
		return orb.Point{}, err
	}
	return p, nil
}

func (geographic) FromLonLat(p orb.Point) (orb.Point, error) {
	if err := checkLonLat(p, 90); err != nil {
		return orb.Point{}, err
	}
	return p, nil
}

type mercator struct{}

func (mercator) Name() string { return "EPSG:3857" }

func (mercator) ToLonLat(p orb.Point) (orb.Point, error) {
	if !finite(p) {
		return orb.Point{}, pointError("EPSG:3857", p)
	}
	return project.Mercator.ToWGS84(p), nil
}

func (mercator) FromLonLat(p orb.Point) (orb.Point, error) {
	if err := checkLonLat(p, MaxMercatorLatitude); err != nil {
		return orb.Point{}, err
	}
	return project.WGS84.ToMercator(p), nil
}

// cartesian is a planar system whose coordinates are passed through to the
// lon/lat pivot unchanged. Two cartesian systems are related by identity.
type cartesian struct {
	name string
}

// Cartesian returns a planar coordinate system with the given name
func Cartesian(name string) CRS {
	return cartesian{name: name}
}

func (c cartesian) Name() string { return c.name }

func (c cartesian) ToLonLat(p orb.Point) (orb.Point, error) {
	if !finite(p) {
		return orb.Point{}, pointError(c.name, p)
	}
	return p, nil
}

func (c cartesian) FromLonLat(p orb.Point) (orb.Point, error) {
	return c.ToLonLat(p)
}

// LookupCRS resolves a coordinate reference system by name
func LookupCRS(name string) (CRS, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "EPSG:4326", "WGS84", "CRS:84":
		return WGS84, nil
	case "EPSG:3857", "EPSG:900913", "WEBMERCATOR":
		return WebMercator, nil
	case "", "CARTESIAN", "PIXEL":
		return Cartesian("cartesian"), nil
	default:
		return nil, fmt.Errorf("unknown coordinate reference system %q", name)
	}
}

// SameCRS reports whether two systems are the same by name
func SameCRS(a, b CRS) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Name() == b.Name()
}

// Transform converts points from one coordinate reference system to another
type Transform struct {
	src CRS
	dst CRS
}

// NewTransform creates a transform from src to dst
func NewTransform(src, dst CRS) Transform {
	return Transform{src: src, dst: dst}
}

// Identity reports whether the transform leaves points unchanged
func (t Transform) Identity() bool {
	return SameCRS(t.src, t.dst)
}

// Apply transforms a single point
func (t Transform) Apply(p orb.Point) (orb.Point, error) {
	if t.Identity() {
		if !finite(p) {
			return orb.Point{}, pointError(t.src.Name(), p)
		}
		return p, nil
	}
	ll, err := t.src.ToLonLat(p)
	if err != nil {
		return orb.Point{}, err
	}
	return t.dst.FromLonLat(ll)
}

// Inverse returns the transform in the opposite direction
func (t Transform) Inverse() Transform {
	return Transform{src: t.dst, dst: t.src}
}

func checkLonLat(p orb.Point, maxLat float64) error {
	if !finite(p) || math.Abs(p.Lat()) > maxLat+lonLatEpsilon || math.Abs(p.Lon()) > 180+lonLatEpsilon {
		return pointError("EPSG:4326", p)
	}
	return nil
}

func finite(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsNaN(p[1]) && !math.IsInf(p[0], 0) && !math.IsInf(p[1], 0)
}

func pointError(crs string, p orb.Point) error {
	return fmt.Errorf("%w: (%g, %g) in %s", ErrNotInvertible, p[0], p[1], crs)
}
