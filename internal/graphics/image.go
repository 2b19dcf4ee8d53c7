// internal/graphics/image.go - Graphics handles consumed by the tile renderer
package graphics

import (
	"github.com/paulmach/orb"
	"github.com/valpere/rastertiles/internal/raster"
	"github.com/valpere/rastertiles/pkg/grid"
)

// Status is the staging state of an image
type Status int

const (
	// StatusUnloaded images have not fetched their data yet
	StatusUnloaded Status = iota
	// StatusStaging images are fetching data
	StatusStaging
	// StatusLoaded images can be drawn
	StatusLoaded
	// StatusFailed images could not fetch their data
	StatusFailed
	// StatusInvalid images were disposed
	StatusInvalid
)

// String returns a string representation of the status
func (s Status) String() string {
	switch s {
	case StatusUnloaded:
		return "unloaded"
	case StatusStaging:
		return "staging"
	case StatusLoaded:
		return "loaded"
	case StatusFailed:
		return "failed"
	case StatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Imaging holds the display parameters applied to tile images
type Imaging struct {
	Brightness  float64 `json:"brightness"`
	Contrast    float64 `json:"contrast"`
	Interpolate bool    `json:"interpolate"`
}

// DefaultImaging leaves pixel values unchanged
func DefaultImaging() Imaging {
	return Imaging{Brightness: 1, Contrast: 1}
}

// Image is a renderable image resource
type Image interface {
	Status() Status
	// Stage fetches the image data. Staging a loaded image is a no-op.
	Stage() error
	Imaging() Imaging
	SetImaging(Imaging)
	Dispose()
}

// ColormappedImage is an image backed by raw data samples
type ColormappedImage interface {
	Image
	// Value returns the raw sample at (x, y) within the image, or NaN when
	// the image holds no data.
	Value(x, y int) float64
	DataUnit() string
	NoDataValue() float64
}

// Mesh places an image onto the target grid
type Mesh interface {
	// Bound returns the mesh extent in target grid coordinates
	Bound() orb.Bound
	// Target returns the geometry the mesh was built for
	Target() grid.GridGeometry
	// Clone builds an equivalent mesh for another target geometry
	Clone(target grid.GridGeometry) (Mesh, error)
	Dispose()
}

// DrawableImage pairs an image with the mesh it is drawn on
type DrawableImage struct {
	Image Image
	Mesh  Mesh
}

// Dispose releases both the image and the mesh
func (d *DrawableImage) Dispose() {
	if d == nil {
		return
	}
	if d.Image != nil {
		d.Image.Dispose()
	}
	if d.Mesh != nil {
		d.Mesh.Dispose()
	}
}

// DataCallback supplies raw samples when an image is staged
type DataCallback func() (*raster.Data, error)

// Target creates graphics resources for a display surface
type Target interface {
	// InitializeRaster creates an unloaded image of the given size whose data
	// comes from callback.
	InitializeRaster(callback DataCallback, width, height int) (ColormappedImage, error)
	// ConstructMesh creates a mesh placing the native grid tile onto target
	ConstructMesh(tile grid.GridGeometry, target grid.GridGeometry) (Mesh, error)
}
