// internal/graphics/software.go - CPU implementation of the graphics target
package graphics

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/paulmach/orb"
	"github.com/valpere/rastertiles/internal"
	"github.com/valpere/rastertiles/internal/raster"
	"github.com/valpere/rastertiles/pkg/grid"
)

// meshEdgeSamples is the number of points taken along each tile edge when
// placing a mesh on the target grid.
const meshEdgeSamples = 8

// Software is a Target that keeps images in memory and previews them as
// grayscale pixels scaled over a value range.
type Software struct {
	// Min and Max map sample values onto black and white. When they are
	// equal each image uses its own data range.
	Min, Max float64
}

// NewSoftware creates a software target for the given value range
func NewSoftware(lo, hi float64) *Software {
	return &Software{Min: lo, Max: hi}
}

// InitializeRaster creates an unloaded image backed by callback
func (s *Software) InitializeRaster(callback DataCallback, width, height int) (ColormappedImage, error) {
	if callback == nil {
		return nil, internal.Errorf(internal.ErrorCodeResource, "raster image requires a data callback")
	}
	if width <= 0 || height <= 0 {
		return nil, internal.Errorf(internal.ErrorCodeResource, "invalid raster size %dx%d", width, height)
	}
	return &RasterImage{
		callback: callback,
		width:    width,
		height:   height,
		imaging:  DefaultImaging(),
		min:      s.Min,
		max:      s.Max,
		noData:   math.NaN(),
	}, nil
}

// ConstructMesh samples the tile outline into target grid space
func (s *Software) ConstructMesh(tile grid.GridGeometry, target grid.GridGeometry) (Mesh, error) {
	bound, err := meshBound(tile, target)
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeResource, "failed to construct mesh", err)
	}
	return &softwareMesh{tile: tile, target: target, bound: bound}, nil
}

func meshBound(tile grid.GridGeometry, target grid.GridGeometry) (orb.Bound, error) {
	tr := grid.NewTransform(tile.CRS, target.CRS)
	var bound orb.Bound
	found := false
	w, h := float64(tile.Width), float64(tile.Height)
	for i := 0; i <= meshEdgeSamples; i++ {
		f := float64(i) / meshEdgeSamples
		for _, gp := range [][2]float64{{f * w, 0}, {f * w, h}, {0, f * h}, {w, f * h}} {
			p, err := tr.Apply(tile.GridToCRS(gp[0], gp[1]))
			if err != nil {
				continue
			}
			gx, gy, err := target.CRSToGrid(p)
			if err != nil {
				continue
			}
			pt := orb.Point{gx, gy}
			if !found {
				bound = pt.Bound()
				found = true
			} else {
				bound = bound.Extend(pt)
			}
		}
	}
	if !found {
		return orb.Bound{}, fmt.Errorf("tile %s has no position on target %s", tile, target)
	}
	return bound, nil
}

type softwareMesh struct {
	mu       sync.Mutex
	tile     grid.GridGeometry
	target   grid.GridGeometry
	bound    orb.Bound
	disposed bool
}

func (m *softwareMesh) Bound() orb.Bound { return m.bound }

func (m *softwareMesh) Target() grid.GridGeometry { return m.target }

func (m *softwareMesh) Clone(target grid.GridGeometry) (Mesh, error) {
	bound, err := meshBound(m.tile, target)
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeResource, "failed to clone mesh", err)
	}
	return &softwareMesh{tile: m.tile, target: target, bound: bound}, nil
}

func (m *softwareMesh) Dispose() {
	m.mu.Lock()
	m.disposed = true
	m.mu.Unlock()
}

// RasterImage is the software ColormappedImage
type RasterImage struct {
	mu       sync.RWMutex
	callback DataCallback
	width    int
	height   int
	status   Status
	imaging  Imaging
	data     *raster.Data
	min, max float64
	noData   float64
}

// Status returns the staging state
func (r *RasterImage) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Stage invokes the data callback and stores its samples
func (r *RasterImage) Stage() error {
	r.mu.Lock()
	switch r.status {
	case StatusLoaded:
		r.mu.Unlock()
		return nil
	case StatusInvalid:
		r.mu.Unlock()
		return internal.Errorf(internal.ErrorCodePrecondition, "staging a disposed image")
	}
	r.status = StatusStaging
	cb := r.callback
	r.mu.Unlock()

	data, err := cb()
	if err == nil && data != nil && len(data.Samples) != r.width*r.height {
		err = internal.Errorf(internal.ErrorCodeResource,
			"image is %dx%d but data holds %d samples", r.width, r.height, len(data.Samples))
	}
	if err == nil && data == nil {
		err = internal.Errorf(internal.ErrorCodeResource, "data callback returned no samples")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == StatusInvalid {
		return nil
	}
	if err != nil {
		r.status = StatusFailed
		return err
	}
	r.data = data
	r.noData = data.NoData
	r.status = StatusLoaded
	return nil
}

// Imaging returns the current display parameters
func (r *RasterImage) Imaging() Imaging {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.imaging
}

// SetImaging replaces the display parameters
func (r *RasterImage) SetImaging(im Imaging) {
	r.mu.Lock()
	r.imaging = im
	r.mu.Unlock()
}

// Dispose drops the data and invalidates the image
func (r *RasterImage) Dispose() {
	r.mu.Lock()
	r.data = nil
	r.status = StatusInvalid
	r.mu.Unlock()
}

// Value returns the raw sample at (x, y)
func (r *RasterImage) Value(x, y int) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.data == nil || x < 0 || y < 0 || x >= r.width || y >= r.height {
		return math.NaN()
	}
	return float64(r.data.At(x, y))
}

// DataUnit returns the unit of the samples
func (r *RasterImage) DataUnit() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.data == nil {
		return ""
	}
	return r.data.Unit
}

// NoDataValue returns the sentinel marking missing samples
func (r *RasterImage) NoDataValue() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.noData
}

// Bounds returns the pixel bounds of the preview
func (r *RasterImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, r.width, r.height)
}

// Preview renders the samples as grayscale with brightness and contrast
// applied. Missing samples are transparent. It returns nil for images that
// are not loaded.
func (r *RasterImage) Preview() *image.NRGBA {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.data == nil {
		return nil
	}

	lo, hi := r.min, r.max
	if lo == hi {
		var ok bool
		if lo, hi, ok = r.data.Range(); !ok {
			lo, hi = 0, 1
		}
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}

	img := image.NewNRGBA(image.Rect(0, 0, r.width, r.height))
	for y := 0; y < r.height; y++ {
		for x := 0; x < r.width; x++ {
			v := float64(r.data.At(x, y))
			if math.IsNaN(v) || r.data.IsNoData(v) {
				continue
			}
			n := (v - lo) / span
			n = ((n-0.5)*r.imaging.Contrast + 0.5) * r.imaging.Brightness
			g := uint8(math.Round(clamp01(n) * 255))
			img.SetNRGBA(x, y, color.NRGBA{R: g, G: g, B: g, A: 255})
		}
	}
	return img
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
