// internal/raster/data.go - Raw raster sample buffers
package raster

import (
	"fmt"
	"math"

	"github.com/valpere/rastertiles/pkg/grid"
)

// Data is a row-major block of float32 samples covering a rectangle of a
// level grid. NoData is the sentinel marking missing samples; a NaN
// sentinel means NaN samples are missing.
type Data struct {
	Rect    grid.Rect
	Samples []float32
	Unit    string
	NoData  float64
}

// New allocates a buffer for rect filled with the no-data sentinel
func New(rect grid.Rect, unit string, noData float64) *Data {
	samples := make([]float32, rect.Area())
	fill := float32(noData)
	for i := range samples {
		samples[i] = fill
	}
	return &Data{Rect: rect, Samples: samples, Unit: unit, NoData: noData}
}

// Width returns the number of columns
func (d *Data) Width() int { return d.Rect.Width }

// Height returns the number of rows
func (d *Data) Height() int { return d.Rect.Height }

// At returns the sample at (x, y) relative to the buffer origin
func (d *Data) At(x, y int) float32 {
	return d.Samples[y*d.Rect.Width+x]
}

// Set stores a sample at (x, y) relative to the buffer origin
func (d *Data) Set(x, y int, v float32) {
	d.Samples[y*d.Rect.Width+x] = v
}

// IsNoData reports whether v equals the no-data sentinel
func (d *Data) IsNoData(v float64) bool {
	if math.IsNaN(d.NoData) {
		return math.IsNaN(v)
	}
	return v == float64(float32(d.NoData))
}

// Sub extracts the samples of rect, given in the same grid as d.Rect
func (d *Data) Sub(rect grid.Rect) (*Data, error) {
	if len(d.Samples) != d.Rect.Area() {
		return nil, fmt.Errorf("raster buffer holds %d samples, rect %s needs %d", len(d.Samples), d.Rect, d.Rect.Area())
	}
	samples, err := grid.Slice(d.Samples, rect, d.Rect)
	if err != nil {
		return nil, err
	}
	return &Data{Rect: rect, Samples: samples, Unit: d.Unit, NoData: d.NoData}, nil
}

// Range returns the smallest and largest valid samples. ok is false when the
// buffer holds no valid sample.
func (d *Data) Range() (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, s := range d.Samples {
		v := float64(s)
		if math.IsNaN(v) || d.IsNoData(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		ok = true
	}
	return lo, hi, ok
}
