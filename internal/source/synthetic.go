// internal/source/synthetic.go - Synthetic temperature-like fields
package source

import (
	"math"

	"github.com/valpere/rastertiles/internal/raster"
	"github.com/valpere/rastertiles/pkg/grid"
)

// Synthetic generates a smooth full-resolution field for manifest: a
// latitude gradient with superimposed waves. The north east corner block is
// left as no-data.
func Synthetic(manifest Manifest) *raster.Data {
	w, h := manifest.Width, manifest.Height
	data := raster.New(grid.NewRect(0, 0, w, h), manifest.Unit, manifest.NoData)
	holeW, holeH := max(1, w/16), max(1, h/16)

	for y := 0; y < h; y++ {
		fy := float64(y) / float64(h)
		for x := 0; x < w; x++ {
			if x >= w-holeW && y < holeH {
				continue
			}
			fx := float64(x) / float64(w)
			v := 250 + 40*fy + 12*math.Sin(2*math.Pi*3*fx)*math.Cos(2*math.Pi*2*fy)
			data.Set(x, y, float32(v))
		}
	}
	return data
}
