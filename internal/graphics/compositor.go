// internal/graphics/compositor.go - Drawing ordered tile images onto a canvas
package graphics

import (
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"
	"github.com/paulmach/orb"
	xdraw "golang.org/x/image/draw"
)

// Previewer is implemented by images that can produce CPU pixels
type Previewer interface {
	Preview() *image.NRGBA
}

// Compositor draws drawable images, in order, onto an RGBA canvas showing a
// view extent given in target grid coordinates.
type Compositor struct {
	// Outline draws the mesh bound of every drawn image
	Outline      bool
	OutlineColor color.Color
	OutlineWidth float64
}

// NewCompositor creates a compositor without outlines
func NewCompositor() *Compositor {
	return &Compositor{OutlineColor: color.NRGBA{R: 255, A: 255}, OutlineWidth: 1}
}

// Draw paints drawables onto canvas in slice order so later images cover
// earlier ones. It returns the number of images drawn.
func (c *Compositor) Draw(canvas *image.RGBA, view orb.Bound, drawables []*DrawableImage) int {
	size := canvas.Bounds().Size()
	sx := float64(size.X) / (view.Max[0] - view.Min[0])
	sy := float64(size.Y) / (view.Max[1] - view.Min[1])

	var outlines []image.Rectangle
	drawn := 0
	for _, d := range drawables {
		if d == nil || d.Image == nil || d.Mesh == nil || d.Image.Status() != StatusLoaded {
			continue
		}
		p, ok := d.Image.(Previewer)
		if !ok {
			continue
		}
		src := p.Preview()
		if src == nil {
			continue
		}

		b := d.Mesh.Bound()
		dst := image.Rect(
			int(math.Floor((b.Min[0]-view.Min[0])*sx)),
			int(math.Floor((b.Min[1]-view.Min[1])*sy)),
			int(math.Ceil((b.Max[0]-view.Min[0])*sx)),
			int(math.Ceil((b.Max[1]-view.Min[1])*sy)),
		).Add(canvas.Bounds().Min)
		if !dst.Overlaps(canvas.Bounds()) {
			continue
		}

		var scaler xdraw.Scaler = xdraw.NearestNeighbor
		if d.Image.Imaging().Interpolate {
			scaler = xdraw.BiLinear
		}
		scaler.Scale(canvas, dst, src, src.Bounds(), xdraw.Over, nil)
		outlines = append(outlines, dst)
		drawn++
	}

	if c.Outline && len(outlines) > 0 {
		dc := gg.NewContextForRGBA(canvas)
		dc.SetColor(c.OutlineColor)
		dc.SetLineWidth(c.OutlineWidth)
		for _, r := range outlines {
			dc.DrawRectangle(float64(r.Min.X)+0.5, float64(r.Min.Y)+0.5, float64(r.Dx()-1), float64(r.Dy()-1))
			dc.Stroke()
		}
	}
	return drawn
}
