// internal/source/source.go - Data retrieval service for raster pyramids
package source

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/valpere/rastertiles/internal"
	"github.com/valpere/rastertiles/internal/raster"
	"github.com/valpere/rastertiles/pkg/grid"
)

// ManifestFile is the name of the manifest in a store directory
const ManifestFile = "manifest.yaml"

// Retriever reads rectangles of raw samples from a level of a stored pyramid
type Retriever interface {
	// Manifest describes the stored raster
	Manifest() Manifest
	// Retrieve reads rect, given in the grid of level, as one buffer
	Retrieve(ctx context.Context, level int, rect grid.Rect) (*raster.Data, error)
	Close() error
}

// Manifest describes a stored raster pyramid
type Manifest struct {
	Name       string     `yaml:"name" json:"name"`
	CRS        string     `yaml:"crs" json:"crs"`
	Envelope   [4]float64 `yaml:"envelope" json:"envelope"`
	Width      int        `yaml:"width" json:"width"`
	Height     int        `yaml:"height" json:"height"`
	Levels     int        `yaml:"levels" json:"levels"`
	Unit       string     `yaml:"unit" json:"unit"`
	NoData     float64    `yaml:"no_data" json:"no_data"`
	Compressed bool       `yaml:"compressed" json:"compressed"`
}

// Validate checks that the manifest describes a readable pyramid
func (m Manifest) Validate() error {
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("invalid raster size %dx%d", m.Width, m.Height)
	}
	if m.Levels <= 0 {
		return fmt.Errorf("levels must be positive")
	}
	if _, err := m.Grid(); err != nil {
		return err
	}
	return nil
}

// Bound returns the envelope as an orb bound
func (m Manifest) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{m.Envelope[0], m.Envelope[1]},
		Max: orb.Point{m.Envelope[2], m.Envelope[3]},
	}
}

// Grid returns the full-resolution grid geometry of the raster
func (m Manifest) Grid() (grid.GridGeometry, error) {
	crs, err := grid.LookupCRS(m.CRS)
	if err != nil {
		return grid.GridGeometry{}, err
	}
	return grid.NewGridGeometry(crs, m.Bound(), m.Width, m.Height)
}

// LevelRange returns the cell range of a level
func (m Manifest) LevelRange(level int) grid.Rect {
	w, h := LevelSize(m.Width, m.Height, level)
	return grid.NewRect(0, 0, w, h)
}

// LevelSize returns the dimensions of level: each level halves the previous
// one, rounding up.
func LevelSize(width, height, level int) (int, int) {
	div := 1 << level
	return (width + div - 1) / div, (height + div - 1) / div
}

// checkRequest validates a retrieval against the manifest
func checkRequest(ctx context.Context, m Manifest, level int, rect grid.Rect) error {
	if err := ctx.Err(); err != nil {
		return internal.NewError(internal.ErrorCodeRetrieval, "retrieval cancelled", err)
	}
	if level < 0 || level >= m.Levels {
		return internal.Errorf(internal.ErrorCodeRetrieval, "level %d outside 0..%d", level, m.Levels-1)
	}
	if rect.Empty() || !m.LevelRange(level).ContainsRect(rect) {
		return internal.Errorf(internal.ErrorCodeRetrieval, "rect %s outside level %d range %s", rect, level, m.LevelRange(level))
	}
	return nil
}
