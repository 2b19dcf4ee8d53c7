// internal/output/types.go - Output handling types
package output

import (
	"fmt"
	"image"
	"io"
	"math"
	"time"

	"github.com/paulmach/orb"

	"github.com/valpere/rastertiles/internal/tile"
)

// Format represents different output formats supported by the application
type Format string

const (
	FormatPNG     Format = "png"
	FormatGeoJSON Format = "geojson"
	FormatJSON    Format = "json"
)

// Config represents configuration for output handling
type Config struct {
	Format      Format
	Directory   string
	Filename    string
	Pretty      bool
	Compression bool
	Stdout      bool
}

// Frame is one rendered view: the composited canvas, the level it was drawn
// from and the tiles of that level covering the extent
type Frame struct {
	Canvas *image.RGBA
	Extent orb.Bound
	Level  int
	Tiles  []*tile.Tile
	Drawn  int
}

// Interrogation is the value sampled at a position
type Interrogation struct {
	Lon   float64 `json:"lon"`
	Lat   float64 `json:"lat"`
	Level int     `json:"level"`
	Unit  string  `json:"unit,omitempty"`
	// Value is nil when the position holds no data
	Value *float64 `json:"value"`
}

// NewInterrogation builds a result, mapping NaN to a missing value
func NewInterrogation(lonlat orb.Point, level int, unit string, value float64) Interrogation {
	res := Interrogation{Lon: lonlat.Lon(), Lat: lonlat.Lat(), Level: level, Unit: unit}
	if !math.IsNaN(value) {
		res.Value = &value
	}
	return res
}

// Writer writes rendered frames to a destination
type Writer interface {
	Write(frame *Frame) (*WriteResult, error)
	Close() error
}

// Formatter encodes frames in one output format
type Formatter interface {
	Format(frame *Frame) ([]byte, error)
	ContentType() string
	Extension() string
}

// Destination represents an output destination (file, stdout, etc.)
type Destination interface {
	io.WriteCloser
	Name() string
	Size() int64
}

// WriteResult represents the result of a write operation
type WriteResult struct {
	Destination  string
	BytesWritten int64
	Duration     time.Duration
}

// NewConfig creates a new output configuration with default values
func NewConfig() *Config {
	return &Config{
		Format: FormatPNG,
		Pretty: true,
	}
}

// Validate validates the output configuration
func (c *Config) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if !c.Stdout && c.Filename == "" {
		return fmt.Errorf("output filename is required unless writing to stdout")
	}
	return nil
}

// String returns a string representation of the format
func (f Format) String() string {
	return string(f)
}

// IsValid checks if the format is supported
func (f Format) IsValid() bool {
	switch f {
	case FormatPNG, FormatGeoJSON, FormatJSON:
		return true
	default:
		return false
	}
}
