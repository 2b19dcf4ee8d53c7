// internal/output/formatter.go - Output formatting implementation
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/png"

	"github.com/paulmach/orb/geojson"
)

// PNGFormatter encodes the frame canvas as a PNG image
type PNGFormatter struct {
	encoder png.Encoder
}

// NewPNGFormatter creates a new PNG formatter
func NewPNGFormatter() *PNGFormatter {
	return &PNGFormatter{encoder: png.Encoder{CompressionLevel: png.BestSpeed}}
}

// Format encodes the canvas of frame
func (f *PNGFormatter) Format(frame *Frame) ([]byte, error) {
	if frame.Canvas == nil {
		return nil, fmt.Errorf("frame has no canvas")
	}
	var buf bytes.Buffer
	if err := f.encoder.Encode(&buf, frame.Canvas); err != nil {
		return nil, fmt.Errorf("png encoding failed: %w", err)
	}
	return buf.Bytes(), nil
}

// ContentType returns the MIME type for PNG
func (f *PNGFormatter) ContentType() string {
	return "image/png"
}

// Extension returns the file extension for PNG
func (f *PNGFormatter) Extension() string {
	return ".png"
}

// GeoJSONFormatter formats the tile borders of a frame as a FeatureCollection
// in target grid coordinates
type GeoJSONFormatter struct {
	pretty bool
}

// NewGeoJSONFormatter creates a new GeoJSON formatter
func NewGeoJSONFormatter(pretty bool) *GeoJSONFormatter {
	return &GeoJSONFormatter{pretty: pretty}
}

// Format formats the tiles of frame. Tiles without a border on the target
// are skipped.
func (f *GeoJSONFormatter) Format(frame *Frame) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	for _, t := range frame.Tiles {
		if len(t.Border) == 0 {
			continue
		}
		feature := geojson.NewFeature(t.Border)
		feature.ID = t.Key().String()
		feature.Properties["level"] = t.Level
		feature.Properties["x"] = t.X
		feature.Properties["y"] = t.Y
		feature.Properties["rect"] = []int{t.Rect.X, t.Rect.Y, t.Rect.Width, t.Rect.Height}
		fc.Append(feature)
	}

	fc.BBox = geojson.NewBBox(frame.Extent)
	fc.ExtraMembers = geojson.Properties{"level": frame.Level}

	if f.pretty {
		return json.MarshalIndent(fc, "", "  ")
	}
	return json.Marshal(fc)
}

// ContentType returns the MIME type for GeoJSON
func (f *GeoJSONFormatter) ContentType() string {
	return "application/geo+json"
}

// Extension returns the file extension for GeoJSON
func (f *GeoJSONFormatter) Extension() string {
	return ".geojson"
}

// JSONFormatter formats a frame summary as a structured JSON object
type JSONFormatter struct {
	pretty bool
}

type frameSummary struct {
	Level  int           `json:"level"`
	Extent [4]float64    `json:"extent"`
	Drawn  int           `json:"drawn"`
	Tiles  []tileSummary `json:"tiles"`
}

type tileSummary struct {
	Key   string `json:"key"`
	Level int    `json:"level"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Rect  [4]int `json:"rect"`
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter(pretty bool) *JSONFormatter {
	return &JSONFormatter{pretty: pretty}
}

// Format formats frame as a JSON object
func (f *JSONFormatter) Format(frame *Frame) ([]byte, error) {
	summary := frameSummary{
		Level:  frame.Level,
		Extent: extentArray(frame),
		Drawn:  frame.Drawn,
		Tiles:  make([]tileSummary, 0, len(frame.Tiles)),
	}
	for _, t := range frame.Tiles {
		summary.Tiles = append(summary.Tiles, tileSummary{
			Key:   t.Key().String(),
			Level: t.Level,
			X:     t.X,
			Y:     t.Y,
			Rect:  [4]int{t.Rect.X, t.Rect.Y, t.Rect.Width, t.Rect.Height},
		})
	}
	return marshal(summary, f.pretty)
}

// ContentType returns the MIME type for JSON
func (f *JSONFormatter) ContentType() string {
	return "application/json"
}

// Extension returns the file extension for JSON
func (f *JSONFormatter) Extension() string {
	return ".json"
}

func extentArray(frame *Frame) [4]float64 {
	return [4]float64{frame.Extent.Min[0], frame.Extent.Min[1], frame.Extent.Max[0], frame.Extent.Max[1]}
}

// FormatInterrogation formats an interrogation result as JSON
func FormatInterrogation(res Interrogation, pretty bool) ([]byte, error) {
	return marshal(res, pretty)
}

func marshal(v any, pretty bool) ([]byte, error) {
	if pretty {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}

// NewFormatter creates a formatter for format
func NewFormatter(format Format, pretty bool) (Formatter, error) {
	switch format {
	case FormatPNG:
		return NewPNGFormatter(), nil
	case FormatGeoJSON:
		return NewGeoJSONFormatter(pretty), nil
	case FormatJSON:
		return NewJSONFormatter(pretty), nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
