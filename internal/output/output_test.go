// internal/output/output_test.go - Unit tests for frame formatting and writing
package output

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/spf13/afero"

	"github.com/valpere/rastertiles/internal/tile"
	"github.com/valpere/rastertiles/pkg/grid"
)

func testFrame(t *testing.T) *Frame {
	t.Helper()
	g, err := grid.NewGridGeometry(grid.Cartesian("plane"),
		orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{64, 64}}, 64, 64)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	p, err := tile.NewPyramid(context.Background(), g, g, 1, 32, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, 8, 4))
	canvas.Set(1, 1, color.RGBA{R: 200, A: 255})
	return &Frame{
		Canvas: canvas,
		Extent: g.Bound(),
		Level:  0,
		Tiles:  p.IntersectingTiles(0, g.Bound()),
		Drawn:  4,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"png file", Config{Format: FormatPNG, Filename: "frame"}, false},
		{"geojson stdout", Config{Format: FormatGeoJSON, Stdout: true}, false},
		{"unknown format", Config{Format: "mvt", Filename: "frame"}, true},
		{"missing filename", Config{Format: FormatJSON}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestPNGFormatter(t *testing.T) {
	frame := testFrame(t)
	data, err := NewPNGFormatter().Format(frame)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if img.Bounds() != frame.Canvas.Bounds() {
		t.Errorf("Expected bounds %v, got %v", frame.Canvas.Bounds(), img.Bounds())
	}
	r, _, _, a := img.At(1, 1).RGBA()
	if r>>8 != 200 || a>>8 != 255 {
		t.Errorf("Expected red pixel, got r=%d a=%d", r>>8, a>>8)
	}

	if _, err := NewPNGFormatter().Format(&Frame{}); err == nil {
		t.Error("Expected error for frame without canvas")
	}
}

func TestGeoJSONFormatter(t *testing.T) {
	frame := testFrame(t)
	data, err := NewGeoJSONFormatter(false).Format(frame)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(fc.Features) != 4 {
		t.Fatalf("Expected 4 features, got %d", len(fc.Features))
	}

	first := fc.Features[0]
	if _, ok := first.Geometry.(orb.Polygon); !ok {
		t.Errorf("Expected polygon geometry, got %T", first.Geometry)
	}
	if b := first.Geometry.Bound(); b.Max[0] != 32 || b.Max[1] != 32 {
		t.Errorf("Expected first border to end at (32, 32), got %v", b)
	}
	if x := first.Properties.MustInt("x", -1); x != 0 {
		t.Errorf("Expected x 0, got %d", x)
	}
	if level, ok := fc.ExtraMembers["level"].(float64); !ok || level != 0 {
		t.Errorf("Expected level member 0, got %v", fc.ExtraMembers["level"])
	}
	if len(fc.BBox) != 4 || fc.BBox[2] != 64 {
		t.Errorf("Expected bbox of the extent, got %v", fc.BBox)
	}
}

func TestGeoJSONSkipsTilesWithoutBorder(t *testing.T) {
	frame := testFrame(t)
	outside := *frame.Tiles[0]
	outside.Border = orb.Polygon{}
	frame.Tiles = []*tile.Tile{&outside}

	data, err := NewGeoJSONFormatter(true).Format(frame)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(fc.Features) != 0 {
		t.Errorf("Expected no features, got %d", len(fc.Features))
	}
}

func TestJSONFormatter(t *testing.T) {
	data, err := NewJSONFormatter(false).Format(testFrame(t))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	var summary frameSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if summary.Drawn != 4 || len(summary.Tiles) != 4 {
		t.Errorf("Expected 4 drawn and 4 tiles, got %d and %d", summary.Drawn, len(summary.Tiles))
	}
	if summary.Tiles[3].Rect != [4]int{32, 32, 32, 32} {
		t.Errorf("Expected last tile rect [32 32 32 32], got %v", summary.Tiles[3].Rect)
	}
}

func TestFormatInterrogation(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		want  string
	}{
		{"value", 12.5, `{"lon":10,"lat":20,"level":1,"unit":"C","value":12.5}`},
		{"no data", math.NaN(), `{"lon":10,"lat":20,"level":1,"unit":"C","value":null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewInterrogation(orb.Point{10, 20}, 1, "C", tt.value)
			data, err := FormatInterrogation(res, false)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, data)
			}
		})
	}
}

func TestPath(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"adds extension", Config{Format: FormatPNG, Directory: "out", Filename: "frame"}, "out/frame.png"},
		{"keeps extension", Config{Format: FormatJSON, Filename: "frame.txt"}, "frame.txt"},
		{"compressed", Config{Format: FormatGeoJSON, Filename: "tiles", Compression: true}, "tiles.geojson.gz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter, err := NewFormatter(tt.cfg.Format, false)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got := Path(&tt.cfg, formatter); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestFileWriterCompression(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := &Config{Format: FormatJSON, Directory: "/out", Filename: "frame", Compression: true}
	w, err := NewWriter(fs, cfg, io.Discard)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	res, err := w.Write(testFrame(t))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if res.Destination != "/out/frame.json.gz" {
		t.Errorf("Expected /out/frame.json.gz, got %s", res.Destination)
	}

	f, err := fs.Open(res.Destination)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	plain, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if int64(len(plain)) != res.BytesWritten {
		t.Errorf("Expected %d bytes, got %d", res.BytesWritten, len(plain))
	}
	var summary frameSummary
	if err := json.Unmarshal(plain, &summary); err != nil {
		t.Errorf("Expected valid JSON, got %v", err)
	}
}

func TestStdoutWriter(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(afero.NewMemMapFs(), &Config{Format: FormatGeoJSON, Stdout: true}, &buf)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := w.Write(testFrame(t)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
		t.Error("Expected trailing newline")
	}
	if _, err := geojson.UnmarshalFeatureCollection(bytes.TrimSpace(buf.Bytes())); err != nil {
		t.Errorf("Expected valid GeoJSON, got %v", err)
	}
}
