// internal/source/source_test.go - Unit tests for raster stores
package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/spf13/afero"

	"github.com/valpere/rastertiles/internal"
	"github.com/valpere/rastertiles/internal/raster"
	"github.com/valpere/rastertiles/pkg/grid"
)

func testManifest(compressed bool) Manifest {
	return Manifest{
		Name:       "test",
		CRS:        "EPSG:4326",
		Envelope:   [4]float64{0, 0, 10, 5},
		Width:      10,
		Height:     6,
		Levels:     3,
		Unit:       "K",
		NoData:     -1,
		Compressed: compressed,
	}
}

func rampData(m Manifest) *raster.Data {
	d := raster.New(grid.NewRect(0, 0, m.Width, m.Height), m.Unit, m.NoData)
	for i := range d.Samples {
		d.Samples[i] = float32(i)
	}
	return d
}

func TestLevelSize(t *testing.T) {
	tests := []struct {
		level        int
		wantW, wantH int
	}{
		{0, 4096, 4096},
		{1, 2048, 2048},
		{3, 512, 512},
	}
	for _, tt := range tests {
		w, h := LevelSize(4096, 4096, tt.level)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("Expected %dx%d at level %d, got %dx%d", tt.wantW, tt.wantH, tt.level, w, h)
		}
	}
	if w, h := LevelSize(5, 3, 1); w != 3 || h != 2 {
		t.Errorf("Expected 3x2, got %dx%d", w, h)
	}
}

func TestDownsample(t *testing.T) {
	base := raster.New(grid.NewRect(0, 0, 3, 2), "", -1)
	copy(base.Samples, []float32{1, 3, 5, 8, -1, 9})

	out := Downsample(base, 1)
	if out.Width() != 2 || out.Height() != 1 {
		t.Fatalf("Expected 2x1, got %dx%d", out.Width(), out.Height())
	}
	if out.At(0, 0) != 4 {
		t.Errorf("Expected mean 4, got %g", out.At(0, 0))
	}
	if out.At(1, 0) != 7 {
		t.Errorf("Expected no-data aware mean 7, got %g", out.At(1, 0))
	}
}

func TestMemoryStoreRetrieve(t *testing.T) {
	m := testManifest(false)
	store, err := NewMemoryStore(context.Background(), m, rampData(m))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	data, err := store.Retrieve(context.Background(), 0, grid.NewRect(2, 1, 3, 2))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if data.At(0, 0) != 12 || data.At(2, 1) != 24 {
		t.Errorf("Expected 12 and 24, got %g and %g", data.At(0, 0), data.At(2, 1))
	}
	if store.Retrievals() != 1 {
		t.Errorf("Expected 1 retrieval, got %d", store.Retrievals())
	}

	lvl := store.Level(2)
	if lvl.Width() != 3 || lvl.Height() != 2 {
		t.Errorf("Expected level 2 to be 3x2, got %dx%d", lvl.Width(), lvl.Height())
	}
}

func TestMemoryStoreRejectsBadRequests(t *testing.T) {
	m := testManifest(false)
	store, _ := NewMemoryStore(context.Background(), m, rampData(m))

	tests := []struct {
		name  string
		ctx   context.Context
		level int
		rect  grid.Rect
	}{
		{"level too high", context.Background(), 3, grid.NewRect(0, 0, 1, 1)},
		{"rect outside", context.Background(), 1, grid.NewRect(4, 0, 2, 1)},
		{"empty rect", context.Background(), 0, grid.NewRect(0, 0, 0, 1)},
		{"cancelled", cancelledContext(), 0, grid.NewRect(0, 0, 1, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Retrieve(tt.ctx, tt.level, tt.rect)
			if !errors.Is(err, internal.ErrRetrieval) {
				t.Errorf("Expected retrieval error, got %v", err)
			}
		})
	}
}

func cancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func TestFileStoreRoundTrip(t *testing.T) {
	for _, compressed := range []bool{false, true} {
		t.Run(fmt.Sprintf("compressed=%v", compressed), func(t *testing.T) {
			fs := afero.NewMemMapFs()
			m := testManifest(compressed)
			mem, err := NewMemoryStore(context.Background(), m, rampData(m))
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			levels := []*raster.Data{mem.Level(0), mem.Level(1), mem.Level(2)}
			if err := WriteFileStore(fs, "/pyramid", m, levels); err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			store, err := OpenFileStore(fs, "/pyramid")
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			defer store.Close()

			for level := 0; level < m.Levels; level++ {
				rect := m.LevelRange(level)
				rect.Width = max(1, rect.Width-1)
				want, _ := mem.Retrieve(context.Background(), level, rect)
				got, err := store.Retrieve(context.Background(), level, rect)
				if err != nil {
					t.Fatalf("Unexpected error at level %d: %v", level, err)
				}
				for i := range want.Samples {
					if got.Samples[i] != want.Samples[i] {
						t.Fatalf("Expected sample %d at level %d to be %g, got %g", i, level, want.Samples[i], got.Samples[i])
					}
				}
			}
			if store.Retrievals() != int64(m.Levels) {
				t.Errorf("Expected %d retrievals, got %d", m.Levels, store.Retrievals())
			}
		})
	}
}

func TestOpenFileStoreMissingManifest(t *testing.T) {
	_, err := OpenFileStore(afero.NewMemMapFs(), "/nowhere")
	if internal.CodeOf(err) != internal.ErrorCodeFileSystem {
		t.Errorf("Expected filesystem error, got %v", err)
	}
}

type fakeS3 struct {
	s3Client
	src   string
	calls map[string]int
}

func (s *fakeS3) FGetObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.GetObjectOptions) error {
	s.calls[objectName]++
	if bucketName != "rasters" {
		return fmt.Errorf("bucket not found: %s", bucketName)
	}
	buf, err := os.ReadFile(filepath.Join(s.src, filepath.Base(objectName)))
	if err != nil {
		return fmt.Errorf("object not found: %s/%s", bucketName, objectName)
	}
	return os.WriteFile(filePath, buf, 0o644)
}

func TestS3StoreMirrors(t *testing.T) {
	src := t.TempDir()
	m := testManifest(true)
	mem, _ := NewMemoryStore(context.Background(), m, rampData(m))
	levels := []*raster.Data{mem.Level(0), mem.Level(1), mem.Level(2)}
	if err := WriteFileStore(afero.NewOsFs(), src, m, levels); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	client := &fakeS3{src: src, calls: make(map[string]int)}
	opts := S3Options{Bucket: "rasters", Prefix: "pyramids/test", Workdir: t.TempDir()}
	store, err := NewS3Store(context.Background(), client, opts)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	got, err := store.Retrieve(context.Background(), 1, grid.NewRect(0, 0, 2, 2))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want, _ := mem.Retrieve(context.Background(), 1, grid.NewRect(0, 0, 2, 2))
	for i := range want.Samples {
		if got.Samples[i] != want.Samples[i] {
			t.Errorf("Expected sample %d to be %g, got %g", i, want.Samples[i], got.Samples[i])
		}
	}

	if _, err := NewS3Store(context.Background(), client, opts); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if n := client.calls["pyramids/test/level-0.f32.zst"]; n != 1 {
		t.Errorf("Expected level file downloaded once, got %d", n)
	}
	if n := client.calls["pyramids/test/manifest.yaml"]; n != 2 {
		t.Errorf("Expected manifest refreshed on each open, got %d", n)
	}
}

func TestS3StoreMissingBucket(t *testing.T) {
	client := &fakeS3{src: t.TempDir(), calls: make(map[string]int)}
	_, err := NewS3Store(context.Background(), client, S3Options{Bucket: "other", Workdir: t.TempDir()})
	if !errors.Is(err, internal.ErrRetrieval) {
		t.Errorf("Expected retrieval error, got %v", err)
	}
}
