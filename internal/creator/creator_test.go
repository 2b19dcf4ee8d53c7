// internal/creator/creator_test.go - Unit tests for direct and batched tile image creation
package creator

import (
	"context"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/valpere/rastertiles/internal"
	"github.com/valpere/rastertiles/internal/graphics"
	"github.com/valpere/rastertiles/internal/metrics"
	"github.com/valpere/rastertiles/internal/raster"
	"github.com/valpere/rastertiles/internal/source"
	"github.com/valpere/rastertiles/internal/tile"
	"github.com/valpere/rastertiles/pkg/grid"
)

type recordingSink struct {
	mu        sync.Mutex
	installed map[tile.Key]*graphics.DrawableImage
	abandoned map[tile.Key]int
	loaded    map[tile.Key]bool
	target    grid.GridGeometry
}

func newRecordingSink(target grid.GridGeometry) *recordingSink {
	return &recordingSink{
		target:    target,
		installed: make(map[tile.Key]*graphics.DrawableImage),
		abandoned: make(map[tile.Key]int),
		loaded:    make(map[tile.Key]bool),
	}
}

func (s *recordingSink) InstallImage(t *tile.Tile, img *graphics.DrawableImage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.installed[t.Key()] = img
}

func (s *recordingSink) Abandon(t *tile.Tile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abandoned[t.Key()]++
}

func (s *recordingSink) Loaded(key tile.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded[key]
}

func (s *recordingSink) Target() grid.GridGeometry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

func (s *recordingSink) setTarget(target grid.GridGeometry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = target
}

type failingRetriever struct {
	manifest source.Manifest
}

func (f failingRetriever) Manifest() source.Manifest { return f.manifest }

func (f failingRetriever) Retrieve(ctx context.Context, level int, rect grid.Rect) (*raster.Data, error) {
	return nil, internal.Errorf(internal.ErrorCodeRetrieval, "backing store unavailable")
}

func (f failingRetriever) Close() error { return nil }

func testManifest() source.Manifest {
	return source.Manifest{
		Name:     "test",
		CRS:      "cartesian",
		Envelope: [4]float64{0, 0, 64, 64},
		Width:    64,
		Height:   64,
		Levels:   2,
		Unit:     "K",
		NoData:   -9999,
	}
}

func newStore(t *testing.T) *source.MemoryStore {
	t.Helper()
	m := testManifest()
	store, err := source.NewMemoryStore(context.Background(), m, source.Synthetic(m))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	return store
}

// level0Tiles returns the 16 tiles of a 64x64 identity pyramid with 16 cell tiles
func level0Tiles(t *testing.T) ([]*tile.Tile, grid.GridGeometry) {
	t.Helper()
	g, err := testManifest().Grid()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	p, err := tile.NewPyramid(context.Background(), g, g, 2, 16, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	tiles := p.IntersectingTiles(0, g.Bound())
	if len(tiles) != 16 {
		t.Fatalf("Expected 16 tiles, got %d", len(tiles))
	}
	return tiles, g
}

func runAll(jobs []Job, sink Sink) {
	for _, j := range jobs {
		j.Run(context.Background(), sink)
	}
}

func TestMergeRects(t *testing.T) {
	tests := []struct {
		name  string
		rects []grid.Rect
		want  int
	}{
		{
			name: "square block",
			rects: []grid.Rect{
				grid.NewRect(0, 0, 16, 16), grid.NewRect(16, 0, 16, 16),
				grid.NewRect(0, 16, 16, 16), grid.NewRect(16, 16, 16, 16),
			},
			want: 1,
		},
		{
			name: "l shape",
			rects: []grid.Rect{
				grid.NewRect(0, 0, 16, 16), grid.NewRect(16, 0, 16, 16), grid.NewRect(0, 16, 16, 16),
			},
			want: 2,
		},
		{
			name:  "gap",
			rects: []grid.Rect{grid.NewRect(0, 0, 16, 16), grid.NewRect(32, 0, 16, 16)},
			want:  2,
		},
		{
			name:  "edge tile",
			rects: []grid.Rect{grid.NewRect(0, 0, 16, 10), grid.NewRect(16, 0, 5, 10)},
			want:  1,
		},
		{
			name:  "empty",
			rects: nil,
			want:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged := MergeRects(tt.rects)
			if len(merged) != tt.want {
				t.Fatalf("Expected %d rects, got %d: %v", tt.want, len(merged), merged)
			}

			inArea, outArea := 0, 0
			for _, r := range tt.rects {
				inArea += r.Area()
			}
			for _, r := range merged {
				outArea += r.Area()
			}
			if inArea != outArea {
				t.Errorf("Expected merged area %d, got %d", inArea, outArea)
			}
		})
	}
}

func TestBatchedMatchesDirect(t *testing.T) {
	tiles, target := level0Tiles(t)
	software := graphics.NewSoftware(0, 0)

	directStore := newStore(t)
	directSink := newRecordingSink(target)
	runAll(NewRecord(directStore, software, Options{}).Planner(false).Plan(tiles), directSink)

	batchedStore := newStore(t)
	batchedSink := newRecordingSink(target)
	jobs := NewRecord(batchedStore, software, Options{}).Planner(true).Plan(tiles)
	if len(jobs) != 1 {
		t.Fatalf("Expected one merged job, got %d", len(jobs))
	}
	if len(jobs[0].Tiles) != 16 {
		t.Errorf("Expected merged job to cover 16 tiles, got %d", len(jobs[0].Tiles))
	}
	runAll(jobs, batchedSink)

	if directStore.Retrievals() != 16 {
		t.Errorf("Expected 16 direct retrievals, got %d", directStore.Retrievals())
	}
	if batchedStore.Retrievals() != 1 {
		t.Errorf("Expected 1 batched retrieval, got %d", batchedStore.Retrievals())
	}

	for _, tl := range tiles {
		d, ok := directSink.installed[tl.Key()]
		if !ok {
			t.Fatalf("Expected direct image for %s", tl)
		}
		b, ok := batchedSink.installed[tl.Key()]
		if !ok {
			t.Fatalf("Expected batched image for %s", tl)
		}
		if b.Image.Status() != graphics.StatusLoaded {
			t.Errorf("Expected loaded image, got %s", b.Image.Status())
		}

		di := d.Image.(graphics.ColormappedImage)
		bi := b.Image.(graphics.ColormappedImage)
		for y := 0; y < tl.Rect.Height; y++ {
			for x := 0; x < tl.Rect.Width; x++ {
				if di.Value(x, y) != bi.Value(x, y) {
					t.Fatalf("Expected identical sample at %s (%d, %d): %g vs %g",
						tl, x, y, di.Value(x, y), bi.Value(x, y))
				}
			}
		}
	}
}

func TestBatchedSkipsLoadedTiles(t *testing.T) {
	tiles, target := level0Tiles(t)
	store := newStore(t)
	sink := newRecordingSink(target)
	sink.loaded[tiles[5].Key()] = true

	runAll(NewRecord(store, graphics.NewSoftware(0, 0), Options{}).Planner(true).Plan(tiles), sink)

	if _, ok := sink.installed[tiles[5].Key()]; ok {
		t.Error("Expected loaded tile not to be overwritten")
	}
	if sink.abandoned[tiles[5].Key()] != 1 {
		t.Errorf("Expected loaded tile released once, got %d", sink.abandoned[tiles[5].Key()])
	}
	if len(sink.installed) != 15 {
		t.Errorf("Expected 15 installed images, got %d", len(sink.installed))
	}
	if store.Retrievals() != 1 {
		t.Errorf("Expected 1 retrieval, got %d", store.Retrievals())
	}
}

func TestRetrievalFailureAbandonsTiles(t *testing.T) {
	tiles, target := level0Tiles(t)

	for _, batched := range []bool{false, true} {
		m, err := metrics.New(prometheus.NewRegistry())
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		sink := newRecordingSink(target)
		record := NewRecord(failingRetriever{manifest: testManifest()}, graphics.NewSoftware(0, 0), Options{Metrics: m})
		runAll(record.Planner(batched).Plan(tiles), sink)

		if len(sink.installed) != 0 {
			t.Errorf("Batched %v: expected no installed images, got %d", batched, len(sink.installed))
		}
		if len(sink.abandoned) != len(tiles) {
			t.Errorf("Batched %v: expected %d abandoned tiles, got %d", batched, len(tiles), len(sink.abandoned))
		}
		if got := testutil.ToFloat64(m.JobsFailed); got != float64(len(tiles)) {
			t.Errorf("Batched %v: expected %d failures recorded, got %g", batched, len(tiles), got)
		}
	}
}

func TestDirectCancelledContext(t *testing.T) {
	tiles, target := level0Tiles(t)
	store := newStore(t)
	sink := newRecordingSink(target)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, j := range NewRecord(store, graphics.NewSoftware(0, 0), Options{}).Planner(false).Plan(tiles[:3]) {
		j.Run(ctx, sink)
	}

	if len(sink.abandoned) != 3 || len(sink.installed) != 0 {
		t.Errorf("Expected 3 abandoned and none installed, got %d and %d", len(sink.abandoned), len(sink.installed))
	}
	if store.Retrievals() != 0 {
		t.Errorf("Expected no retrievals, got %d", store.Retrievals())
	}
}

func TestBatchedGroupsPerLevel(t *testing.T) {
	g, err := testManifest().Grid()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	p, err := tile.NewPyramid(context.Background(), g, g, 2, 16, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	tiles := []*tile.Tile{
		p.Level(0).Tile(0, 0), p.Level(0).Tile(1, 0),
		p.Level(0).Tile(3, 3),
		p.Level(1).Tile(0, 0), p.Level(1).Tile(1, 0),
	}
	jobs := NewRecord(newStore(t), graphics.NewSoftware(0, 0), Options{}).Planner(true).Plan(tiles)
	if len(jobs) != 3 {
		t.Fatalf("Expected 3 jobs, got %d", len(jobs))
	}

	total := 0
	for _, j := range jobs {
		level := j.Tiles[0].Level
		for _, tl := range j.Tiles {
			if tl.Level != level {
				t.Errorf("Expected job tiles on one level, got %d and %d", level, tl.Level)
			}
		}
		total += len(j.Tiles)
	}
	if total != len(tiles) {
		t.Errorf("Expected every tile in exactly one job, got %d", total)
	}
}

func TestJobsMeshForTargetAtRunTime(t *testing.T) {
	tiles, target := level0Tiles(t)
	resized := target.Resized(256, 256)

	for _, batched := range []bool{false, true} {
		sink := newRecordingSink(target)
		planned := NewRecord(newStore(t), graphics.NewSoftware(0, 0), Options{}).Planner(batched).Plan(tiles[:1])
		sink.setTarget(resized)
		runAll(planned, sink)

		img, ok := sink.installed[tiles[0].Key()]
		if !ok {
			t.Fatalf("Batched %v: expected installed image", batched)
		}
		if !img.Mesh.Target().Equal(resized) {
			t.Errorf("Batched %v: expected mesh for %s, got %s", batched, resized, img.Mesh.Target())
		}
		want := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{64, 64}}
		if !img.Mesh.Bound().Equal(want) {
			t.Errorf("Batched %v: expected mesh bound %v, got %v", batched, want, img.Mesh.Bound())
		}
	}
}
