// internal/imagecache/cache_test.go - Unit tests for the tile image cache
package imagecache

import (
	"sync"
	"testing"

	"github.com/valpere/rastertiles/internal/graphics"
	"github.com/valpere/rastertiles/internal/tile"
	"github.com/valpere/rastertiles/pkg/grid"
)

type countingImage struct {
	status   graphics.Status
	imaging  graphics.Imaging
	disposed int
}

func (i *countingImage) Status() graphics.Status { return i.status }

func (i *countingImage) Stage() error {
	i.status = graphics.StatusLoaded
	return nil
}

func (i *countingImage) Imaging() graphics.Imaging { return i.imaging }

func (i *countingImage) SetImaging(im graphics.Imaging) { i.imaging = im }

func (i *countingImage) Dispose() {
	i.disposed++
	i.status = graphics.StatusInvalid
}

func drawable() (*graphics.DrawableImage, *countingImage) {
	img := &countingImage{}
	return &graphics.DrawableImage{Image: img}, img
}

func key(level, x int) tile.Key {
	return tile.Key{Level: level, Rect: grid.NewRect(x*256, 0, 256, 256)}
}

func TestInstallDisposesPrevious(t *testing.T) {
	c := New()
	k := key(0, 1)

	first, firstImg := drawable()
	second, secondImg := drawable()

	c.Install(k, first)
	c.Install(k, second)

	if firstImg.disposed != 1 {
		t.Errorf("Expected previous image disposed once, got %d", firstImg.disposed)
	}
	if secondImg.disposed != 0 {
		t.Errorf("Expected installed image not disposed, got %d", secondImg.disposed)
	}
	got, ok := c.Get(k)
	if !ok || got != second {
		t.Error("Expected second image to be cached")
	}

	// reinstalling the same image keeps it alive
	c.Install(k, second)
	if secondImg.disposed != 0 {
		t.Errorf("Expected reinstalled image not disposed, got %d", secondImg.disposed)
	}
	if c.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", c.Len())
	}
}

func TestStatus(t *testing.T) {
	c := New()
	k := key(1, 0)

	if _, ok := c.Status(k); ok {
		t.Error("Expected no status for missing key")
	}

	d, img := drawable()
	c.Install(k, d)
	if s, ok := c.Status(k); !ok || s != graphics.StatusUnloaded {
		t.Errorf("Expected unloaded, got %s", s)
	}
	_ = img.Stage()
	if s, _ := c.Status(k); s != graphics.StatusLoaded {
		t.Errorf("Expected loaded, got %s", s)
	}
}

func TestRemoveAndClear(t *testing.T) {
	c := New()
	var images []*countingImage
	for i := 0; i < 40; i++ {
		d, img := drawable()
		c.Install(key(i%3, i), d)
		images = append(images, img)
	}
	if c.Len() != 40 {
		t.Fatalf("Expected 40 entries, got %d", c.Len())
	}

	if !c.Remove(key(0, 0)) {
		t.Error("Expected remove to report an entry")
	}
	if c.Remove(key(0, 0)) {
		t.Error("Expected second remove to find nothing")
	}
	if images[0].disposed != 1 {
		t.Errorf("Expected removed image disposed, got %d", images[0].disposed)
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Expected empty cache, got %d", c.Len())
	}
	for i, img := range images {
		if img.disposed != 1 {
			t.Errorf("Expected image %d disposed once, got %d", i, img.disposed)
		}
	}
}

func TestUpdate(t *testing.T) {
	c := New()
	kept, keptImg := drawable()
	dropped, droppedImg := drawable()
	c.Install(key(0, 0), kept)
	c.Install(key(0, 1), dropped)

	var seen *graphics.DrawableImage
	if !c.Update(key(0, 0), func(img *graphics.DrawableImage) bool {
		seen = img
		img.Image.SetImaging(graphics.Imaging{Brightness: 2})
		return true
	}) {
		t.Error("Expected update to find the entry")
	}
	if seen != kept || keptImg.imaging.Brightness != 2 || keptImg.disposed != 0 {
		t.Errorf("Expected kept image updated in place, got %+v", keptImg)
	}

	c.Update(key(0, 1), func(*graphics.DrawableImage) bool { return false })
	if _, ok := c.Get(key(0, 1)); ok {
		t.Error("Expected rejected entry to be removed")
	}
	if droppedImg.disposed != 1 {
		t.Errorf("Expected rejected image disposed once, got %d", droppedImg.disposed)
	}

	called := false
	if c.Update(key(1, 0), func(*graphics.DrawableImage) bool { called = true; return true }) || called {
		t.Error("Expected update of a missing key to do nothing")
	}
}

func TestRangeStops(t *testing.T) {
	c := New()
	for i := 0; i < 10; i++ {
		d, _ := drawable()
		c.Install(key(0, i), d)
	}

	visited := 0
	c.Range(func(tile.Key, *graphics.DrawableImage) bool {
		visited++
		return visited < 3
	})
	if visited != 3 {
		t.Errorf("Expected 3 visits, got %d", visited)
	}
}

func TestConcurrentInstall(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				d, _ := drawable()
				c.Install(key(w, i), d)
				c.Get(key(w, i))
			}
		}(w)
	}
	wg.Wait()

	if c.Len() != 800 {
		t.Errorf("Expected 800 entries, got %d", c.Len())
	}
}
