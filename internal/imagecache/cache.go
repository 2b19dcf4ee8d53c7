// internal/imagecache/cache.go - Sharded store of drawable tile images
package imagecache

import (
	"sync"

	"github.com/valpere/rastertiles/internal/graphics"
	"github.com/valpere/rastertiles/internal/tile"
)

const (
	// ShardCount is the number of independently locked shards.
	// Must be a power of 2 for shard selection by mask.
	ShardCount = 16

	shardMask = ShardCount - 1
)

type shard struct {
	mu      sync.RWMutex
	entries map[tile.Key]*graphics.DrawableImage
}

// Cache maps tile keys to drawable images. It holds at most one image per
// key and never evicts on its own.
type Cache struct {
	shards [ShardCount]*shard
}

// New creates an empty cache
func New() *Cache {
	c := &Cache{}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[tile.Key]*graphics.DrawableImage)}
	}
	return c
}

func (c *Cache) shard(key tile.Key) *shard {
	return c.shards[key.Hash()&shardMask]
}

// Get returns the image cached under key
func (c *Cache) Get(key tile.Key) (*graphics.DrawableImage, bool) {
	s := c.shard(key)
	s.mu.RLock()
	img, ok := s.entries[key]
	s.mu.RUnlock()
	return img, ok
}

// Status returns the staging status of the image cached under key, and
// false when there is none.
func (c *Cache) Status(key tile.Key) (graphics.Status, bool) {
	img, ok := c.Get(key)
	if !ok || img.Image == nil {
		return graphics.StatusUnloaded, false
	}
	return img.Image.Status(), true
}

// Install stores img under key. A different image previously stored under
// the key is disposed before Install returns.
func (c *Cache) Install(key tile.Key, img *graphics.DrawableImage) {
	s := c.shard(key)
	s.mu.Lock()
	prev := s.entries[key]
	s.entries[key] = img
	s.mu.Unlock()

	if prev != nil && prev != img {
		prev.Dispose()
	}
}

// Update calls fn with the image cached under key while holding the key's
// shard lock. When fn returns false the entry is removed and disposed. It
// reports whether an image was cached under key.
func (c *Cache) Update(key tile.Key, fn func(*graphics.DrawableImage) bool) bool {
	s := c.shard(key)
	s.mu.Lock()
	img, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return false
	}
	keep := fn(img)
	if !keep {
		delete(s.entries, key)
	}
	s.mu.Unlock()

	if !keep {
		img.Dispose()
	}
	return true
}

// Remove deletes and disposes the image cached under key
func (c *Cache) Remove(key tile.Key) bool {
	s := c.shard(key)
	s.mu.Lock()
	prev, ok := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()

	if ok {
		prev.Dispose()
	}
	return ok
}

// Range calls fn for every cached image until fn returns false. Shards are
// visited one at a time under their read lock, so fn must not modify the
// cache.
func (c *Cache) Range(fn func(tile.Key, *graphics.DrawableImage) bool) {
	for _, s := range c.shards {
		s.mu.RLock()
		for k, img := range s.entries {
			if !fn(k, img) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}

// Len returns the number of cached images
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// Clear disposes and removes every cached image
func (c *Cache) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		entries := s.entries
		s.entries = make(map[tile.Key]*graphics.DrawableImage)
		s.mu.Unlock()

		for _, img := range entries {
			img.Dispose()
		}
	}
}
