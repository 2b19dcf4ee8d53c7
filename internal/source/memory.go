// internal/source/memory.go - In-memory raster pyramid
package source

import (
	"context"
	"math"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/valpere/rastertiles/internal"
	"github.com/valpere/rastertiles/internal/raster"
	"github.com/valpere/rastertiles/pkg/grid"
)

// MemoryStore serves every level of a pyramid from memory
type MemoryStore struct {
	manifest   Manifest
	levels     []*raster.Data
	retrievals atomic.Int64
}

// NewMemoryStore builds manifest.Levels levels from the full-resolution
// buffer base. Coarser levels are block means of base computed concurrently.
func NewMemoryStore(ctx context.Context, manifest Manifest, base *raster.Data) (*MemoryStore, error) {
	if err := manifest.Validate(); err != nil {
		return nil, internal.NewError(internal.ErrorCodeValidation, "invalid manifest", err)
	}
	if base.Width() != manifest.Width || base.Height() != manifest.Height {
		return nil, internal.Errorf(internal.ErrorCodeValidation,
			"base buffer is %dx%d, manifest expects %dx%d", base.Width(), base.Height(), manifest.Width, manifest.Height)
	}

	levels := make([]*raster.Data, manifest.Levels)
	levels[0] = base
	g, ctx := errgroup.WithContext(ctx)
	for i := 1; i < manifest.Levels; i++ {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			levels[i] = Downsample(base, i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, internal.NewError(internal.ErrorCodeRetrieval, "failed to build pyramid levels", err)
	}

	return &MemoryStore{manifest: manifest, levels: levels}, nil
}

// Manifest describes the stored raster
func (s *MemoryStore) Manifest() Manifest { return s.manifest }

// Level returns the full buffer of a level
func (s *MemoryStore) Level(level int) *raster.Data { return s.levels[level] }

// Retrieve copies rect out of the level buffer
func (s *MemoryStore) Retrieve(ctx context.Context, level int, rect grid.Rect) (*raster.Data, error) {
	if err := checkRequest(ctx, s.manifest, level, rect); err != nil {
		return nil, err
	}
	s.retrievals.Inc()
	data, err := s.levels[level].Sub(rect)
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeRetrieval, "failed to slice level buffer", err)
	}
	return data, nil
}

// Retrievals returns the number of successful retrieval round trips
func (s *MemoryStore) Retrievals() int64 { return s.retrievals.Load() }

// Close releases nothing; the buffers are garbage collected
func (s *MemoryStore) Close() error { return nil }

// Downsample reduces base by 2^level in each dimension. Each output sample
// is the mean of the valid samples in its block, or no-data when the block
// holds none.
func Downsample(base *raster.Data, level int) *raster.Data {
	factor := 1 << level
	w, h := LevelSize(base.Width(), base.Height(), level)
	out := raster.New(grid.NewRect(0, 0, w, h), base.Unit, base.NoData)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum, n := 0.0, 0
			for by := y * factor; by < min((y+1)*factor, base.Height()); by++ {
				for bx := x * factor; bx < min((x+1)*factor, base.Width()); bx++ {
					v := float64(base.At(bx, by))
					if math.IsNaN(v) || base.IsNoData(v) {
						continue
					}
					sum += v
					n++
				}
			}
			if n > 0 {
				out.Set(x, y, float32(sum/float64(n)))
			}
		}
	}
	return out
}
