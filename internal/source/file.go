// internal/source/file.go - Raster pyramids stored as flat files
package source

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
	"go.uber.org/atomic"
	"gopkg.in/yaml.v3"

	"github.com/valpere/rastertiles/internal"
	"github.com/valpere/rastertiles/internal/raster"
	"github.com/valpere/rastertiles/pkg/grid"
)

const sampleSize = 4

// LevelFileName returns the file holding a level's samples
func LevelFileName(level int, compressed bool) string {
	name := fmt.Sprintf("level-%d.f32", level)
	if compressed {
		name += ".zst"
	}
	return name
}

// FileStore serves a pyramid directory: manifest.yaml plus one file of
// little-endian float32 row-major samples per level. Compressed levels are
// decoded on first use and kept in memory.
type FileStore struct {
	fs         afero.Fs
	dir        string
	manifest   Manifest
	mu         sync.Mutex
	decoded    map[int][]float32
	retrievals atomic.Int64
}

// OpenFileStore reads the manifest of the store in dir
func OpenFileStore(fs afero.Fs, dir string) (*FileStore, error) {
	manifest, err := readManifest(fs, filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	return &FileStore{
		fs:       fs,
		dir:      dir,
		manifest: manifest,
		decoded:  make(map[int][]float32),
	}, nil
}

func readManifest(fs afero.Fs, path string) (Manifest, error) {
	buf, err := afero.ReadFile(fs, path)
	if err != nil {
		return Manifest{}, internal.NewError(internal.ErrorCodeFileSystem, fmt.Sprintf("cannot read manifest: %s", path), err)
	}
	var m Manifest
	if err := yaml.Unmarshal(buf, &m); err != nil {
		return Manifest{}, internal.NewError(internal.ErrorCodeValidation, fmt.Sprintf("invalid manifest: %s", path), err)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, internal.NewError(internal.ErrorCodeValidation, fmt.Sprintf("invalid manifest: %s", path), err)
	}
	return m, nil
}

// Manifest describes the stored raster
func (s *FileStore) Manifest() Manifest { return s.manifest }

// Retrieve reads rect from the level file
func (s *FileStore) Retrieve(ctx context.Context, level int, rect grid.Rect) (*raster.Data, error) {
	if err := checkRequest(ctx, s.manifest, level, rect); err != nil {
		return nil, err
	}

	var samples []float32
	var err error
	if s.manifest.Compressed {
		samples, err = s.retrieveDecoded(level, rect)
	} else {
		samples, err = s.retrieveRows(level, rect)
	}
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeRetrieval,
			fmt.Sprintf("failed to read level %d rect %s", level, rect), err)
	}

	s.retrievals.Inc()
	return &raster.Data{Rect: rect, Samples: samples, Unit: s.manifest.Unit, NoData: s.manifest.NoData}, nil
}

// Retrievals returns the number of successful retrieval round trips
func (s *FileStore) Retrievals() int64 { return s.retrievals.Load() }

// retrieveRows reads each row of rect with a positioned read
func (s *FileStore) retrieveRows(level int, rect grid.Rect) ([]float32, error) {
	f, err := s.fs.Open(filepath.Join(s.dir, LevelFileName(level, false)))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	levelWidth := s.manifest.LevelRange(level).Width
	row := make([]byte, rect.Width*sampleSize)
	samples := make([]float32, 0, rect.Area())
	for y := rect.Y; y < rect.MaxY(); y++ {
		offset := int64(y*levelWidth+rect.X) * sampleSize
		if n, err := f.ReadAt(row, offset); err != nil && !(errors.Is(err, io.EOF) && n == len(row)) {
			return nil, err
		}
		samples = appendSamples(samples, row)
	}
	return samples, nil
}

// retrieveDecoded slices rect out of the decompressed level
func (s *FileStore) retrieveDecoded(level int, rect grid.Rect) ([]float32, error) {
	all, err := s.decodeLevel(level)
	if err != nil {
		return nil, err
	}
	sub, err := grid.Slice(all, rect, s.manifest.LevelRange(level))
	if err != nil {
		return nil, err
	}
	if len(sub) == len(all) {
		sub = append([]float32(nil), sub...)
	}
	return sub, nil
}

func (s *FileStore) decodeLevel(level int) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if samples, ok := s.decoded[level]; ok {
		return samples, nil
	}

	f, err := s.fs.Open(filepath.Join(s.dir, LevelFileName(level, true)))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	decoder, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()

	buf, err := io.ReadAll(decoder)
	if err != nil {
		return nil, err
	}
	want := s.manifest.LevelRange(level).Area() * sampleSize
	if len(buf) != want {
		return nil, fmt.Errorf("level %d holds %d bytes, expected %d", level, len(buf), want)
	}

	samples := appendSamples(make([]float32, 0, len(buf)/sampleSize), buf)
	s.decoded[level] = samples
	return samples, nil
}

// Close drops decoded levels
func (s *FileStore) Close() error {
	s.mu.Lock()
	s.decoded = make(map[int][]float32)
	s.mu.Unlock()
	return nil
}

func appendSamples(dst []float32, buf []byte) []float32 {
	for i := 0; i+sampleSize <= len(buf); i += sampleSize {
		dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(buf[i:])))
	}
	return dst
}

// WriteFileStore writes a pyramid directory for manifest from full level
// buffers, one per manifest level.
func WriteFileStore(fs afero.Fs, dir string, manifest Manifest, levels []*raster.Data) error {
	if err := manifest.Validate(); err != nil {
		return internal.NewError(internal.ErrorCodeValidation, "invalid manifest", err)
	}
	if len(levels) != manifest.Levels {
		return internal.Errorf(internal.ErrorCodeValidation, "manifest has %d levels, got %d buffers", manifest.Levels, len(levels))
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return internal.NewError(internal.ErrorCodeFileSystem, fmt.Sprintf("cannot create directory: %s", dir), err)
	}

	buf, err := yaml.Marshal(manifest)
	if err != nil {
		return internal.NewError(internal.ErrorCodeValidation, "failed to encode manifest", err)
	}
	if err := afero.WriteFile(fs, filepath.Join(dir, ManifestFile), buf, 0o644); err != nil {
		return internal.NewError(internal.ErrorCodeFileSystem, "failed to write manifest", err)
	}

	for i, data := range levels {
		if data.Rect.Width != manifest.LevelRange(i).Width || data.Rect.Height != manifest.LevelRange(i).Height {
			return internal.Errorf(internal.ErrorCodeValidation, "level %d buffer is %s, expected %s", i, data.Rect, manifest.LevelRange(i))
		}
		if err := writeLevel(fs, filepath.Join(dir, LevelFileName(i, manifest.Compressed)), data, manifest.Compressed); err != nil {
			return internal.NewError(internal.ErrorCodeFileSystem, fmt.Sprintf("failed to write level %d", i), err)
		}
	}
	return nil
}

func writeLevel(fs afero.Fs, path string, data *raster.Data, compressed bool) (err error) {
	f, err := fs.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	var w io.Writer = f
	if compressed {
		encoder, zerr := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
		if zerr != nil {
			return zerr
		}
		defer func() {
			if cerr := encoder.Close(); err == nil {
				err = cerr
			}
		}()
		w = encoder
	}

	buf := make([]byte, sampleSize*data.Rect.Width)
	for y := 0; y < data.Rect.Height; y++ {
		for x := 0; x < data.Rect.Width; x++ {
			binary.LittleEndian.PutUint32(buf[x*sampleSize:], math.Float32bits(data.At(x, y)))
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}
