// internal/source/factory.go - Retriever factory
package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"github.com/valpere/rastertiles/internal"
	"github.com/valpere/rastertiles/internal/config"
)

// SyntheticManifest describes the generated raster of a memory source
func SyntheticManifest(cfg config.SyntheticConfig, levels int) Manifest {
	return Manifest{
		Name:       cfg.Name,
		CRS:        cfg.CRS,
		Envelope:   [4]float64{cfg.Envelope.Min[0], cfg.Envelope.Min[1], cfg.Envelope.Max[0], cfg.Envelope.Max[1]},
		Width:      cfg.Width,
		Height:     cfg.Height,
		Levels:     levels,
		Unit:       cfg.Unit,
		NoData:     cfg.NoData,
		Compressed: cfg.Compressed,
	}
}

// NewRetriever creates the retriever selected by the source configuration
func NewRetriever(ctx context.Context, cfg *config.Config) (Retriever, error) {
	var r Retriever
	var err error

	switch internal.SourceType(strings.ToLower(cfg.Source.Type)) {
	case internal.SourceTypeMemory:
		manifest := SyntheticManifest(cfg.Source.Synthetic, cfg.Tileset.Levels)
		r, err = NewMemoryStore(ctx, manifest, Synthetic(manifest))
	case internal.SourceTypeFile:
		r, err = OpenFileStore(afero.NewOsFs(), cfg.Source.Path)
	case internal.SourceTypeS3:
		opts := S3Options{
			Endpoint:  cfg.Source.S3.Endpoint,
			AccessKey: cfg.Source.S3.AccessKey,
			SecretKey: cfg.Source.S3.SecretKey,
			Secure:    cfg.Source.S3.Secure,
			Bucket:    cfg.Source.S3.Bucket,
			Prefix:    cfg.Source.S3.Prefix,
			Workdir:   cfg.Source.Path,
		}
		client, cerr := NewMinioClient(opts)
		if cerr != nil {
			return nil, internal.NewError(internal.ErrorCodeConfig, "failed to create s3 client", cerr)
		}
		r, err = NewS3Store(ctx, client, opts)
	default:
		return nil, fmt.Errorf("unsupported source type: %s", cfg.Source.Type)
	}
	if err != nil {
		return nil, err
	}

	if levels := r.Manifest().Levels; levels < cfg.Tileset.Levels {
		r.Close()
		return nil, internal.Errorf(internal.ErrorCodeConfig,
			"source holds %d levels, tileset needs %d", levels, cfg.Tileset.Levels)
	}
	return r, nil
}
