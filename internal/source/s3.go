// internal/source/s3.go - Raster pyramids mirrored from S3-compatible storage
package source

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/valpere/rastertiles/internal"
)

// s3Client is the subset of minio.Client used by S3Store.
// Tests substitute a fake implementation.
type s3Client interface {
	FGetObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.GetObjectOptions) error
}

// S3Options locate a pyramid in object storage
type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
	Bucket    string
	Prefix    string
	Workdir   string
}

// S3Store mirrors a pyramid directory from a bucket into a local working
// directory and serves it from there.
type S3Store struct {
	*FileStore
	bucket string
	prefix string
}

// NewMinioClient connects to an S3-compatible endpoint
func NewMinioClient(opts S3Options) (*minio.Client, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
	})
	if err != nil {
		return nil, err
	}
	client.SetAppInfo("rastertiles", "1.0")
	return client, nil
}

// NewS3Store downloads the manifest and every level file not yet present in
// the working directory, then opens the mirrored store.
func NewS3Store(ctx context.Context, client s3Client, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, internal.Errorf(internal.ErrorCodeValidation, "s3 bucket is required")
	}
	if err := os.MkdirAll(opts.Workdir, 0o755); err != nil {
		return nil, internal.NewError(internal.ErrorCodeFileSystem, fmt.Sprintf("cannot create workdir: %s", opts.Workdir), err)
	}

	s := &S3Store{bucket: opts.Bucket, prefix: opts.Prefix}
	manifestPath := filepath.Join(opts.Workdir, ManifestFile)
	if err := s.fetch(ctx, client, ManifestFile, manifestPath, true); err != nil {
		return nil, err
	}

	buf, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeFileSystem, "cannot read mirrored manifest", err)
	}
	var manifest Manifest
	if err := yaml.Unmarshal(buf, &manifest); err != nil {
		return nil, internal.NewError(internal.ErrorCodeValidation, "invalid mirrored manifest", err)
	}
	if err := manifest.Validate(); err != nil {
		return nil, internal.NewError(internal.ErrorCodeValidation, "invalid mirrored manifest", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for level := 0; level < manifest.Levels; level++ {
		name := LevelFileName(level, manifest.Compressed)
		g.Go(func() error {
			return s.fetch(gctx, client, name, filepath.Join(opts.Workdir, name), false)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fs, err := OpenFileStore(afero.NewOsFs(), opts.Workdir)
	if err != nil {
		return nil, err
	}
	s.FileStore = fs
	return s, nil
}

// fetch downloads one object unless a local copy exists. The manifest is
// always refreshed so a republished pyramid is noticed.
func (s *S3Store) fetch(ctx context.Context, client s3Client, name, dest string, refresh bool) error {
	if !refresh {
		if _, err := os.Stat(dest); err == nil {
			return nil
		}
	}
	tmpPath := dest + ".tmp"
	key := path.Join(s.prefix, name)
	if err := client.FGetObject(ctx, s.bucket, key, tmpPath, minio.GetObjectOptions{}); err != nil {
		return internal.NewError(internal.ErrorCodeRetrieval, fmt.Sprintf("failed to download s3://%s/%s", s.bucket, key), err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return internal.NewError(internal.ErrorCodeFileSystem, fmt.Sprintf("failed to store %s", dest), err)
	}
	return nil
}
