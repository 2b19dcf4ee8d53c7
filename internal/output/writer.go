// internal/output/writer.go - Output writing implementation
package output

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"
)

// NewWriter creates the writer selected by cfg. Stdout output goes to
// stdout, everything else to a file on fs.
func NewWriter(fs afero.Fs, cfg *Config, stdout io.Writer) (Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	formatter, err := NewFormatter(cfg.Format, cfg.Pretty)
	if err != nil {
		return nil, fmt.Errorf("failed to create formatter: %w", err)
	}
	if cfg.Stdout {
		return NewStdoutWriter(formatter, stdout), nil
	}
	return NewFileWriter(fs, formatter, Path(cfg, formatter), cfg.Compression)
}

// Path returns the file written for cfg, adding the format extension when
// the filename has none and a .gz suffix when compressing
func Path(cfg *Config, formatter Formatter) string {
	name := cfg.Filename
	if filepath.Ext(name) == "" {
		name += formatter.Extension()
	}
	if cfg.Compression && !strings.HasSuffix(name, ".gz") {
		name += ".gz"
	}
	return filepath.Join(cfg.Directory, name)
}

// FileWriter writes output to files with optional compression
type FileWriter struct {
	formatter   Formatter
	destination Destination
}

// NewFileWriter creates a new file-based writer
func NewFileWriter(fs afero.Fs, formatter Formatter, path string, compression bool) (*FileWriter, error) {
	dest, err := newFileDestination(fs, path, compression)
	if err != nil {
		return nil, fmt.Errorf("failed to create file destination: %w", err)
	}

	return &FileWriter{
		formatter:   formatter,
		destination: dest,
	}, nil
}

// Write writes a frame to the output destination
func (w *FileWriter) Write(frame *Frame) (*WriteResult, error) {
	start := time.Now()
	data, err := w.formatter.Format(frame)
	if err != nil {
		return nil, fmt.Errorf("formatting failed: %w", err)
	}

	n, err := w.destination.Write(data)
	if err != nil {
		return nil, fmt.Errorf("write failed: %w", err)
	}

	return &WriteResult{
		Destination:  w.destination.Name(),
		BytesWritten: int64(n),
		Duration:     time.Since(start),
	}, nil
}

// Close closes the writer and underlying destination
func (w *FileWriter) Close() error {
	return w.destination.Close()
}

// StdoutWriter writes output to standard output
type StdoutWriter struct {
	formatter Formatter
	out       io.Writer
}

// NewStdoutWriter creates a new stdout-based writer
func NewStdoutWriter(formatter Formatter, out io.Writer) *StdoutWriter {
	return &StdoutWriter{formatter: formatter, out: out}
}

// Write writes a frame to stdout
func (w *StdoutWriter) Write(frame *Frame) (*WriteResult, error) {
	start := time.Now()
	data, err := w.formatter.Format(frame)
	if err != nil {
		return nil, fmt.Errorf("formatting failed: %w", err)
	}

	n, err := w.out.Write(data)
	if err != nil {
		return nil, fmt.Errorf("write to stdout failed: %w", err)
	}

	// Add newline for readability
	if w.formatter.ContentType() != "image/png" {
		if _, err := w.out.Write([]byte("\n")); err != nil {
			return nil, err
		}
	}

	return &WriteResult{
		Destination:  "stdout",
		BytesWritten: int64(n),
		Duration:     time.Since(start),
	}, nil
}

// Close is a no-op for stdout writer
func (w *StdoutWriter) Close() error {
	return nil
}

// fileDestination implements the Destination interface for file output
type fileDestination struct {
	file       afero.File
	writer     io.Writer
	compressor *gzip.Writer
	name       string
	size       int64
}

// newFileDestination creates a new file destination with optional compression
func newFileDestination(fs afero.Fs, path string, compression bool) (*fileDestination, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	file, err := fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	dest := &fileDestination{file: file, writer: file, name: path}
	if compression {
		dest.compressor = gzip.NewWriter(file)
		dest.writer = dest.compressor
	}
	return dest, nil
}

// Write implements io.Writer
func (d *fileDestination) Write(p []byte) (n int, err error) {
	n, err = d.writer.Write(p)
	d.size += int64(n)
	return n, err
}

// Close flushes the compressor, if any, and closes the file
func (d *fileDestination) Close() error {
	if d.compressor != nil {
		if err := d.compressor.Close(); err != nil {
			d.file.Close()
			return fmt.Errorf("failed to flush compressed output: %w", err)
		}
	}
	return d.file.Close()
}

// Name returns the destination path
func (d *fileDestination) Name() string {
	return d.name
}

// Size returns the number of uncompressed bytes written
func (d *fileDestination) Size() int64 {
	return d.size
}
