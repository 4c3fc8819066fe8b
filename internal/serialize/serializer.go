// Package serialize turns a batch of records into a gzip-compressed
// newline-delimited JSON artifact backed by a temporary file.
package serialize

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"

	"github.com/jorgepascosoto/json-s3-export/internal/catalog"
	"github.com/jorgepascosoto/json-s3-export/internal/compress"
	"github.com/jorgepascosoto/json-s3-export/internal/cursor"
	"github.com/jorgepascosoto/json-s3-export/internal/errors"
)

type Serializer struct {
	compressor *compress.GzipCompressor
	tempDir    string
}

// New creates a serializer that stages artifacts under tempDir. An empty
// tempDir uses the system default.
func New(tempDir string) *Serializer {
	return &Serializer{
		compressor: compress.NewGzipCompressor(),
		tempDir:    tempDir,
	}
}

// Serialize writes one JSON object per record, omitting the table's redacted
// columns. The returned artifact is positioned at the start of the compressed
// data and removes its temp file on Close.
func (s *Serializer) Serialize(table catalog.TableDescriptor, records []cursor.Record) (*Artifact, error) {
	f, err := os.CreateTemp(s.tempDir, "export-"+table.Name+"-*"+s.compressor.Extension())
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	artifact := &Artifact{file: f, Rows: len(records)}
	if err := s.encode(f, table, records); err != nil {
		artifact.Close()
		return nil, fmt.Errorf("table %s: %w: %w", table.Name, errors.ErrSerializationFailed, err)
	}

	info, err := f.Stat()
	if err != nil {
		artifact.Close()
		return nil, fmt.Errorf("failed to stat artifact: %w", err)
	}
	artifact.Size = info.Size()

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		artifact.Close()
		return nil, fmt.Errorf("failed to rewind artifact: %w", err)
	}

	return artifact, nil
}

func (s *Serializer) encode(w io.Writer, table catalog.TableDescriptor, records []cursor.Record) error {
	buf := bufio.NewWriter(w)
	gw, err := s.compressor.NewWriter(buf)
	if err != nil {
		return err
	}

	// Encode appends the newline that terminates each record.
	enc := json.NewEncoder(gw)
	enc.SetEscapeHTML(false)

	for i, record := range records {
		if err := enc.Encode(redact(table, record)); err != nil {
			gw.Close()
			return fmt.Errorf("record %d: %w", i, err)
		}
	}

	if err := gw.Close(); err != nil {
		return err
	}
	return buf.Flush()
}

func redact(table catalog.TableDescriptor, record cursor.Record) map[string]any {
	out := make(map[string]any, len(record))
	for col, v := range record {
		if table.IsRedacted(col) {
			continue
		}
		out[col] = v
	}
	return out
}

// Artifact is a staged, compressed batch ready for upload.
type Artifact struct {
	file *os.File
	Rows int
	Size int64
}

func (a *Artifact) Read(p []byte) (int, error) {
	return a.file.Read(p)
}

func (a *Artifact) Seek(offset int64, whence int) (int64, error) {
	return a.file.Seek(offset, whence)
}

func (a *Artifact) ReadAt(p []byte, off int64) (int, error) {
	return a.file.ReadAt(p, off)
}

// Close releases and deletes the temp file. It is safe to call more than once.
func (a *Artifact) Close() error {
	if a.file == nil {
		return nil
	}
	name := a.file.Name()
	closeErr := a.file.Close()
	a.file = nil
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove temp file: %w", err)
	}
	return closeErr
}
