package compress

import (
	"compress/gzip"
	"fmt"
	"io"
)

const Extension = ".gz"

type GzipCompressor struct {
	level int
}

func NewGzipCompressor() *GzipCompressor {
	return &GzipCompressor{level: gzip.BestCompression}
}

// NewWriter wraps w so everything written to the returned writer lands in w
// compressed. The caller must Close the writer to flush the gzip trailer.
func (c *GzipCompressor) NewWriter(w io.Writer) (*gzip.Writer, error) {
	return gzip.NewWriterLevel(w, c.level)
}

// Open returns a reader over the decompressed contents of r.
func (c *GzipCompressor) Open(r io.Reader) (io.ReadCloser, error) {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	return gr, nil
}

func (c *GzipCompressor) Extension() string {
	return Extension
}
