package compress

import (
	"bytes"
	"compress/gzip"
	"crypto/rand"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compressBytes(t *testing.T, c *GzipCompressor, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := c.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func decompressBytes(t *testing.T, c *GzipCompressor, data []byte) []byte {
	t.Helper()
	r, err := c.Open(bytes.NewReader(data))
	require.NoError(t, err)
	defer r.Close()
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return out
}

func TestNewGzipCompressor(t *testing.T) {
	t.Parallel()

	compressor := NewGzipCompressor()
	require.NotNil(t, compressor)
	assert.Equal(t, gzip.BestCompression, compressor.level)
	assert.Equal(t, ".gz", compressor.Extension())
}

func TestGzipCompressor_RoundTrip(t *testing.T) {
	t.Parallel()

	random := make([]byte, 10*1024)
	_, err := rand.Read(random)
	require.NoError(t, err)

	binary := make([]byte, 256)
	for i := range binary {
		binary[i] = byte(i)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"ndjson", []byte("{\"id\":1}\n{\"id\":2}\n")},
		{"random", random},
		{"binary", binary},
		{"unicode", []byte("café 日本 \x00\t\r\n")},
	}

	compressor := NewGzipCompressor()
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			compressed := compressBytes(t, compressor, tt.data)
			assert.Equal(t, tt.data, decompressBytes(t, compressor, compressed))
		})
	}
}

func TestGzipCompressor_ShrinksRepetitiveData(t *testing.T) {
	t.Parallel()

	var builder strings.Builder
	for builder.Len() < 1024*1024 {
		builder.WriteString("{\"id\":1,\"email\":\"someone@example.com\"}\n")
	}
	data := []byte(builder.String())

	compressor := NewGzipCompressor()
	compressed := compressBytes(t, compressor, data)
	assert.Less(t, len(compressed), len(data))
	assert.Equal(t, data, decompressBytes(t, compressor, compressed))
}

func TestGzipCompressor_OutputIsValidGzipHeader(t *testing.T) {
	t.Parallel()

	compressed := compressBytes(t, NewGzipCompressor(), []byte("Test data"))

	require.GreaterOrEqual(t, len(compressed), 10)
	assert.Equal(t, byte(0x1f), compressed[0])
	assert.Equal(t, byte(0x8b), compressed[1])
	assert.Equal(t, byte(0x08), compressed[2])
}

func TestGzipCompressor_OpenRejectsPlainText(t *testing.T) {
	t.Parallel()

	_, err := NewGzipCompressor().Open(strings.NewReader("not gzip at all"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open gzip stream")
}

func BenchmarkGzipCompressor_NDJSON(b *testing.B) {
	compressor := NewGzipCompressor()

	var builder strings.Builder
	for builder.Len() < 1024*1024 {
		builder.WriteString("{\"id\":1,\"email\":\"someone@example.com\"}\n")
	}
	data := []byte(builder.String())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w, _ := compressor.NewWriter(io.Discard)
		w.Write(data)
		w.Close()
	}
}
