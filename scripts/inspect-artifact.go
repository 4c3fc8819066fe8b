// Usage: go run scripts/inspect-artifact.go <artifact-file> [object-key]
// Checks that a downloaded export artifact is gzip NDJSON and prints its row
// count and column names. With an object key, also checks that every row's
// id is at or above the key's start offset.
package main

import (
	"bufio"
	"fmt"
	"os"
	"sort"

	"github.com/goccy/go-json"
	"github.com/jorgepascosoto/json-s3-export/internal/compress"
	"github.com/jorgepascosoto/json-s3-export/internal/storage"
)

func main() {
	if len(os.Args) < 2 || len(os.Args) > 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s <artifact-file> [object-key]\n", os.Args[0])
		os.Exit(1)
	}

	minOffset := int64(0)
	if len(os.Args) == 3 {
		table, offset, err := storage.ParseObjectKey(os.Args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		fmt.Printf("table %s, start offset %d\n", table, offset)
		minOffset = offset
	}

	f, err := os.Open(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open artifact: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	r, err := compress.NewGzipCompressor().Open(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer r.Close()

	columns := make(map[string]struct{})
	rows := 0
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		rows++
		var record map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			fmt.Fprintf(os.Stderr, "Line %d is not a JSON object: %v\n", rows, err)
			os.Exit(1)
		}
		for col := range record {
			columns[col] = struct{}{}
		}
		if id, ok := record["id"].(float64); ok && minOffset > 0 && int64(id) < minOffset {
			fmt.Fprintf(os.Stderr, "Line %d has id %d below start offset %d\n", rows, int64(id), minOffset)
			os.Exit(1)
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read artifact: %v\n", err)
		os.Exit(1)
	}

	names := make([]string, 0, len(columns))
	for col := range columns {
		names = append(names, col)
	}
	sort.Strings(names)

	fmt.Printf("%d row(s)\n", rows)
	fmt.Printf("columns: %v\n", names)
}
