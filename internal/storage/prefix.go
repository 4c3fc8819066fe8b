package storage

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jorgepascosoto/json-s3-export/internal/compress"
)

const dataPrefix = "data-"

// ContentType of every artifact. The objects are stored as gzip files, not
// with a gzip content encoding, so downloads keep their compressed bytes.
const ContentType = "application/x-ndjson"

// ObjectKey names the artifact for the batch of table starting at offset.
func ObjectKey(table string, offset int64) string {
	return fmt.Sprintf("%s/%s%d%s", table, dataPrefix, offset, compress.Extension)
}

// TablePrefix is the key prefix shared by all of a table's artifacts. The
// trailing slash keeps "users" from matching "users_archive".
func TablePrefix(table string) string {
	return table + "/"
}

// ParseObjectKey reverses ObjectKey.
func ParseObjectKey(key string) (table string, offset int64, err error) {
	table, name, ok := strings.Cut(key, "/")
	if !ok || table == "" {
		return "", 0, fmt.Errorf("object key %q has no table prefix", key)
	}
	if !strings.HasPrefix(name, dataPrefix) || !strings.HasSuffix(name, compress.Extension) {
		return "", 0, fmt.Errorf("object key %q is not an export artifact", key)
	}

	digits := strings.TrimSuffix(strings.TrimPrefix(name, dataPrefix), compress.Extension)
	offset, err = strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("object key %q has invalid offset: %w", key, err)
	}
	return table, offset, nil
}

// SortByOffset orders artifact keys by their numeric start offset so that
// data-1001 follows data-1 rather than data-100. Keys that do not parse sort
// last in their original order.
func SortByOffset(objects []Object) {
	offset := func(o Object) (int64, bool) {
		_, off, err := ParseObjectKey(o.Key)
		return off, err == nil
	}
	sort.SliceStable(objects, func(i, j int) bool {
		oa, okA := offset(objects[i])
		ob, okB := offset(objects[j])
		switch {
		case okA && okB:
			return oa < ob
		case okA:
			return true
		default:
			return false
		}
	})
}
