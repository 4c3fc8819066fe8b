// Package cursor reads a table in primary key order, one bounded batch at a
// time, and tracks where the next batch starts.
package cursor

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"

	"github.com/jorgepascosoto/json-s3-export/internal/catalog"
	"github.com/jorgepascosoto/json-s3-export/internal/errors"
	"github.com/jorgepascosoto/json-s3-export/internal/source"
)

// Record is one row keyed by column name.
type Record map[string]any

// Batch is an ordered slice of rows with primary key >= Start.
type Batch struct {
	Start   int64
	Size    int
	Records []Record
	LastKey int64
}

func (b *Batch) Len() int {
	return len(b.Records)
}

// Full reports whether the batch hit the size limit, meaning more rows may
// follow. A short batch, including an empty one, ends the chain, as does a
// batch ending at the largest possible key.
func (b *Batch) Full() bool {
	return len(b.Records) == b.Size && b.LastKey < math.MaxInt64
}

// NextOffset is the start of the following batch. It saturates at
// math.MaxInt64.
func (b *Batch) NextOffset() int64 {
	if len(b.Records) == 0 {
		return b.Start
	}
	if b.LastKey == math.MaxInt64 {
		return b.LastKey
	}
	return b.LastKey + 1
}

// Querier is satisfied by *sql.Tx and *sql.DB.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type Cursor struct {
	table catalog.TableDescriptor
	size  int
	query string
}

func New(dialect source.Dialect, table catalog.TableDescriptor, size int) (*Cursor, error) {
	if table.PrimaryKey == "" {
		return nil, fmt.Errorf("table %s: %w", table.Name, errors.ErrNoPrimaryKey)
	}
	if size <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", size)
	}

	pk := dialect.QuoteIdentifier(table.PrimaryKey)
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s >= %s ORDER BY %s ASC LIMIT %s",
		dialect.QuoteIdentifier(table.Name), pk, dialect.Placeholder(1), pk, dialect.Placeholder(2))

	return &Cursor{
		table: table,
		size:  size,
		query: query,
	}, nil
}

// Query returns the SQL used to fetch a batch.
func (c *Cursor) Query() string {
	return c.query
}

// Next fetches up to Size rows with primary key >= start in ascending order.
func (c *Cursor) Next(ctx context.Context, q Querier, start int64) (*Batch, error) {
	rows, err := q.QueryContext(ctx, c.query, start, c.size)
	if err != nil {
		return nil, source.Classify(fmt.Errorf("failed to query batch: %w", err))
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	pkIndex := -1
	for i, col := range columns {
		if col == c.table.PrimaryKey {
			pkIndex = i
			break
		}
	}
	if pkIndex < 0 {
		return nil, fmt.Errorf("column %s not returned for table %s: %w",
			c.table.PrimaryKey, c.table.Name, errors.ErrNoPrimaryKey)
	}

	// A redacted column that does not match a result column exactly would
	// be exported in the clear under its real name.
	if missing := lo.Without(c.table.RedactedColumns, columns...); len(missing) > 0 {
		return nil, fmt.Errorf("redacted columns %s not returned for table %s: %w",
			strings.Join(missing, ", "), c.table.Name, errors.ErrSchemaMismatch)
	}

	batch := &Batch{
		Start:   start,
		Size:    c.size,
		Records: make([]Record, 0, c.size),
		LastKey: start - 1,
	}

	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, source.Classify(fmt.Errorf("failed to scan row: %w", err))
		}

		key, err := keyToInt64(values[pkIndex])
		if err != nil {
			return nil, fmt.Errorf("column %s of table %s: %w", c.table.PrimaryKey, c.table.Name, err)
		}
		if key <= batch.LastKey {
			return nil, fmt.Errorf("column %s of table %s: key %d after %d: %w",
				c.table.PrimaryKey, c.table.Name, key, batch.LastKey, errors.ErrUnsortableKey)
		}
		batch.LastKey = key

		record := make(Record, len(columns))
		for i, col := range columns {
			record[col] = normalize(values[i])
		}
		batch.Records = append(batch.Records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, source.Classify(fmt.Errorf("failed to iterate rows: %w", err))
	}

	return batch, nil
}

func keyToInt64(v any) (int64, error) {
	switch k := v.(type) {
	case int64:
		return k, nil
	case int32:
		return int64(k), nil
	case int:
		return int64(k), nil
	case int16:
		return int64(k), nil
	case int8:
		return int64(k), nil
	case uint32:
		return int64(k), nil
	case uint64:
		if k > math.MaxInt64 {
			return 0, fmt.Errorf("key %d overflows int64: %w", k, errors.ErrUnsortableKey)
		}
		return int64(k), nil
	case []byte:
		return parseKey(string(k))
	case string:
		return parseKey(k)
	case nil:
		return 0, fmt.Errorf("null key: %w", errors.ErrNoPrimaryKey)
	default:
		return 0, fmt.Errorf("key of type %T: %w", v, errors.ErrUnsortableKey)
	}
}

func parseKey(s string) (int64, error) {
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("key %q: %w", s, errors.ErrUnsortableKey)
	}
	return i, nil
}

// normalize turns driver text values into strings so they encode as JSON
// strings rather than base64. Binary data that is not valid UTF-8 is kept.
func normalize(v any) any {
	if b, ok := v.([]byte); ok && utf8.Valid(b) {
		return string(b)
	}
	return v
}
