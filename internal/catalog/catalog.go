// Package catalog holds the explicit list of exportable tables together with
// their primary key and redaction metadata.
package catalog

import (
	"fmt"
	"os"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/jorgepascosoto/json-s3-export/internal/errors"
)

// TableDescriptor describes one exportable table.
type TableDescriptor struct {
	Name            string   `yaml:"name"`
	PrimaryKey      string   `yaml:"primary_key"`
	RedactedColumns []string `yaml:"redacted_columns,omitempty"`

	redacted map[string]struct{}
}

// IsRedacted reports whether column must be left out of exported records.
func (d TableDescriptor) IsRedacted(column string) bool {
	if d.redacted != nil {
		_, ok := d.redacted[column]
		return ok
	}
	return lo.Contains(d.RedactedColumns, column)
}

// Catalog is a versioned, ordered list of table descriptors.
type Catalog struct {
	Version int               `yaml:"version"`
	Tables  []TableDescriptor `yaml:"tables"`

	byName map[string]int
}

// Load reads and validates a YAML catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read table catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("invalid table catalog: %w", err)
	}
	if err := c.init(); err != nil {
		return nil, err
	}
	return &c, nil
}

// New builds a catalog from descriptors declared in code.
func New(version int, tables ...TableDescriptor) (*Catalog, error) {
	c := &Catalog{Version: version, Tables: tables}
	if err := c.init(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) init() error {
	if err := c.Validate(); err != nil {
		return err
	}

	c.byName = make(map[string]int, len(c.Tables))
	for i := range c.Tables {
		t := &c.Tables[i]
		t.redacted = lo.Associate(t.RedactedColumns, func(col string) (string, struct{}) {
			return col, struct{}{}
		})
		c.byName[t.Name] = i
	}
	return nil
}

func (c *Catalog) Validate() error {
	if c.Version < 1 {
		return errors.NewConfigError("version", "catalog version must be at least 1")
	}
	if len(c.Tables) == 0 {
		return errors.NewConfigError("tables", "catalog must declare at least one table")
	}

	names := lo.Map(c.Tables, func(t TableDescriptor, _ int) string { return t.Name })
	if dups := lo.FindDuplicates(names); len(dups) > 0 {
		return errors.NewConfigError("tables", fmt.Sprintf("duplicate table names: %s", strings.Join(dups, ", ")))
	}

	for i, t := range c.Tables {
		if t.Name == "" {
			return errors.NewConfigError(fmt.Sprintf("tables[%d].name", i), "table name is required")
		}
		if strings.Contains(t.Name, "/") {
			return errors.NewConfigError(fmt.Sprintf("tables[%d].name", i), "table name must not contain '/'")
		}
		if t.PrimaryKey == "" {
			return errors.NewConfigError(fmt.Sprintf("tables[%d].primary_key", i),
				fmt.Sprintf("table %s: %v", t.Name, errors.ErrNoPrimaryKey))
		}
		if lo.Contains(t.RedactedColumns, t.PrimaryKey) {
			return errors.NewConfigError(fmt.Sprintf("tables[%d].redacted_columns", i),
				fmt.Sprintf("table %s: primary key %s cannot be redacted", t.Name, t.PrimaryKey))
		}
	}

	return nil
}

// Lookup returns the descriptor registered under name.
func (c *Catalog) Lookup(name string) (TableDescriptor, bool) {
	i, ok := c.byName[name]
	if !ok {
		return TableDescriptor{}, false
	}
	return c.Tables[i], true
}

// Names returns table names in declaration order.
func (c *Catalog) Names() []string {
	return lo.Map(c.Tables, func(t TableDescriptor, _ int) string { return t.Name })
}
