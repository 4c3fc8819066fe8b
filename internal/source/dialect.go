package source

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/jorgepascosoto/json-s3-export/internal/config"
)

// Dialect renders the database specific parts of the batch query.
type Dialect interface {
	Name() string
	DriverName() string
	QuoteIdentifier(name string) string
	Placeholder(index int) string
}

func NewDialect(dbType config.DatabaseType) (Dialect, error) {
	switch dbType {
	case config.DatabaseTypePostgres:
		return PostgresDialect{}, nil
	case config.DatabaseTypeMySQL:
		return MySQLDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

type PostgresDialect struct{}

func (PostgresDialect) Name() string { return "postgres" }

// DriverName is the database/sql name registered by pgx/v5/stdlib.
func (PostgresDialect) DriverName() string { return "pgx" }

func (PostgresDialect) QuoteIdentifier(name string) string {
	return pq.QuoteIdentifier(name)
}

func (PostgresDialect) Placeholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

type MySQLDialect struct{}

func (MySQLDialect) Name() string { return "mysql" }

func (MySQLDialect) DriverName() string { return "mysql" }

func (MySQLDialect) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (MySQLDialect) Placeholder(int) string {
	return "?"
}
