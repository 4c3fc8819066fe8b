package source

import (
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jorgepascosoto/json-s3-export/internal/errors"
)

// SQLSTATE codes returned by PostgreSQL.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUndefinedTable       = "42P01"
	pgUndefinedColumn      = "42703"
)

// MySQL server error numbers.
const (
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
	mysqlBadField        = 1054
	mysqlNoSuchTable     = 1146
)

// Classify wraps driver errors with the matching sentinel so the export job
// can tell transaction conflicts from structural problems.
func Classify(err error) error {
	if err == nil || errors.Is(err, errors.ErrTransactionConflict) || errors.Is(err, errors.ErrSchemaMismatch) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%w: %w", errors.ErrTransactionConflict, err)
		case pgUndefinedTable, pgUndefinedColumn:
			return fmt.Errorf("%w: %w", errors.ErrSchemaMismatch, err)
		}
		return err
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlLockWaitTimeout, mysqlDeadlock:
			return fmt.Errorf("%w: %w", errors.ErrTransactionConflict, err)
		case mysqlBadField, mysqlNoSuchTable:
			return fmt.Errorf("%w: %w", errors.ErrSchemaMismatch, err)
		}
	}

	return err
}
