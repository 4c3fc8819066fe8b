package source

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jorgepascosoto/json-s3-export/internal/config"
	"github.com/jorgepascosoto/json-s3-export/internal/errors"
)

func TestNewDialect(t *testing.T) {
	t.Parallel()

	pg, err := NewDialect(config.DatabaseTypePostgres)
	require.NoError(t, err)
	assert.Equal(t, "postgres", pg.Name())
	assert.Equal(t, "pgx", pg.DriverName())

	my, err := NewDialect(config.DatabaseTypeMySQL)
	require.NoError(t, err)
	assert.Equal(t, "mysql", my.Name())
	assert.Equal(t, "mysql", my.DriverName())

	_, err = NewDialect(config.DatabaseType("oracle"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type")
}

func TestDialect_QuoteIdentifier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		dialect  Dialect
		input    string
		expected string
	}{
		{"postgres simple", PostgresDialect{}, "users", `"users"`},
		{"postgres embedded quote", PostgresDialect{}, `we"ird`, `"we""ird"`},
		{"mysql simple", MySQLDialect{}, "users", "`users`"},
		{"mysql embedded backtick", MySQLDialect{}, "we`ird", "`we``ird`"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.dialect.QuoteIdentifier(tt.input))
		})
	}
}

func TestDialect_Placeholder(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "$1", PostgresDialect{}.Placeholder(1))
	assert.Equal(t, "$2", PostgresDialect{}.Placeholder(2))
	assert.Equal(t, "?", MySQLDialect{}.Placeholder(1))
	assert.Equal(t, "?", MySQLDialect{}.Placeholder(2))
}

func TestBuildDSN(t *testing.T) {
	t.Parallel()

	pg := &config.DatabaseConfig{
		Type:             config.DatabaseTypePostgres,
		ConnectionString: "postgres://user:pass@db:5432/forum?sslmode=require",
	}
	dsn, err := buildDSN(pg)
	require.NoError(t, err)
	assert.Equal(t, pg.ConnectionString, dsn)

	my := &config.DatabaseConfig{
		Type:     config.DatabaseTypeMySQL,
		Host:     "mysql.example.com",
		Port:     3307,
		Name:     "shop",
		User:     "root",
		Password: "rootpass",
	}
	dsn, err = buildDSN(my)
	require.NoError(t, err)
	assert.Contains(t, dsn, "root:rootpass@tcp(mysql.example.com:3307)/shop")
	assert.Contains(t, dsn, "parseTime=true")

	_, err = buildDSN(&config.DatabaseConfig{Type: "oracle"})
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"pg serialization failure", &pgconn.PgError{Code: "40001"}, errors.ErrTransactionConflict},
		{"pg deadlock", &pgconn.PgError{Code: "40P01"}, errors.ErrTransactionConflict},
		{"pg undefined table", &pgconn.PgError{Code: "42P01"}, errors.ErrSchemaMismatch},
		{"pg undefined column", &pgconn.PgError{Code: "42703"}, errors.ErrSchemaMismatch},
		{"mysql deadlock", &mysql.MySQLError{Number: 1213}, errors.ErrTransactionConflict},
		{"mysql lock wait", &mysql.MySQLError{Number: 1205}, errors.ErrTransactionConflict},
		{"mysql bad field", &mysql.MySQLError{Number: 1054}, errors.ErrSchemaMismatch},
		{"mysql no such table", &mysql.MySQLError{Number: 1146}, errors.ErrSchemaMismatch},
		{"wrapped pg error", fmt.Errorf("query: %w", &pgconn.PgError{Code: "40001"}), errors.ErrTransactionConflict},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			classified := Classify(tt.err)
			assert.True(t, errors.Is(classified, tt.sentinel))
			assert.True(t, errors.Is(classified, tt.err))
		})
	}
}

func TestClassify_Passthrough(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Classify(nil))

	other := &pgconn.PgError{Code: "23505"}
	assert.Equal(t, error(other), Classify(other))

	plain := fmt.Errorf("boom")
	assert.Equal(t, plain, Classify(plain))

	already := fmt.Errorf("%w: x", errors.ErrTransactionConflict)
	assert.Equal(t, already, Classify(already))
}

func TestReadSnapshot_Commits(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
	mock.ExpectCommit()

	err = ReadSnapshot(context.Background(), db, func(tx *sql.Tx) error {
		var one int
		return tx.QueryRowContext(context.Background(), "SELECT 1").Scan(&one)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadSnapshot_RollsBackOnError(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	err = ReadSnapshot(context.Background(), db, func(tx *sql.Tx) error {
		return &pgconn.PgError{Code: "40001"}
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTransactionConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadSnapshot_BeginFails(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin().WillReturnError(fmt.Errorf("connection reset"))

	called := false
	err = ReadSnapshot(context.Background(), db, func(tx *sql.Tx) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
	assert.Contains(t, err.Error(), "failed to begin serializable transaction")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadSnapshot_CommitConflict(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(&pgconn.PgError{Code: "40001"})

	err = ReadSnapshot(context.Background(), db, func(tx *sql.Tx) error { return nil })
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTransactionConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotOptions(t *testing.T) {
	t.Parallel()

	assert.Equal(t, sql.LevelSerializable, SnapshotOptions.Isolation)
	assert.True(t, SnapshotOptions.ReadOnly)
}
