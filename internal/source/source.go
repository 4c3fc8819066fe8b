// Package source opens the database being exported and runs batch reads
// inside serializable, read-only transactions.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	log "github.com/sirupsen/logrus"

	"github.com/jorgepascosoto/json-s3-export/internal/config"
)

// Open connects to the source database described by db and verifies the
// connection with a ping.
func Open(ctx context.Context, db *config.DatabaseConfig, maxConns int) (*sql.DB, Dialect, error) {
	dialect, err := NewDialect(db.Type)
	if err != nil {
		return nil, nil, err
	}

	dsn, err := buildDSN(db)
	if err != nil {
		return nil, nil, err
	}

	conn, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s connection: %w", dialect.Name(), err)
	}
	conn.SetMaxOpenConns(maxConns)
	conn.SetMaxIdleConns(maxConns)
	conn.SetConnMaxLifetime(30 * time.Minute)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to ping %s database %s: %w", dialect.Name(), db.Name, err)
	}

	log.WithFields(log.Fields{
		"type":     dialect.Name(),
		"host":     db.Host,
		"database": db.Name,
	}).Info("Connected to source database")

	return conn, dialect, nil
}

func buildDSN(db *config.DatabaseConfig) (string, error) {
	switch db.Type {
	case config.DatabaseTypePostgres:
		// pgx accepts postgres:// URLs as is
		return db.ConnectionString, nil
	case config.DatabaseTypeMySQL:
		// go-sql-driver/mysql does not accept URLs, so rebuild the DSN
		mc := mysql.NewConfig()
		mc.User = db.User
		mc.Passwd = db.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(db.Host, strconv.Itoa(db.Port))
		mc.DBName = db.Name
		mc.ParseTime = true
		return mc.FormatDSN(), nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", db.Type)
	}
}
