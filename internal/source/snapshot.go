package source

import (
	"context"
	"database/sql"
	"fmt"
)

// TxBeginner is satisfied by *sql.DB.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// SnapshotOptions is the isolation used for every batch read.
var SnapshotOptions = &sql.TxOptions{
	Isolation: sql.LevelSerializable,
	ReadOnly:  true,
}

// ReadSnapshot runs fn inside a serializable, read-only transaction. The
// transaction is committed only when fn succeeds; any error from fn rolls it
// back. Commit and begin failures are classified.
func ReadSnapshot(ctx context.Context, db TxBeginner, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, SnapshotOptions)
	if err != nil {
		return Classify(fmt.Errorf("failed to begin serializable transaction: %w", err))
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return Classify(err)
	}

	if err := tx.Commit(); err != nil {
		return Classify(fmt.Errorf("failed to commit serializable transaction: %w", err))
	}
	return nil
}
