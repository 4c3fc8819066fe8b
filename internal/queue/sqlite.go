package queue

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// SQLiteQueue persists tasks so unfinished chains survive a restart. Tasks
// that were running when the process stopped are made pending again on open.
type SQLiteQueue struct {
	db *sql.DB
}

func NewSQLiteQueue(ctx context.Context, path string) (*SQLiteQueue, error) {
	q, err := openSQLiteQueue(ctx, path)
	if err != nil {
		return nil, err
	}

	recovered, err := q.recover(ctx)
	if err != nil {
		q.Close()
		return nil, fmt.Errorf("recovering running tasks: %w", err)
	}
	if recovered > 0 {
		log.WithFields(log.Fields{"path": path, "tasks": recovered}).Info("Re-queued tasks left running by a previous process")
	}

	return q, nil
}

// InspectSQLiteQueue opens a queue for reading without touching tasks that
// another process may still be running.
func InspectSQLiteQueue(ctx context.Context, path string) (*SQLiteQueue, error) {
	return openSQLiteQueue(ctx, path)
}

func openSQLiteQueue(ctx context.Context, path string) (*SQLiteQueue, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating queue dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening queue database: %w", err)
	}
	// A single connection serializes claims without row locks.
	db.SetMaxOpenConns(1)

	q := &SQLiteQueue{db: db}
	if err := q.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating queue schema: %w", err)
	}
	return q, nil
}

func (q *SQLiteQueue) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS export_tasks (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		chain_id TEXT NOT NULL,
		table_name TEXT NOT NULL,
		start_offset INTEGER NOT NULL,
		batches INTEGER NOT NULL DEFAULT 0,
		rows_done INTEGER NOT NULL DEFAULT 0,
		bytes_done INTEGER NOT NULL DEFAULT 0,
		chain_started TEXT NOT NULL,
		enqueued_at TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		error_message TEXT,
		failed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_export_tasks_status ON export_tasks(status, seq);
	CREATE INDEX IF NOT EXISTS idx_export_tasks_table ON export_tasks(table_name, status);
	`

	_, err := q.db.ExecContext(ctx, schema)
	return err
}

func (q *SQLiteQueue) recover(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE export_tasks SET status = 'pending' WHERE status = 'running'`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertTask(ctx context.Context, e execer, task *Task) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO export_tasks (id, chain_id, table_name, start_offset, batches, rows_done, bytes_done,
			chain_started, enqueued_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending')
	`, task.ID, task.ChainID, task.Table, task.StartOffset, task.Batches, task.Rows, task.Bytes,
		formatTime(task.ChainStarted), formatTime(task.EnqueuedAt))
	if err != nil {
		return fmt.Errorf("inserting task %s: %w", task.ID, err)
	}
	return nil
}

func (q *SQLiteQueue) Enqueue(ctx context.Context, task *Task) error {
	return insertTask(ctx, q.db, task)
}

func (q *SQLiteQueue) Claim(ctx context.Context) (*Task, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim: %w", err)
	}
	defer tx.Rollback()

	var (
		t            Task
		seq          int64
		chainStarted string
		enqueuedAt   string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT seq, id, chain_id, table_name, start_offset, batches, rows_done, bytes_done, chain_started, enqueued_at
		FROM export_tasks WHERE status = 'pending'
		ORDER BY seq LIMIT 1
	`).Scan(&seq, &t.ID, &t.ChainID, &t.Table, &t.StartOffset, &t.Batches, &t.Rows, &t.Bytes, &chainStarted, &enqueuedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting pending task: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE export_tasks SET status = 'running' WHERE seq = ?`, seq); err != nil {
		return nil, fmt.Errorf("marking task running: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	t.ChainStarted = parseTime(chainStarted)
	t.EnqueuedAt = parseTime(enqueuedAt)
	return &t, nil
}

func (q *SQLiteQueue) Complete(ctx context.Context, task *Task, successor *Task) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning complete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM export_tasks WHERE id = ?`, task.ID); err != nil {
		return fmt.Errorf("deleting task %s: %w", task.ID, err)
	}
	if successor != nil {
		if err := insertTask(ctx, tx, successor); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (q *SQLiteQueue) Fail(ctx context.Context, task *Task, reason string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE export_tasks SET status = 'failed', error_message = ?, failed_at = ?
		WHERE id = ?
	`, reason, formatTime(time.Now().UTC()), task.ID)
	if err != nil {
		return fmt.Errorf("failing task %s: %w", task.ID, err)
	}
	return nil
}

func (q *SQLiteQueue) Active(ctx context.Context, table string) (bool, error) {
	var count int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM export_tasks
		WHERE table_name = ? AND status IN ('pending', 'running')
	`, table).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking active chain for %s: %w", table, err)
	}
	return count > 0, nil
}

// Failed returns the most recent failures first.
func (q *SQLiteQueue) Failed(ctx context.Context, limit int) ([]FailedTask, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, chain_id, table_name, start_offset, batches, rows_done, bytes_done,
			chain_started, enqueued_at, COALESCE(error_message, ''), COALESCE(failed_at, '')
		FROM export_tasks WHERE status = 'failed'
		ORDER BY seq DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing failed tasks: %w", err)
	}
	defer rows.Close()

	var out []FailedTask
	for rows.Next() {
		var f FailedTask
		var chainStarted, enqueuedAt, failedAt string
		if err := rows.Scan(&f.ID, &f.ChainID, &f.Table, &f.StartOffset, &f.Batches, &f.Rows, &f.Bytes,
			&chainStarted, &enqueuedAt, &f.Reason, &failedAt); err != nil {
			return nil, err
		}
		f.ChainStarted = parseTime(chainStarted)
		f.EnqueuedAt = parseTime(enqueuedAt)
		f.FailedAt = parseTime(failedAt)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (q *SQLiteQueue) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := q.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'running' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
		FROM export_tasks
	`).Scan(&s.Pending, &s.Running, &s.Failed)
	return s, err
}

func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
