// Package queue schedules export tasks. Each task is one batch of one table;
// a chain of tasks covers the whole table for a cycle.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusFailed  Status = "failed"
)

// Task is a single scheduled batch. Batches, Rows and Bytes carry the totals
// of the tasks that came before it in the same chain.
type Task struct {
	ID           string
	ChainID      string
	Table        string
	StartOffset  int64
	Batches      int
	Rows         int64
	Bytes        int64
	ChainStarted time.Time
	EnqueuedAt   time.Time
}

// TaskHandle identifies an enqueued task to the caller that scheduled it.
type TaskHandle struct {
	ID          string
	ChainID     string
	Table       string
	StartOffset int64
}

// NewChainTask starts a new chain for table.
func NewChainTask(table string, offset int64) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:           uuid.NewString(),
		ChainID:      uuid.NewString(),
		Table:        table,
		StartOffset:  offset,
		ChainStarted: now,
		EnqueuedAt:   now,
	}
}

// Successor is the next task in the chain after this one exported rows rows
// and bytes bytes.
func (t *Task) Successor(next int64, rows int, bytes int64) *Task {
	return &Task{
		ID:           uuid.NewString(),
		ChainID:      t.ChainID,
		Table:        t.Table,
		StartOffset:  next,
		Batches:      t.Batches + 1,
		Rows:         t.Rows + int64(rows),
		Bytes:        t.Bytes + bytes,
		ChainStarted: t.ChainStarted,
		EnqueuedAt:   time.Now().UTC(),
	}
}

func (t *Task) Handle() TaskHandle {
	return TaskHandle{
		ID:          t.ID,
		ChainID:     t.ChainID,
		Table:       t.Table,
		StartOffset: t.StartOffset,
	}
}

// FailedTask is a task that ended its chain with a failure.
type FailedTask struct {
	Task
	Reason   string
	FailedAt time.Time
}

type Stats struct {
	Pending int
	Running int
	Failed  int
}

// Idle reports whether no task is waiting or in progress.
func (s Stats) Idle() bool {
	return s.Pending == 0 && s.Running == 0
}

// Queue hands tasks to workers. Claim returns nil when nothing is pending.
// Complete removes a finished task and enqueues its successor, if any, in one
// step so a chain is never observed without a pending or running task.
type Queue interface {
	Enqueue(ctx context.Context, task *Task) error
	Claim(ctx context.Context) (*Task, error)
	Complete(ctx context.Context, task *Task, successor *Task) error
	Fail(ctx context.Context, task *Task, reason string) error
	Active(ctx context.Context, table string) (bool, error)
	Failed(ctx context.Context, limit int) ([]FailedTask, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}
