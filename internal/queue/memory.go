package queue

import (
	"context"
	"sync"
	"time"

	"github.com/jorgepascosoto/json-s3-export/internal/errors"
)

// MemoryQueue keeps tasks in process. Anything pending or running is lost
// when the process exits.
type MemoryQueue struct {
	mu      sync.Mutex
	items   []*Task
	running map[string]*Task
	dead    []FailedTask
	closed  bool
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		items:   make([]*Task, 0, 64),
		running: make(map[string]*Task),
		dead:    make([]FailedTask, 0, 16),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.ErrQueueClosed
	}
	q.items = append(q.items, task)
	return nil
}

func (q *MemoryQueue) Claim(_ context.Context) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, errors.ErrQueueClosed
	}
	if len(q.items) == 0 {
		return nil, nil
	}
	task := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.running[task.ID] = task
	return task, nil
}

func (q *MemoryQueue) Complete(_ context.Context, task *Task, successor *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.ErrQueueClosed
	}
	delete(q.running, task.ID)
	if successor != nil {
		q.items = append(q.items, successor)
	}
	return nil
}

func (q *MemoryQueue) Fail(_ context.Context, task *Task, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.ErrQueueClosed
	}
	delete(q.running, task.ID)
	q.dead = append(q.dead, FailedTask{Task: *task, Reason: reason, FailedAt: time.Now().UTC()})
	return nil
}

func (q *MemoryQueue) Active(_ context.Context, table string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.items {
		if t.Table == table {
			return true, nil
		}
	}
	for _, t := range q.running {
		if t.Table == table {
			return true, nil
		}
	}
	return false, nil
}

// Failed returns the most recent failures first.
func (q *MemoryQueue) Failed(_ context.Context, limit int) ([]FailedTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if limit <= 0 || limit > len(q.dead) {
		limit = len(q.dead)
	}
	out := make([]FailedTask, 0, limit)
	for i := len(q.dead) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, q.dead[i])
	}
	return out, nil
}

func (q *MemoryQueue) Stats(_ context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending: len(q.items),
		Running: len(q.running),
		Failed:  len(q.dead),
	}, nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
