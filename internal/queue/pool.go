package queue

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
)

const DefaultPollInterval = time.Second

// Handler executes one task. It must not enqueue successors itself; the pool
// does that from the returned outcome.
type Handler func(ctx context.Context, task *Task) Outcome

// Pool runs tasks from a queue on a fixed number of workers. Tasks of
// different tables run concurrently; a chain stays sequential because its next
// task only exists once the previous one has completed.
type Pool struct {
	queue        Queue
	handler      Handler
	workers      int
	pollInterval time.Duration
}

func NewPool(q Queue, handler Handler, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		queue:        q,
		handler:      handler,
		workers:      workers,
		pollInterval: DefaultPollInterval,
	}
}

func (p *Pool) WithPollInterval(d time.Duration) *Pool {
	if d > 0 {
		p.pollInterval = d
	}
	return p
}

// Run processes tasks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) {
	p.start(ctx, false)
}

// Drain processes tasks until the queue has nothing pending or running, or
// ctx is cancelled.
func (p *Pool) Drain(ctx context.Context) error {
	p.start(ctx, true)
	return ctx.Err()
}

func (p *Pool) start(ctx context.Context, drain bool) {
	workers := pool.New().WithMaxGoroutines(p.workers)
	for i := 0; i < p.workers; i++ {
		id := i + 1
		workers.Go(func() {
			p.work(ctx, id, drain)
		})
	}
	workers.Wait()
}

func (p *Pool) work(ctx context.Context, id int, drain bool) {
	logger := log.WithField("worker", id)

	for ctx.Err() == nil {
		task, err := p.queue.Claim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).Error("Failed to claim task")
			p.wait(ctx)
			continue
		}

		if task == nil {
			if drain && p.idle(ctx, logger) {
				return
			}
			p.wait(ctx)
			continue
		}

		p.process(ctx, logger, task)
	}
}

func (p *Pool) idle(ctx context.Context, logger *log.Entry) bool {
	stats, err := p.queue.Stats(ctx)
	if err != nil {
		logger.WithError(err).Warn("Failed to read queue stats")
		return false
	}
	return stats.Idle()
}

func (p *Pool) wait(ctx context.Context) {
	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (p *Pool) process(ctx context.Context, logger *log.Entry, task *Task) {
	outcome := p.run(ctx, task)

	// A task interrupted by shutdown stays claimed. The SQLite queue makes it
	// pending again on the next start.
	if ctx.Err() != nil && outcome.Kind == KindFailed {
		logger.WithFields(log.Fields{"table": task.Table, "offset": task.StartOffset}).
			Warn("Task interrupted by shutdown")
		return
	}

	var err error
	switch outcome.Kind {
	case KindContinue:
		err = p.queue.Complete(ctx, task, task.Successor(outcome.NextOffset, outcome.Rows, outcome.Bytes))
	case KindDone:
		err = p.queue.Complete(ctx, task, nil)
	default:
		err = p.queue.Fail(ctx, task, outcome.Reason())
	}
	if err != nil {
		logger.WithError(err).WithFields(log.Fields{
			"table":   task.Table,
			"offset":  task.StartOffset,
			"outcome": outcome.Kind.String(),
		}).Error("Failed to record task outcome")
	}
}

// run turns a handler panic into a failed outcome.
func (p *Pool) run(ctx context.Context, task *Task) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = Failed(fmt.Errorf("panic while exporting %s at offset %d: %v", task.Table, task.StartOffset, r))
		}
	}()
	return p.handler(ctx, task)
}
