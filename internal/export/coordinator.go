package export

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/jorgepascosoto/json-s3-export/internal/catalog"
	"github.com/jorgepascosoto/json-s3-export/internal/errors"
	"github.com/jorgepascosoto/json-s3-export/internal/queue"
)

type CoordinatorOptions struct {
	Enabled bool
	// SingleChainPerTable refuses to start a chain for a table that still
	// has a pending or running task.
	SingleChainPerTable bool
}

// Coordinator schedules one chain per catalog table.
type Coordinator struct {
	catalog *catalog.Catalog
	queue   queue.Queue
	opts    CoordinatorOptions
}

func NewCoordinator(cat *catalog.Catalog, q queue.Queue, opts CoordinatorOptions) *Coordinator {
	return &Coordinator{
		catalog: cat,
		queue:   q,
		opts:    opts,
	}
}

// RunDailyExport enqueues the first task of a chain for every table. It does
// nothing when exports are disabled.
func (c *Coordinator) RunDailyExport(ctx context.Context) {
	c.ScheduleAll(ctx)
}

// ScheduleAll is RunDailyExport returning the handles it enqueued.
func (c *Coordinator) ScheduleAll(ctx context.Context) []queue.TaskHandle {
	if !c.opts.Enabled {
		log.Info("Table export is disabled, skipping")
		return nil
	}

	names := c.catalog.Names()
	log.WithField("tables", len(names)).Info("Scheduling table exports")

	handles := make([]queue.TaskHandle, 0, len(names))
	for _, name := range names {
		handle, err := c.EnqueueExportTask(ctx, name, InitialOffset)
		if err != nil {
			entry := log.WithField("table", name).WithError(err)
			if errors.Is(err, errors.ErrChainActive) {
				entry.Warn("Skipping table, previous export chain still running")
			} else {
				entry.Error("Failed to schedule table export")
			}
			continue
		}
		log.WithFields(log.Fields{
			"table":    name,
			"chain_id": handle.ChainID,
		}).Debug("Scheduled export chain")
		handles = append(handles, handle)
	}
	return handles
}

// EnqueueExportTask starts a chain for table at offset. Offsets other than
// InitialOffset resume a chain that stopped early.
func (c *Coordinator) EnqueueExportTask(ctx context.Context, table string, offset int64) (queue.TaskHandle, error) {
	if _, ok := c.catalog.Lookup(table); !ok {
		return queue.TaskHandle{}, fmt.Errorf("%s: %w", table, errors.ErrUnknownTable)
	}

	if c.opts.SingleChainPerTable {
		active, err := c.queue.Active(ctx, table)
		if err != nil {
			return queue.TaskHandle{}, err
		}
		if active {
			return queue.TaskHandle{}, fmt.Errorf("%s: %w", table, errors.ErrChainActive)
		}
	}

	task := queue.NewChainTask(table, offset)
	if err := c.queue.Enqueue(ctx, task); err != nil {
		return queue.TaskHandle{}, fmt.Errorf("failed to enqueue export of %s: %w", table, err)
	}
	return task.Handle(), nil
}
