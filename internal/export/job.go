// Package export runs table export chains: one batch per task, each batch
// read under a serializable snapshot, redacted, compressed and uploaded.
package export

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jorgepascosoto/json-s3-export/internal/catalog"
	"github.com/jorgepascosoto/json-s3-export/internal/cursor"
	"github.com/jorgepascosoto/json-s3-export/internal/errors"
	"github.com/jorgepascosoto/json-s3-export/internal/notify"
	"github.com/jorgepascosoto/json-s3-export/internal/queue"
	"github.com/jorgepascosoto/json-s3-export/internal/serialize"
	"github.com/jorgepascosoto/json-s3-export/internal/source"
	"github.com/jorgepascosoto/json-s3-export/internal/storage"
	"github.com/jorgepascosoto/json-s3-export/internal/telemetry"
)

// InitialOffset is where every chain starts.
const InitialOffset int64 = 1

// ObjectStore is the bucket the artifacts go to.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body io.Reader) error
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
}

// Reporter is told about every chain that finishes, successfully or not.
type Reporter interface {
	Report(ctx context.Context, summary *notify.ChainSummary) error
}

type JobOptions struct {
	BatchSize         int
	ClearBeforeUpload bool
	TempDir           string
	Reporter          Reporter
	Metrics           *telemetry.Metrics
}

// Job executes export tasks.
type Job struct {
	db                source.TxBeginner
	dialect           source.Dialect
	catalog           *catalog.Catalog
	store             ObjectStore
	serializer        *serialize.Serializer
	batchSize         int
	clearBeforeUpload bool
	reporter          Reporter
	metrics           *telemetry.Metrics
}

func NewJob(db source.TxBeginner, dialect source.Dialect, cat *catalog.Catalog, store ObjectStore, opts JobOptions) (*Job, error) {
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	return &Job{
		db:                db,
		dialect:           dialect,
		catalog:           cat,
		store:             store,
		serializer:        serialize.New(opts.TempDir),
		batchSize:         opts.BatchSize,
		clearBeforeUpload: opts.ClearBeforeUpload,
		reporter:          opts.Reporter,
		metrics:           opts.Metrics,
	}, nil
}

type batchResult struct {
	rows       int
	bytes      int64
	full       bool
	nextOffset int64
}

// ExecuteExportTask exports the batch of table starting at offset as the
// first task of a fresh chain.
func (j *Job) ExecuteExportTask(ctx context.Context, table string, offset int64) queue.Outcome {
	return j.Execute(ctx, queue.NewChainTask(table, offset))
}

// Execute exports one batch. A full batch continues the chain at the key after
// the last exported row; a short or empty batch ends it.
func (j *Job) Execute(ctx context.Context, task *queue.Task) queue.Outcome {
	started := time.Now()
	logger := log.WithFields(log.Fields{
		"table":    task.Table,
		"offset":   task.StartOffset,
		"chain_id": task.ChainID,
		"task_id":  task.ID,
	})

	ctx, span := telemetry.StartSpan(ctx, "export.batch",
		attribute.String("table", task.Table),
		attribute.Int64("offset", task.StartOffset),
		attribute.String("chain_id", task.ChainID),
	)
	result, err := j.exportBatch(ctx, logger, task.Table, task.StartOffset)
	span.SetAttributes(attribute.Int("rows", result.rows), attribute.Bool("full", result.full))
	telemetry.EndSpan(span, err)
	if err != nil {
		err = errors.NewTableError(task.Table, task.StartOffset, err)
		structural := errors.IsStructural(err)
		if structural {
			logger.WithError(err).Error("Abandoning export chain for this cycle")
		} else {
			logger.WithError(err).Warn("Export batch failed")
		}
		j.metrics.RecordChainFailure(ctx, task.Table, structural)
		j.report(ctx, logger, task, nil, err)
		return queue.Failed(err)
	}

	j.metrics.RecordBatch(ctx, task.Table, result.rows, result.bytes, time.Since(started))

	if result.full {
		logger.WithField("next_offset", result.nextOffset).Debug("Batch was full, continuing chain")
		return queue.Continue(result.nextOffset, result.rows, result.bytes)
	}

	logger.WithFields(log.Fields{
		"batches": task.Batches + min(result.rows, 1),
		"rows":    task.Rows + int64(result.rows),
	}).Info("Export chain complete")
	j.report(ctx, logger, task, &result, nil)
	return queue.Done(result.rows, result.bytes)
}

func (j *Job) exportBatch(ctx context.Context, logger *log.Entry, table string, offset int64) (batchResult, error) {
	desc, ok := j.catalog.Lookup(table)
	if !ok {
		return batchResult{}, fmt.Errorf("%s: %w", table, errors.ErrUnknownTable)
	}

	if j.clearBeforeUpload && offset == InitialOffset {
		deleted, err := j.store.DeleteByPrefix(ctx, storage.TablePrefix(table))
		if err != nil {
			return batchResult{}, err
		}
		logger.WithField("deleted", deleted).Info("Cleared previous export files")
	}

	cur, err := cursor.New(j.dialect, desc, j.batchSize)
	if err != nil {
		return batchResult{}, err
	}

	// The artifact is fully staged before the snapshot commits, so a
	// conflicting transaction never produces an upload.
	var (
		batch    *cursor.Batch
		artifact *serialize.Artifact
	)
	err = source.ReadSnapshot(ctx, j.db, func(tx *sql.Tx) error {
		b, err := cur.Next(ctx, tx, offset)
		if err != nil {
			return err
		}
		batch = b
		if b.Len() == 0 {
			return nil
		}
		artifact, err = j.serializer.Serialize(desc, b.Records)
		return err
	})
	if err != nil {
		if artifact != nil {
			artifact.Close()
		}
		return batchResult{}, err
	}

	if batch.Len() == 0 {
		logger.Debug("No rows at or after offset")
		return batchResult{nextOffset: offset}, nil
	}
	defer artifact.Close()

	key := storage.ObjectKey(table, offset)
	if err := j.store.Upload(ctx, key, artifact); err != nil {
		return batchResult{}, err
	}

	logger.WithFields(log.Fields{
		"key":  key,
		"rows": artifact.Rows,
		"size": humanize.IBytes(uint64(artifact.Size)),
	}).Info("Uploaded batch")

	return batchResult{
		rows:       artifact.Rows,
		bytes:      artifact.Size,
		full:       batch.Full(),
		nextOffset: batch.NextOffset(),
	}, nil
}

func (j *Job) report(ctx context.Context, logger *log.Entry, task *queue.Task, last *batchResult, err error) {
	if j.reporter == nil {
		return
	}

	summary := &notify.ChainSummary{
		Table:      task.Table,
		ChainID:    task.ChainID,
		Batches:    task.Batches,
		Rows:       task.Rows,
		Bytes:      task.Bytes,
		LastOffset: task.StartOffset,
		Duration:   time.Since(task.ChainStarted),
		Success:    err == nil,
		Error:      err,
	}
	if last != nil && last.rows > 0 {
		summary.Batches++
		summary.Rows += int64(last.rows)
		summary.Bytes += last.bytes
	}

	if err := j.reporter.Report(ctx, summary); err != nil {
		logger.WithError(err).Warn("Failed to report export chain")
	}
}
