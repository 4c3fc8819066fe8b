package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/jorgepascosoto/json-s3-export/internal/catalog"
	"github.com/jorgepascosoto/json-s3-export/internal/config"
	"github.com/jorgepascosoto/json-s3-export/internal/errors"
	"github.com/jorgepascosoto/json-s3-export/internal/export"
	"github.com/jorgepascosoto/json-s3-export/internal/logging"
	"github.com/jorgepascosoto/json-s3-export/internal/notify"
	"github.com/jorgepascosoto/json-s3-export/internal/queue"
	"github.com/jorgepascosoto/json-s3-export/internal/source"
	"github.com/jorgepascosoto/json-s3-export/internal/storage"
	"github.com/jorgepascosoto/json-s3-export/internal/telemetry"
)

var version = "dev"

const metricsInterval = time.Minute

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "json-s3-export",
		Usage:   "Export database tables to gzip-compressed NDJSON in S3",
		Version: version,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Export every table now and then once per export interval",
				Action: serve,
			},
			{
				Name:   "run-once",
				Usage:  "Export every table once and wait for all chains to finish",
				Action: runOnce,
			},
			{
				Name:   "resume",
				Usage:  "Start a chain for one table at a given offset",
				Action: resume,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "table",
						Usage:    "Table to export",
						Required: true,
					},
					&cli.Int64Flag{
						Name:  "offset",
						Value: export.InitialOffset,
						Usage: "Primary key to start from",
					},
				},
			},
			{
				Name:   "tables",
				Usage:  "Print the table catalog",
				Action: listTables,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "tables-file",
						EnvVars:  []string{"TABLES_FILE", "INPUT_TABLES_FILE"},
						Usage:    "Path to the YAML table catalog",
						Required: true,
					},
				},
			},
			{
				Name:   "artifacts",
				Usage:  "List the exported artifacts of a table in offset order",
				Action: listArtifacts,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "table",
						Usage:    "Catalog table whose artifacts to list",
						Required: true,
					},
				},
			},
			{
				Name:   "failed",
				Usage:  "Show the most recent failed tasks of a persistent queue",
				Action: listFailed,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "queue-path",
						EnvVars:  []string{"QUEUE_PATH", "INPUT_QUEUE_PATH"},
						Usage:    "SQLite queue file",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "limit",
						Value: 20,
						Usage: "Maximum number of tasks to show",
					},
				},
			},
		},
	}
}

// runtime is everything a command needs to schedule and execute exports.
type runtime struct {
	cfg         *config.Config
	catalog     *catalog.Catalog
	queue       queue.Queue
	job         *export.Job
	coordinator *export.Coordinator
	closers     []io.Closer
	telemetry   *telemetry.Setup
	tracing     *telemetry.Tracing
}

func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	rt := &runtime{cfg: cfg}

	logFile, err := logging.Init(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, logFile)

	rt.telemetry, err = telemetry.NewSetup(ctx, cfg.MetricsStdout, metricsInterval)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.tracing, err = telemetry.NewTracing(cfg.TracesStdout)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.catalog, err = catalog.Load(cfg.TablesFile)
	if err != nil {
		rt.Close()
		return nil, err
	}

	db, dialect, err := source.Open(ctx, &cfg.Database, cfg.Workers)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, db)

	store, err := storage.NewS3Client(ctx, cfg)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	if cfg.HasPersistentQueue() {
		q, err := queue.NewSQLiteQueue(ctx, cfg.QueuePath)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.queue = q
	} else {
		rt.queue = queue.NewMemoryQueue()
	}
	rt.closers = append(rt.closers, rt.queue)

	rt.job, err = export.NewJob(db, dialect, rt.catalog, store, export.JobOptions{
		BatchSize:         cfg.BatchSize,
		ClearBeforeUpload: cfg.ClearFilesBeforeUpload,
		TempDir:           cfg.TempDir,
		Reporter:          notify.NewReporter(cfg),
		Metrics:           rt.telemetry.Metrics(),
	})
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.coordinator = export.NewCoordinator(rt.catalog, rt.queue, export.CoordinatorOptions{
		Enabled:             cfg.ExportEnabled,
		SingleChainPerTable: cfg.SingleChainPerTable,
	})

	log.WithFields(log.Fields{
		"tables":  len(rt.catalog.Tables),
		"bucket":  cfg.S3Bucket,
		"workers": cfg.Workers,
		"batch":   cfg.BatchSize,
	}).Info("Export runtime ready")

	return rt, nil
}

func (rt *runtime) pool() *queue.Pool {
	return queue.NewPool(rt.queue, rt.job.Execute, rt.cfg.Workers)
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if rt.tracing != nil {
		if err := rt.tracing.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Failed to flush traces")
		}
	}
	if rt.telemetry != nil {
		if err := rt.telemetry.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Failed to flush metrics")
		}
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			log.WithError(err).Warn("Failed to close resource")
		}
	}
}

func serve(c *cli.Context) error {
	ctx := c.Context
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		rt.pool().Run(ctx)
	}()

	log.WithField("interval", rt.cfg.ExportInterval).Info("Serving table exports")
	runSchedule(ctx, rt.cfg.ExportInterval, rt.coordinator.RunDailyExport)

	<-done
	return nil
}

func runOnce(c *cli.Context) error {
	ctx := c.Context
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	return rt.drain(ctx, func() int {
		return len(rt.coordinator.ScheduleAll(ctx))
	})
}

func resume(c *cli.Context) error {
	ctx := c.Context
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	table := c.String("table")
	offset := c.Int64("offset")
	if offset < export.InitialOffset {
		return fmt.Errorf("offset must be at least %d, got %d", export.InitialOffset, offset)
	}

	var scheduleErr error
	err = rt.drain(ctx, func() int {
		handle, err := rt.coordinator.EnqueueExportTask(ctx, table, offset)
		if err != nil {
			scheduleErr = err
			return 0
		}
		log.WithFields(log.Fields{
			"table":    handle.Table,
			"offset":   handle.StartOffset,
			"chain_id": handle.ChainID,
		}).Info("Resuming export chain")
		return 1
	})
	if scheduleErr != nil {
		return scheduleErr
	}
	return err
}

// drain schedules chains with schedule, runs the pool until the queue is
// empty and reports how many chains failed along the way.
func (rt *runtime) drain(ctx context.Context, schedule func() int) error {
	startTime := time.Now()

	before, err := rt.queue.Stats(ctx)
	if err != nil {
		return err
	}

	chains := schedule()
	if err := rt.pool().Drain(ctx); err != nil {
		return err
	}

	after, err := rt.queue.Stats(ctx)
	if err != nil {
		return err
	}
	failed := after.Failed - before.Failed

	if err := notify.SetGitHubOutput("chains", strconv.Itoa(chains)); err != nil {
		log.WithError(err).Warn("Failed to set chains output")
	}
	if err := notify.SetGitHubOutput("failed_chains", strconv.Itoa(failed)); err != nil {
		log.WithError(err).Warn("Failed to set failed_chains output")
	}

	log.WithFields(log.Fields{
		"chains":   chains,
		"failed":   failed,
		"duration": time.Since(startTime).Round(time.Second),
	}).Info("Export cycle completed")

	if failed > 0 {
		return fmt.Errorf("export failed for %d chain(s)", failed)
	}
	return nil
}

func listTables(c *cli.Context) error {
	cat, err := catalog.Load(c.String("tables-file"))
	if err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintf(w, "catalog version %d\n", cat.Version)
	for _, t := range cat.Tables {
		redacted := "-"
		if len(t.RedactedColumns) > 0 {
			redacted = strings.Join(t.RedactedColumns, ",")
		}
		fmt.Fprintf(w, "%s\tpk=%s\tredacted=%s\n", t.Name, t.PrimaryKey, redacted)
	}
	return nil
}

func listArtifacts(c *cli.Context) error {
	ctx := c.Context
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cat, err := catalog.Load(cfg.TablesFile)
	if err != nil {
		return err
	}
	table := c.String("table")
	if _, ok := cat.Lookup(table); !ok {
		return fmt.Errorf("%s: %w", table, errors.ErrUnknownTable)
	}

	store, err := storage.NewS3Client(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create S3 client: %w", err)
	}

	prefix := storage.TablePrefix(table)
	objects, err := store.List(ctx, prefix)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "s3://%s/%s\n", store.Bucket(), prefix)
	printArtifacts(c.App.Writer, objects)
	return nil
}

func printArtifacts(w io.Writer, objects []storage.Object) {
	storage.SortByOffset(objects)

	var total int64
	for _, o := range objects {
		total += o.Size
		fmt.Fprintf(w, "%s\t%s\t%s\n", o.Key, humanize.IBytes(uint64(o.Size)), o.LastModified.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(w, "%d artifact(s), %s\n", len(objects), humanize.IBytes(uint64(total)))
}

func listFailed(c *cli.Context) error {
	q, err := queue.InspectSQLiteQueue(c.Context, c.String("queue-path"))
	if err != nil {
		return err
	}
	defer q.Close()

	failed, err := q.Failed(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}

	w := c.App.Writer
	if len(failed) == 0 {
		fmt.Fprintln(w, "no failed tasks")
		return nil
	}
	for _, f := range failed {
		fmt.Fprintf(w, "%s\t%s\toffset=%d\tchain=%s\t%s\n",
			f.FailedAt.Format(time.RFC3339), f.Table, f.StartOffset, f.ChainID, f.Reason)
	}
	return nil
}

// runSchedule calls fn immediately and then every interval until ctx is done.
func runSchedule(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		fn(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
