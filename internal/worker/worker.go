// Package worker executes queued search jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/affiliate-crawler/internal/crawler"
	"github.com/JakeFAU/affiliate-crawler/internal/export"
	queuemem "github.com/JakeFAU/affiliate-crawler/internal/queue/memory"
	"github.com/JakeFAU/affiliate-crawler/internal/search"
)

var tracer = otel.Tracer("github.com/JakeFAU/affiliate-crawler/internal/worker")

// Queue is the subset of the job queue the worker consumes.
type Queue interface {
	Dequeue(ctx context.Context) (string, error)
}

// Runner executes one search.
type Runner interface {
	Search(ctx context.Context, keywords []string, maxPages, maxProducts int) ([]crawler.ProductRecord, search.Summary, error)
}

// RunnerFactory builds a Runner for a job. The snapshotter stores the
// markup of empty result pages under the job's prefix.
type RunnerFactory func(params crawler.SearchParameters, snapshots search.Snapshotter) (Runner, error)

// Config controls Worker behavior.
type Config struct {
	ExportPrefix   string
	SnapshotPrefix string
	BaseName       string
	Formats        []export.Format
	Topic          string
}

func (c Config) withDefaults() Config {
	if c.ExportPrefix == "" {
		c.ExportPrefix = "exports"
	}
	if c.SnapshotPrefix == "" {
		c.SnapshotPrefix = "snapshots"
	}
	if c.BaseName == "" {
		c.BaseName = export.DefaultBaseName
	}
	if len(c.Formats) == 0 {
		c.Formats = export.AllFormats
	}
	return c
}

// Worker consumes job IDs and runs each search to completion.
type Worker struct {
	queue       Queue
	jobStore    crawler.JobStore
	blobStore   crawler.BlobStore
	recordStore crawler.RecordStore
	publisher   crawler.Publisher
	hasher      crawler.Hasher
	clock       crawler.Clock
	runners     RunnerFactory
	cfg         Config
	logger      *zap.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// New constructs a Worker. recordStore and publisher may be nil.
func New(
	queue Queue,
	jobStore crawler.JobStore,
	blobStore crawler.BlobStore,
	recordStore crawler.RecordStore,
	publisher crawler.Publisher,
	hasher crawler.Hasher,
	clock crawler.Clock,
	runners RunnerFactory,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:       queue,
		jobStore:    jobStore,
		blobStore:   blobStore,
		recordStore: recordStore,
		publisher:   publisher,
		hasher:      hasher,
		clock:       clock,
		runners:     runners,
		cfg:         cfg.withDefaults(),
		logger:      logger,
		running:     make(map[string]context.CancelFunc),
	}
}

// Run blocks, consuming job IDs until the context finishes or the queue
// closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		jobID, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, queuemem.ErrClosed) {
				w.logger.Info("queue closed, worker stopping")
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", jobID))
		w.processJob(ctx, jobID)
	}
}

// Cancel stops a running job. It reports whether the job was running.
func (w *Worker) Cancel(jobID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	cancel, ok := w.running[jobID]
	if ok {
		cancel()
	}
	return ok
}

func (w *Worker) track(jobID string, cancel context.CancelFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running[jobID] = cancel
}

func (w *Worker) untrack(jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.running, jobID)
}

func (w *Worker) processJob(ctx context.Context, jobID string) {
	logger := w.logger.With(zap.String("job_id", jobID))
	job, err := w.jobStore.GetJob(ctx, jobID)
	if err != nil {
		logger.Error("load job failed", zap.Error(err))
		return
	}
	if job.Status.IsTerminal() {
		logger.Info("skipping finished job", zap.String("status", string(job.Status)))
		return
	}

	ctx, span := tracer.Start(ctx, "search_job", trace.WithAttributes(
		attribute.String("job.id", jobID),
		attribute.StringSlice("job.keywords", job.Parameters.Keywords),
	))
	defer span.End()

	// Tracked before the job is marked running, so a cancel that sees the
	// running status always finds the job.
	jobCtx, cancel := context.WithCancel(ctx)
	w.track(jobID, cancel)
	defer func() {
		w.untrack(jobID)
		cancel()
	}()

	started := w.clock.Now()
	job.Status = crawler.SearchStatusRunning
	job.Started = &started
	if err := w.jobStore.UpdateJob(ctx, job); err != nil {
		if errors.Is(err, crawler.ErrJobFinal) {
			logger.Info("job canceled before start")
			return
		}
		logger.Error("update job status failed", zap.Error(err))
		return
	}

	runner, err := w.runners(job.Parameters, search.NewBlobSnapshotter(
		w.blobStore, w.hasher, path.Join(w.cfg.SnapshotPrefix, jobID),
	))
	if err != nil {
		w.finish(ctx, job, nil, search.Summary{}, fmt.Errorf("build search: %w", err))
		return
	}
	logger.Info("search job started", zap.Strings("keywords", job.Parameters.Keywords))
	records, summary, searchErr := runner.Search(
		jobCtx,
		job.Parameters.Keywords,
		job.Parameters.MaxPages,
		job.Parameters.MaxProducts,
	)
	if searchErr != nil {
		span.RecordError(searchErr)
	}
	span.SetAttributes(
		attribute.Int("search.records", len(records)),
		attribute.Int("search.pages_fetched", summary.PagesFetched),
	)
	w.finish(ctx, job, records, summary, searchErr)
}

// finish persists results and the final status. Persistence failures are
// logged and never change the job outcome.
func (w *Worker) finish(
	ctx context.Context,
	job crawler.SearchJob,
	records []crawler.ProductRecord,
	summary search.Summary,
	searchErr error,
) {
	ctx = context.WithoutCancel(ctx)
	logger := w.logger.With(zap.String("job_id", job.ID))

	if len(records) > 0 {
		if err := w.jobStore.AppendRecords(ctx, job.ID, records); err != nil {
			logger.Error("append records failed",
				zap.String("kind", string(crawler.PersistenceFailure)),
				zap.Error(err),
			)
		}
		if w.recordStore != nil {
			if err := w.recordStore.StoreRecords(ctx, job.ID, records); err != nil {
				logger.Error("store records failed",
					zap.String("kind", string(crawler.PersistenceFailure)),
					zap.Error(err),
				)
			}
		}
	}

	uris, err := export.WriteAll(
		ctx,
		w.blobStore,
		path.Join(w.cfg.ExportPrefix, job.ID),
		w.cfg.BaseName,
		w.formatsFor(job.Parameters, logger),
		records,
	)
	if err != nil {
		logger.Error("export failed",
			zap.String("kind", string(crawler.PersistenceFailure)),
			zap.Error(err),
		)
	}

	finished := w.clock.Now()
	job.Status, job.ErrorText = deriveFinalStatus(summary, searchErr)
	job.Finished = &finished
	job.ExportURIs = uris
	job.Counters = crawler.SearchCounters{
		PagesFetched: summary.PagesFetched,
		PagesFailed:  summary.PagesFailed,
		Records:      len(records),
	}
	if err := w.jobStore.UpdateJob(ctx, job); err != nil {
		if errors.Is(err, crawler.ErrJobFinal) {
			logger.Info("job was canceled while running")
			job.Status = crawler.SearchStatusCanceled
		} else {
			logger.Error("final job status update failed", zap.Error(err))
		}
	}
	logger.Info("search job finished",
		zap.String("status", string(job.Status)),
		zap.Int("records", len(records)),
		zap.Int("pages_fetched", summary.PagesFetched),
		zap.Int("pages_failed", summary.PagesFailed),
	)

	if err := w.publishResult(ctx, job); err != nil {
		logger.Error("publish completion failed", zap.Error(err))
	}
}

func (w *Worker) formatsFor(params crawler.SearchParameters, logger *zap.Logger) []export.Format {
	if len(params.Formats) == 0 {
		return w.cfg.Formats
	}
	formats, err := export.ParseFormats(params.Formats)
	if err != nil {
		logger.Warn("invalid job formats, using defaults", zap.Error(err))
		return w.cfg.Formats
	}
	return formats
}

func (w *Worker) publishResult(ctx context.Context, job crawler.SearchJob) error {
	if w.cfg.Topic == "" || w.publisher == nil {
		return nil
	}
	payload := map[string]any{
		"job_id":      job.ID,
		"status":      string(job.Status),
		"keywords":    job.Parameters.Keywords,
		"records":     job.Counters.Records,
		"export_uris": job.ExportURIs,
		"timestamp":   w.clock.Now().Format(time.RFC3339),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		return fmt.Errorf("publish payload: %w", err)
	}
	w.logger.Info("completion published", zap.String("job_id", job.ID), zap.String("topic", w.cfg.Topic))
	return nil
}

func deriveFinalStatus(summary search.Summary, searchErr error) (crawler.SearchStatus, string) {
	switch {
	case errors.Is(searchErr, context.Canceled), errors.Is(searchErr, context.DeadlineExceeded):
		return crawler.SearchStatusCanceled, searchErr.Error()
	case searchErr != nil:
		return crawler.SearchStatusFailed, searchErr.Error()
	case summary.PagesFetched == 0 && summary.PagesFailed > 0:
		return crawler.SearchStatusFailed, "no pages were fetched"
	default:
		return crawler.SearchStatusSucceeded, ""
	}
}
