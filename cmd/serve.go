package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/affiliate-crawler/internal/api"
	"github.com/JakeFAU/affiliate-crawler/internal/clock/system"
	"github.com/JakeFAU/affiliate-crawler/internal/crawler"
	"github.com/JakeFAU/affiliate-crawler/internal/dispatcher"
	"github.com/JakeFAU/affiliate-crawler/internal/hash/sha256"
	"github.com/JakeFAU/affiliate-crawler/internal/id/uuid"
	"github.com/JakeFAU/affiliate-crawler/internal/metrics"
	queuememory "github.com/JakeFAU/affiliate-crawler/internal/queue/memory"
	"github.com/JakeFAU/affiliate-crawler/internal/search"
	memorystorage "github.com/JakeFAU/affiliate-crawler/internal/storage/memory"
	"github.com/JakeFAU/affiliate-crawler/internal/telemetry"
	"github.com/JakeFAU/affiliate-crawler/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the search job HTTP service",
		Long: `Accepts search jobs over HTTP, runs them one at a time on a single
worker and exposes job status, records, health probes and Prometheus metrics.`,
		Args: cobra.NoArgs,
		RunE: runServeCommand,
	}
	cmd.Flags().Int("port", 8080, "HTTP listen port")
	return cmd
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	logger := appInstance.Logger()
	metrics.Init()

	tp, err := telemetry.InitTracerProvider(cmd.Context(), "affiliate-crawler")
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.WithoutCancel(cmd.Context())); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()

	jobStore := memorystorage.NewJobStore()
	queue := queuememory.NewQueue(cfg.Server.QueueDepth)
	clock := system.New()

	runners := func(params crawler.SearchParameters, snapshots search.Snapshotter) (worker.Runner, error) {
		orch, err := appInstance.NewOrchestrator(params.AffiliateTag, snapshots)
		if err != nil {
			return nil, err
		}
		return orch, nil
	}
	w := worker.New(
		queue,
		jobStore,
		appInstance.BlobStore(),
		appInstance.RecordStore(),
		appInstance.Publisher(),
		sha256.New(),
		clock,
		runners,
		worker.Config{
			ExportPrefix:   path.Join(cfg.Export.Prefix, "exports"),
			SnapshotPrefix: path.Join(cfg.Export.Prefix, "snapshots"),
			BaseName:       cfg.Export.Output,
			Formats:        cfg.Formats(),
			Topic:          cfg.PubSub.TopicName,
		},
		logger.Named("worker"),
	)
	dispatch := dispatcher.New(queue, w)

	apiServer := api.NewServer(jobStore, dispatch, uuid.New(), clock, cfg, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		logger.Info("dispatcher started")
		dispatch.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	<-dispatchDone
	logger.Info("shutdown complete")

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}
