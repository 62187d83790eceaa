// Package main wires together the harvester service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/placepulse/review-harvester/internal/api"
	"github.com/placepulse/review-harvester/internal/clock/system"
	"github.com/placepulse/review-harvester/internal/collector"
	"github.com/placepulse/review-harvester/internal/config"
	"github.com/placepulse/review-harvester/internal/dispatch"
	"github.com/placepulse/review-harvester/internal/harvest"
	"github.com/placepulse/review-harvester/internal/hash/sha256"
	"github.com/placepulse/review-harvester/internal/id/uuid"
	"github.com/placepulse/review-harvester/internal/logging"
	"github.com/placepulse/review-harvester/internal/metrics"
	"github.com/placepulse/review-harvester/internal/progress"
	"github.com/placepulse/review-harvester/internal/progress/sinks"
	memorypublisher "github.com/placepulse/review-harvester/internal/publisher/memory"
	pubsubpublisher "github.com/placepulse/review-harvester/internal/publisher/pubsub"
	"github.com/placepulse/review-harvester/internal/storage/gcs"
	"github.com/placepulse/review-harvester/internal/storage/local"
	memoryStorage "github.com/placepulse/review-harvester/internal/storage/memory"
	"github.com/placepulse/review-harvester/internal/storage/postgres"
	"github.com/placepulse/review-harvester/internal/tracker"
	"github.com/placepulse/review-harvester/internal/writer"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	hasher := sha256.New()
	idGen := uuid.NewUUIDGenerator()

	jobStore, entityStore, closeStores, err := buildStores(ctx, cfg, clock)
	if err != nil {
		logger.Error("storage init failed", zap.Error(err))
		return
	}
	defer closeStores()

	blobStore, err := buildArchive(ctx, cfg)
	if err != nil {
		logger.Error("archive init failed", zap.Error(err))
		return
	}

	publisher, stopPublisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		logger.Error("publisher init failed", zap.Error(err))
		return
	}
	defer stopPublisher()

	coll, err := collector.New(nil, collector.Config{
		BaseURL:        cfg.Collector.BaseURL,
		Token:          cfg.Collector.Token,
		PollInterval:   cfg.PollInterval(),
		PageSize:       cfg.Collector.PageSize,
		NetworkRetries: cfg.Collector.NetworkRetries,
	}, logger.Named("collector"))
	if err != nil {
		logger.Error("collector init failed", zap.Error(err))
		return
	}

	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		logger.Error("progress sink init failed", zap.Error(err))
		return
	}
	hub := progress.NewHub(progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")), promSink)

	backoffInitial, backoffMax := cfg.WriterBackoff()
	wr := writer.New(entityStore, idGen, writer.Config{
		MaxRetries:     cfg.Writer.MaxRetries,
		BackoffInitial: backoffInitial,
		BackoffMax:     backoffMax,
	}, logger.Named("writer"))

	tr := tracker.New(jobStore, clock, logger.Named("tracker"))
	runner := dispatch.NewRunner(tr, coll, wr, blobStore, hasher, publisher, clock, hub,
		dispatch.RunnerConfig{
			Topic:         cfg.PubSub.TopicName,
			ArchivePrefix: cfg.Archive.Prefix,
		}, logger.Named("runner"))
	controller := dispatch.NewController(tr, runner, dispatch.Config{
		Concurrency:       cfg.Dispatch.Concurrency,
		QueueDepth:        cfg.Dispatch.QueueDepth,
		MaxReviewsDefault: cfg.Collector.MaxReviewsDefault,
	}, logger.Named("dispatch"))

	apiServer := api.NewServer(controller, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatch pool started", zap.Int("concurrency", cfg.Dispatch.Concurrency))
		controller.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("progress hub close error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// buildStores selects the persistence backend: Postgres when a DSN is
// configured, in-memory otherwise.
func buildStores(ctx context.Context, cfg config.Config, clock harvest.Clock) (harvest.JobStore, harvest.EntityStore, func(), error) {
	if cfg.DB.DSN == "" {
		return memoryStorage.NewJobStore(clock), memoryStorage.NewEntityStore(), func() {}, nil
	}
	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	jobStore, err := postgres.NewJobStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	entityStore, err := postgres.NewEntityStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	return jobStore, entityStore, pool.Close, nil
}

func buildArchive(ctx context.Context, cfg config.Config) (harvest.BlobStore, error) {
	switch cfg.Archive.Backend {
	case "local":
		return local.New(local.Config{BaseDir: cfg.Archive.LocalDir})
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return gcs.New(client, gcs.Config{Bucket: cfg.Archive.GCSBucket})
	default:
		return memoryStorage.NewBlobStore(), nil
	}
}

// buildPublisher wires Pub/Sub when a project is configured; the in-memory
// publisher keeps local runs self-contained.
func buildPublisher(ctx context.Context, cfg config.Config) (harvest.Publisher, func(), error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		return memorypublisher.New(), func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	topic := client.Topic(cfg.PubSub.TopicName)
	pub := pubsubpublisher.New(topic)
	return pub, func() {
		pub.Stop()
		_ = client.Close()
	}, nil
}
