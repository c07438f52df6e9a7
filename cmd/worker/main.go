// Package main runs a standalone validation worker. It consumes bundle
// validation jobs from the Redis queue, so it can be scaled separately
// from the API server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"

	"github.com/agenthub/marketplace/internal/blobstore"
	"github.com/agenthub/marketplace/internal/config"
	"github.com/agenthub/marketplace/internal/events"
	"github.com/agenthub/marketplace/internal/logging"
	"github.com/agenthub/marketplace/internal/queue"
	"github.com/agenthub/marketplace/internal/service/validation"
	"github.com/agenthub/marketplace/internal/storage/postgres"
	"github.com/agenthub/marketplace/internal/system"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("load config: " + err.Error())
	}

	logger := logging.New("worker", cfg.App.LogLevel)
	logger.Infof("starting validation worker (%s)", cfg.App.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		logger.WithError(err).Errorf("connect to database")
		os.Exit(1)
	}
	defer db.Close()
	store := postgres.New(db)

	queueClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.QueueDB,
	})
	defer queueClient.Close()

	blobs, err := blobstore.NewMinio(ctx, blobstore.MinioConfig{
		Endpoint:  cfg.ObjectStore.Endpoint,
		AccessKey: cfg.ObjectStore.AccessKey,
		SecretKey: cfg.ObjectStore.SecretKey,
		Bucket:    cfg.ObjectStore.Bucket,
		Region:    cfg.ObjectStore.Region,
		UseSSL:    cfg.ObjectStore.UseSSL,
	})
	if err != nil {
		logger.WithError(err).Errorf("connect to object store")
		os.Exit(1)
	}

	runner := validation.NewRunner(blobs,
		validation.NewScanner(cfg.Validation.SeverityThreshold),
		validation.NewQualityChecker(cfg.Validation.MaxLintIssues),
		validation.NewSmokeTester(cfg.Validation.SmokeTestTimeout))
	worker := validation.NewWorker(store, queue.NewRedis(queueClient, cfg.Validation.QueueName),
		runner, events.NewBus(), logger, validation.WorkerConfig{
			Workers:     cfg.Validation.Workers,
			MaxAttempts: cfg.Validation.MaxAttempts,
			JobTimeout:  cfg.Validation.JobTimeout,
		})

	manager := system.NewManager(logger)
	manager.Register(worker)
	if err := manager.Start(ctx); err != nil {
		logger.WithError(err).Errorf("start worker")
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Infof("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := manager.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Errorf("stop worker")
	}
	logger.Infof("worker stopped")
}
