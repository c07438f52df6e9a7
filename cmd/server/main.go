// Package main runs the agent marketplace API server. It serves the REST
// and websocket API, runs the maintenance scheduler, and by default also
// hosts in-process validation workers so a single binary is enough for
// small deployments.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/agenthub/marketplace/internal/auth"
	"github.com/agenthub/marketplace/internal/blobstore"
	"github.com/agenthub/marketplace/internal/cache"
	"github.com/agenthub/marketplace/internal/config"
	"github.com/agenthub/marketplace/internal/events"
	"github.com/agenthub/marketplace/internal/github"
	"github.com/agenthub/marketplace/internal/httpapi"
	"github.com/agenthub/marketplace/internal/logging"
	"github.com/agenthub/marketplace/internal/metrics"
	"github.com/agenthub/marketplace/internal/middleware"
	"github.com/agenthub/marketplace/internal/queue"
	"github.com/agenthub/marketplace/internal/service/admin"
	"github.com/agenthub/marketplace/internal/service/agents"
	"github.com/agenthub/marketplace/internal/service/analytics"
	"github.com/agenthub/marketplace/internal/service/categories"
	"github.com/agenthub/marketplace/internal/service/maintenance"
	"github.com/agenthub/marketplace/internal/service/reviews"
	"github.com/agenthub/marketplace/internal/service/search"
	"github.com/agenthub/marketplace/internal/service/users"
	"github.com/agenthub/marketplace/internal/service/validation"
	"github.com/agenthub/marketplace/internal/storage/postgres"
	"github.com/agenthub/marketplace/internal/storage/postgres/migrations"
	"github.com/agenthub/marketplace/internal/system"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger is not up yet.
		panic("load config: " + err.Error())
	}

	logger := logging.New("server", cfg.App.LogLevel)
	logger.Infof("starting %s %s (%s)", cfg.App.Name, cfg.App.Version, cfg.App.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		logger.WithError(err).Errorf("connect to database")
		os.Exit(1)
	}
	defer db.Close()

	if err := migrations.Apply(db.DB); err != nil {
		logger.WithError(err).Errorf("apply migrations")
		os.Exit(1)
	}
	store := postgres.New(db)

	cacheClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer cacheClient.Close()
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

	jobs := queue.NewRedis(queueClient, cfg.Validation.QueueName)
	cacher := cache.NewRedis(cacheClient)
	bus := events.NewBus()

	issuer := auth.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.AccessTokenTTL, cfg.JWT.RefreshTokenTTL)
	gh := github.New(github.Config{
		ClientID:     cfg.GitHub.ClientID,
		ClientSecret: cfg.GitHub.ClientSecret,
	})

	analyticsSvc := analytics.New(store, cacher, logger)
	svcs := httpapi.Services{
		Users:      users.New(store, gh, issuer, logger),
		Agents:     agents.New(store, blobs, jobs, logger, cfg.Server.MaxUploadBytes),
		Reviews:    reviews.New(store, logger),
		Categories: categories.New(store),
		Search:     search.New(store),
		Analytics:  analyticsSvc,
		Admin:      admin.New(store, logger),
		Validation: validation.NewService(store, bus),
	}

	server := httpapi.NewServer(httpapi.Info{
		Name:        cfg.App.Name,
		Version:     cfg.App.Version,
		Environment: cfg.App.Environment,
	}, svcs, logger, map[string]httpapi.Pinger{
		"database":     pingFunc(func(ctx context.Context) error { return db.PingContext(ctx) }),
		"redis":        pingFunc(func(ctx context.Context) error { return cacheClient.Ping(ctx).Err() }),
		"object_store": blobs,
	})

	authMW := middleware.NewAuthMiddleware(issuer, store, logger,
		httpapi.PublicPaths(), httpapi.PublicPrefixes(), httpapi.OptionalAuthPrefixes())
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, logger)
	go limiter.StartCleanup(5*time.Minute, ctx.Done())

	var handler http.Handler = server.Router()
	handler = metrics.InstrumentHandler(handler)
	handler = authMW.Handler(handler)
	handler = limiter.Handler(handler)
	handler = middleware.NewCORSMiddleware(cfg.Server.AllowedOrigins).Handler(handler)
	handler = middleware.NewTracingMiddleware(logger).Handler(handler)

	runner := validation.NewRunner(blobs,
		validation.NewScanner(cfg.Validation.SeverityThreshold),
		validation.NewQualityChecker(cfg.Validation.MaxLintIssues),
		validation.NewSmokeTester(cfg.Validation.SmokeTestTimeout))
	worker := validation.NewWorker(store, jobs, runner, bus, logger, validation.WorkerConfig{
		Workers:     cfg.Validation.Workers,
		MaxAttempts: cfg.Validation.MaxAttempts,
		JobTimeout:  cfg.Validation.JobTimeout,
	})
	janitor := maintenance.New(store, jobs, analyticsSvc, logger, cfg.Validation.RetentionDays)

	manager := system.NewManager(logger)
	manager.Register(worker, janitor)
	if err := manager.Start(ctx); err != nil {
		logger.WithError(err).Errorf("start background services")
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Infof("shutdown signal received")
	case err := <-errCh:
		logger.WithError(err).Errorf("http server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Errorf("http shutdown")
	}
	if err := manager.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Errorf("stop background services")
	}
	logger.Infof("server stopped")
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }
