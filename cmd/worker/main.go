// Package main is the entry point for the sceneplane worker.
// The worker runs the reconciliation loop: it is the only process that moves
// jobs through their statuses after creation.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sceneplane/internal/algorithm"
	"sceneplane/internal/config"
	"sceneplane/internal/execution"
	"sceneplane/internal/jobs"
	"sceneplane/internal/logger"
	"sceneplane/internal/observability"
	"sceneplane/internal/scene"
	"sceneplane/internal/store/postgres"
	"sceneplane/internal/worker"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: sceneplane.yaml in current directory)")
	flag.Parse()

	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	shutdownTracer, err := observability.InitTracer(ctx, "sceneplane-worker", cfg.OTELEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn("failed to shutdown tracer", "error", err)
		}
	}()

	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Warn("failed to shutdown metrics", "error", err)
		}
	}()

	metrics, err := observability.NewReconcileMetrics(otel.Meter("sceneplane-worker"))
	if err != nil {
		return err
	}

	coordinator := scene.NewCoordinator(scene.NewClient(cfg.BrokerURL), scene.CoordinatorConfig{
		PollInterval: cfg.ActivationPollInterval,
		MaxAttempts:  cfg.ActivationMaxAttempts,
		Concurrency:  cfg.ActivationConcurrency,
	}, log)
	defer coordinator.Close()

	executor := execution.NewClient(cfg.ExecutionURL, cfg.ExecutionAPIKey, cfg.ExecutionRateLimit)

	svc := jobs.NewService(db, algorithm.NewCatalog(cfg.Algorithms), coordinator, executor, log,
		jobs.WithHandleRetention(cfg.ActivationTimeout))

	reconciler := worker.New(db, svc, executor, worker.Config{
		Interval:          cfg.ReconcileInterval,
		ActivationTimeout: cfg.ActivationTimeout,
		JobTimeout:        cfg.JobTimeout,
		Concurrency:       cfg.ReconcileConcurrency,
	}, log, worker.WithPassLocker(db), worker.WithMetrics(metrics))

	// Dedicated side port for metrics and operator triggers
	sideAddr := fmt.Sprintf(":%d", cfg.WorkerMetricsPort)
	side := &http.Server{
		Addr:         sideAddr,
		Handler:      worker.NewHandler(reconciler, metricsHandler, cfg.SystemSecret, log),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}
	go func() {
		log.Info("worker side port listening", "addr", sideAddr)
		if err := side.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("side port stopped", "error", err)
		}
	}()

	if err := reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	<-reconciler.Done()

	log.Info("shutting down worker")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return side.Shutdown(shutdownCtx)
}
