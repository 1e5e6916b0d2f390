// Package main is the entry point for the sceneplane controller.
// The controller accepts job submissions and owns the activation handles
// created for them.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"sceneplane/internal/algorithm"
	"sceneplane/internal/config"
	"sceneplane/internal/controller"
	"sceneplane/internal/execution"
	"sceneplane/internal/jobs"
	"sceneplane/internal/logger"
	"sceneplane/internal/observability"
	"sceneplane/internal/scene"
	"sceneplane/internal/store/postgres"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
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

	if err := run(cfg, *migrateFlag, log); err != nil {
		log.Error("controller stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, migrate bool, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	if migrate {
		log.Info("running database migrations")
		if err := postgres.Migrate(db.DB()); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info("migrations completed")
	}

	shutdownTracer, err := observability.InitTracer(ctx, "sceneplane-controller", cfg.OTELEndpoint)
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

	// Queried only when scraped.
	meter := otel.Meter("sceneplane-controller")
	if err := observability.RegisterOutstandingGauge(meter, db.CountOutstandingJobs); err != nil {
		log.Warn("failed to register outstanding jobs gauge", "error", err)
	}

	coordinator := scene.NewCoordinator(scene.NewClient(cfg.BrokerURL), scene.CoordinatorConfig{
		PollInterval: cfg.ActivationPollInterval,
		MaxAttempts:  cfg.ActivationMaxAttempts,
		Concurrency:  cfg.ActivationConcurrency,
	}, log)
	defer coordinator.Close()

	// Submission only requests activation here; the worker polls the broker
	// for ACTIVATING jobs.
	svc := jobs.NewService(
		db,
		algorithm.NewCatalog(cfg.Algorithms),
		coordinator,
		execution.NewClient(cfg.ExecutionURL, cfg.ExecutionAPIKey, cfg.ExecutionRateLimit),
		log,
	)

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(addr, db, svc, controller.Options{
		SystemSecret:   cfg.SystemSecret,
		MetricsHandler: metricsHandler,
		Logger:         log,
	})

	log.Info("controller starting", "addr", addr, "algorithms", len(cfg.Algorithms))
	if err := srv.Run(ctx); err != nil {
		return err
	}

	log.Info("controller shutting down", "pending_activations", svc.Tracked())
	return nil
}
