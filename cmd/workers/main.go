package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"carbon-scribe/energy-credits/energy-credits-backend/internal/app"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/config"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/logging"
	"carbon-scribe/energy-credits/energy-credits-backend/internal/scheduler"
)

const jobTimeout = 30 * time.Minute

func main() {
	configPath := flag.String("config", "config.json", "path to JSON config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Workers publish nothing to dashboards.
	cfg.Anchoring.WebsocketFeeds = false

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}
	defer application.Close()

	jobs := scheduler.NewManager(jobTimeout, logger)
	if err := registerJobs(jobs, cfg, application, logger); err != nil {
		logger.Fatal("Failed to register jobs", zap.Error(err))
	}
	if err := jobs.Start(); err != nil {
		logger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	<-ctx.Done()
	logger.Info("Workers shutting down")
	jobs.Stop()
}

func registerJobs(jobs *scheduler.Manager, cfg *config.Config, application *app.App, logger *zap.Logger) error {
	err := jobs.Register("ledger-audit", cfg.Audit.Schedule, func(ctx context.Context) error {
		report, err := application.Auditor.Run(ctx)
		if err != nil {
			return err
		}
		if !report.OK() {
			return fmt.Errorf("audit found %d violations", len(report.Violations))
		}
		return nil
	})
	if err != nil {
		return err
	}

	if cfg.Exports.Bucket == "" {
		logger.Info("Export archive disabled, no bucket configured")
		return nil
	}
	return jobs.Register("export-archive", cfg.Exports.Schedule, func(ctx context.Context) error {
		_, err := application.Reports.Archive(ctx)
		return err
	})
}
