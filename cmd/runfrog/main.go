package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/runfrog/runfrog/config"
	"github.com/runfrog/runfrog/internal/bootstrap"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		slog.Default().ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context) (err error) {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	logger := bootstrap.InitLogger(cfg.Observability.LogLevel)

	// Log startup info
	logStartupInfo(ctx, logger, &cfg)

	// Validate configuration
	if err = bootstrap.ValidateServiceConfig(&cfg); err != nil {
		return err
	}

	// Initialize infrastructure
	queue, err := bootstrap.ConnectQueue(ctx, bootstrap.QueueDeps{
		Config:        &cfg,
		Logger:        logger,
		RunMigrations: cfg.Queue.RunMigrationsOnStart,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := queue.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close queue failed", "error", cerr)
			err = errors.Join(err, cerr)
		}
	}()

	// Initialize and run services
	services, err := bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config: &cfg,
		Queue:  queue,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("init services: %w", err)
	}
	defer func() {
		if cerr := services.Observability.Close(); cerr != nil {
			logger.WarnContext(ctx, "close metrics client failed", "error", cerr)
		}
	}()

	return bootstrap.RunServicesWithShutdown(&bootstrap.ServiceOrchestrationConfig{
		Config:   &cfg,
		Services: services,
		Logger:   logger,
		Version:  version,
	})
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	logger.InfoContext(ctx, "starting runfrog service",
		"version", version,
		"broker", scheme(cfg.Queue.BrokerURL),
		"result_backend", scheme(cfg.Queue.ResultBackendURL),
		"storage", cfg.Queue.StorageDir,
		"enabled_services", bootstrap.GetEnabledServices(cfg))
}

// scheme logs only the URL scheme so credentials never reach the log.
func scheme(rawURL string) string {
	s, _, ok := strings.Cut(rawURL, "://")
	if !ok {
		return "unknown"
	}
	return s
}
