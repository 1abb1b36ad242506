package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/runfrog/runfrog/config"
	"github.com/runfrog/runfrog/internal/adapters/analyzer"
	"github.com/runfrog/runfrog/internal/adapters/reaper"
	"github.com/runfrog/runfrog/internal/adapters/worker"
	"github.com/runfrog/runfrog/internal/core"
	"github.com/runfrog/runfrog/internal/observability/statsd"
	"github.com/runfrog/runfrog/internal/service"
	"github.com/runfrog/runfrog/internal/storage"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Stager      *storage.Stager
	Submissions *service.SubmissionService
	Tasks       *service.TaskService
	// Executor is nil unless the worker service is enabled.
	Executor      *service.Executor
	Broker        core.Broker
	Backend       core.ResultBackend
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   *statsd.Client
	MetricsConfig config.ObservabilityMetricsConfig
}

// Sink returns the metrics sink, or nil when metrics are disabled.
//
//nolint:ireturn // services accept the statsd.Sink port.
func (o ObservabilityContainer) Sink() statsd.Sink {
	if o.MetricsSink == nil {
		return nil
	}
	return o.MetricsSink
}

// Close releases the metrics connection.
func (o ObservabilityContainer) Close() error {
	return o.MetricsSink.Close()
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config *config.AppConfig
	Queue  *Queue
	Logger *slog.Logger
	// Analyzer overrides the command analyzer built from config.
	Analyzer core.Analyzer
}

// buildObservability configures the metrics adapter. Every metric is tagged
// with the runfrog service name and the roles this process runs.
func buildObservability(logger *slog.Logger, cfg *config.AppConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Observability.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Address: cfg.Observability.Metrics.StatsdAddress,
			Prefix:  cfg.Observability.Metrics.Prefix,
			Service: statsd.DefaultService,
			Modes:   enabledModes(cfg),
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		MetricsSink:   metricsSink,
		MetricsConfig: cfg.Observability.Metrics,
	}
}

func enabledModes(cfg *config.AppConfig) []string {
	enabled, err := cfg.GetEnabledServices()
	if err != nil {
		return nil
	}
	modes := make([]string, 0, len(enabled))
	for mode, on := range enabled {
		if on {
			modes = append(modes, string(mode))
		}
	}
	return modes
}

// NewServices wires the stager, the submission and task services and, when
// the worker service is enabled, the executor.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil || deps.Queue == nil {
		return ServiceContainer{}, errors.New("service deps require config and queue")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	stager, err := storage.NewStager(storage.StagerOptions{
		Root:     cfg.Queue.StorageDir,
		MaxBytes: cfg.Queue.MaxUploadBytes,
	})
	if err != nil {
		return ServiceContainer{}, err
	}
	if err := stager.EnsureRoot(); err != nil {
		return ServiceContainer{}, err
	}

	obs := buildObservability(logger, cfg)

	submissions, err := service.NewSubmissionService(service.SubmissionServiceOptions{
		Stager:  stager,
		Broker:  deps.Queue.Broker,
		Backend: deps.Queue.Backend,
		Fetcher: service.NewURLFetcher(service.URLFetcherOptions{
			Timeout:      cfg.Queue.FetchTimeout,
			AllowPrivate: cfg.Queue.FetchAllowPrivate,
		}),
		Logger:  logger,
		Metrics: obs.Sink(),
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("wire submission service: %w", err)
	}

	tasks, err := service.NewTaskService(service.TaskServiceOptions{
		Backend: deps.Queue.Backend,
		Stager:  stager,
		Logger:  logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("wire task service: %w", err)
	}

	container := ServiceContainer{
		Stager:        stager,
		Submissions:   submissions,
		Tasks:         tasks,
		Broker:        deps.Queue.Broker,
		Backend:       deps.Queue.Backend,
		Observability: obs,
	}

	if cfg.IsWorkerEnabled() {
		executor, err := newExecutor(deps, stager, obs, logger)
		if err != nil {
			return ServiceContainer{}, err
		}
		container.Executor = executor
	}

	return container, nil
}

func newExecutor(
	deps *ServiceDeps,
	stager *storage.Stager,
	obs ObservabilityContainer,
	logger *slog.Logger,
) (*service.Executor, error) {
	a := deps.Analyzer
	if a == nil {
		cmd, err := analyzer.NewCommandAnalyzer(analyzer.CommandOptions{
			Command: deps.Config.Analyzer.Command,
			Args:    deps.Config.Analyzer.Args,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("wire analyzer: %w", err)
		}
		a = cmd
	}

	executor, err := service.NewExecutor(service.ExecutorOptions{
		Stager:   stager,
		Backend:  deps.Queue.Backend,
		Analyzer: a,
		Logger:   logger,
		Metrics:  obs.Sink(),
	})
	if err != nil {
		return nil, fmt.Errorf("wire executor: %w", err)
	}
	return executor, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
	Version  string
	// Signals overrides the OS shutdown signals; tests send on it directly.
	Signals <-chan os.Signal
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

// startHTTPServerIfEnabled starts the HTTP server if enabled.
func startHTTPServerIfEnabled(deps *serviceStartupDeps) (*http.Server, error) {
	if deps == nil || deps.cfg == nil || !deps.enabledServices[config.ServiceModeHTTP] {
		return nil, nil
	}
	return StartHTTPServer(&HTTPServerConfig{
		Config:   deps.cfg.Config,
		Services: deps.cfg.Services,
		Logger:   deps.logger,
		Version:  deps.cfg.Version,
		ErrCh:    deps.errCh,
	})
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				deps.logger.WarnContext(ctx, "dropping background service error",
					"service", descriptor.name, "error", errMsg)
			}
		}
	}()

	deps.logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)

	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

func newWorkerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeWorker,
		name: "worker",
		start: func(ctx context.Context) error {
			svc := deps.cfg.Services
			if svc.Executor == nil {
				return errors.New("worker enabled without an executor")
			}
			var (
				workerCfg config.WorkerConfig
				lease     time.Duration
			)
			if deps.cfg.Config != nil {
				workerCfg = deps.cfg.Config.Worker
				lease = deps.cfg.Config.Queue.AckWait
			}
			runner, err := worker.NewRunner(worker.RunnerOptions{
				Broker:      svc.Broker,
				Executor:    svc.Executor,
				Concurrency: workerCfg.Concurrency,
				ReceiveWait: workerCfg.ReceiveWait,
				Lease:       lease,
				Logger:      deps.logger,
				Metrics:     svc.Observability.Sink(),
			})
			if err != nil {
				return fmt.Errorf("create worker runner: %w", err)
			}
			return runner.Run(ctx)
		},
	}
}

func newReaperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeReaper,
		name: "reaper",
		start: func(ctx context.Context) error {
			var (
				reaperCfg config.ReaperConfig
				ttl       time.Duration
			)
			if deps.cfg.Config != nil {
				reaperCfg = deps.cfg.Config.Reaper
				ttl = deps.cfg.Config.Queue.ResultTTL
			}
			runner, err := reaper.NewRunner(reaper.RunnerOptions{
				Backend:   deps.cfg.Services.Backend,
				Config:    reaperCfg,
				ResultTTL: ttl,
				Logger:    deps.logger,
				Metrics:   deps.cfg.Services.Observability.Sink(),
			})
			if errors.Is(err, reaper.ErrNativeExpiry) {
				deps.logger.InfoContext(ctx, "reaper idle", "reason", err.Error())
				<-ctx.Done()
				return nil
			}
			if err != nil {
				return fmt.Errorf("create reaper runner: %w", err)
			}
			return runner.Run(ctx)
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newWorkerBackgroundService(deps),
		newReaperBackgroundService(deps),
	}
}

// ServiceStartupResult holds the results of starting all services.
type ServiceStartupResult struct {
	HTTPServer *http.Server
	Background []backgroundServiceHandle
}

// startServices starts all enabled services and returns their completion channels.
func startServices(deps *serviceStartupDeps) (ServiceStartupResult, error) {
	server, err := startHTTPServerIfEnabled(deps)
	if err != nil {
		return ServiceStartupResult{}, err
	}
	return ServiceStartupResult{
		HTTPServer: server,
		Background: startBackgroundServices(deps, buildBackgroundServices(deps)),
	}, nil
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Determine which services are enabled
	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	// Start all enabled services
	result, err := startServices(&serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	})
	if err != nil {
		return err
	}

	quit := cfg.Signals
	if quit == nil {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		quit = sigCh
	}

	// Wait for shutdown signal or error
	return waitForShutdown(shutdownConfig{
		ctx:         serviceCtx,
		cancel:      cancel,
		quit:        quit,
		errCh:       errCh,
		httpServer:  result.HTTPServer,
		logger:      logger,
		backgrounds: result.Background,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			count++
		}
	}
	return count
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	return errorChannelCapacity(enabled) + 1
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx         context.Context
	cancel      context.CancelFunc
	quit        <-chan os.Signal
	errCh       <-chan error
	httpServer  *http.Server
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	select {
	case <-cfg.quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel() // Cancel service context before waiting
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel() // Cancel service context before waiting
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop attempts to gracefully stop all services.
func gracefulStop(cfg shutdownConfig) error {
	if cfg.httpServer != nil {
		// The service context is already canceled; shut down against a fresh deadline.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(cfg.ctx), shutdownWaitTimeout)
		defer cancel()

		if err := ShutdownHTTPServer(ShutdownConfig{
			Context: shutdownCtx,
			Server:  cfg.httpServer,
			Logger:  cfg.logger,
		}); err != nil {
			return err
		}
	}

	// Wait for background services to finish
	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	return nil
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
