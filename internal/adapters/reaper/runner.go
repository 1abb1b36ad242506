// Package reaper provides adapters for running the result reaper.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/runfrog/runfrog/config"
	"github.com/runfrog/runfrog/internal/core"
	"github.com/runfrog/runfrog/internal/observability/statsd"
	"github.com/runfrog/runfrog/internal/service"
)

// Runner provides a simple adapter to run the reaper loop.
// It constructs the reaper service and runs the cleanup loop.
type Runner struct {
	reaper *service.ReaperService
	logger *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Backend   core.ResultBackend
	Config    config.ReaperConfig
	ResultTTL time.Duration
	Logger    *slog.Logger
	Metrics   statsd.Sink
}

// ErrNativeExpiry is returned when the backend expires records itself.
var ErrNativeExpiry = errors.New("result backend expires records natively; reaper not needed")

// NewRunner creates a new reaper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Backend == nil {
		return nil, errors.New("result backend is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	reaper, ok := opts.Backend.(core.ResultReaper)
	if !ok {
		return nil, ErrNativeExpiry
	}

	svc, err := service.NewReaperService(service.ReaperServiceOptions{
		Reaper:    reaper,
		Config:    opts.Config,
		ResultTTL: opts.ResultTTL,
		Logger:    opts.Logger,
		Metrics:   opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("wire reaper service: %w", err)
	}

	return &Runner{reaper: svc, logger: opts.Logger}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reaper runner")
	return r.reaper.Run(ctx)
}
