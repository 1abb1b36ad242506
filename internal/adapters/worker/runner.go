// Package worker consumes task messages from the broker and runs them
// through the executor.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/runfrog/runfrog/internal/core"
	"github.com/runfrog/runfrog/internal/data"
	"github.com/runfrog/runfrog/internal/domain/model"
	"github.com/runfrog/runfrog/internal/observability/statsd"
)

const (
	defaultReceiveWait = 5 * time.Second
	defaultLease       = 30 * time.Second
	ackTimeout         = 10 * time.Second
	maxBackoff         = 30 * time.Second
)

// TaskExecutor runs a single task and reports the recorded status.
type TaskExecutor interface {
	Execute(ctx context.Context, msg model.TaskMessage) (model.TaskStatus, error)
}

// RunnerOptions configures the worker runner.
type RunnerOptions struct {
	Broker      core.Broker  // Required: task message source
	Executor    TaskExecutor // Required: runs each task
	Concurrency int          // number of worker goroutines; defaults to 1
	ReceiveWait time.Duration
	Lease       time.Duration // broker redelivery timeout, renewed every Lease/3; defaults to 30s
	Logger      *slog.Logger
	Metrics     statsd.Sink
}

// Runner pulls task messages and executes them with a fixed number of goroutines.
// Tasks have no execution timeout; they stop only when ctx is cancelled.
type Runner struct {
	broker      core.Broker
	exec        TaskExecutor
	workers     int
	receiveWait time.Duration
	lease       time.Duration
	logger      *slog.Logger
	metrics     statsd.Sink
}

// NewRunner constructs a worker runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Broker == nil {
		return nil, errors.New("broker is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("executor is required")
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}
	wait := opts.ReceiveWait
	if wait <= 0 {
		wait = defaultReceiveWait
	}
	lease := opts.Lease
	if lease <= 0 {
		lease = defaultLease
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		broker:      opts.Broker,
		exec:        opts.Executor,
		workers:     workers,
		receiveWait: wait,
		lease:       lease,
		logger:      logger.With("component", "worker"),
		metrics:     opts.Metrics,
	}, nil
}

// Run starts the worker goroutines and blocks until ctx is cancelled or the
// broker is closed. Returns nil on graceful shutdown.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting worker runner", "workers", r.workers, "receive_wait", r.receiveWait, "lease", r.lease)

	g, gctx := errgroup.WithContext(ctx)
	for i := range r.workers {
		g.Go(func() error {
			return r.workerLoop(gctx, i)
		})
	}

	err := g.Wait()
	if err == nil || errors.Is(err, context.Canceled) {
		r.logger.InfoContext(ctx, "worker runner stopped")
		return nil
	}
	return err
}

func (r *Runner) workerLoop(ctx context.Context, id int) error {
	logger := r.logger.With("worker", id)
	backoff := time.Duration(0)

	for ctx.Err() == nil {
		d, err := r.broker.Receive(ctx, r.receiveWait)
		switch {
		case err == nil:
			backoff = 0
			r.process(ctx, logger, d)
		case errors.Is(err, core.ErrNoMessage):
			backoff = 0
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, data.ErrBrokerClosed):
			logger.InfoContext(ctx, "broker closed, worker exiting")
			return nil
		default:
			backoff = nextBackoff(backoff)
			logger.WarnContext(ctx, "receive failed", "error", err, "retry_in", backoff)
			r.count("worker.receive_error", nil)
			if !sleep(ctx, backoff) {
				return nil
			}
		}
	}
	return nil
}

func (r *Runner) process(ctx context.Context, logger *slog.Logger, d *core.Delivery) {
	logger = logger.With("task_id", d.Message.TaskID)
	logger.DebugContext(ctx, "task received")

	stopHeartbeat := r.heartbeat(ctx, logger, d)
	status, err := r.exec.Execute(ctx, d.Message)
	stopHeartbeat()
	if err != nil {
		logger.ErrorContext(ctx, "task outcome not recorded", "status", status, "error", err)
	}
	r.count("worker.tasks", map[string]string{"status": string(status)})

	// The staged input is gone after Execute, so the message is acknowledged
	// whatever the outcome. Shutdown must not leave it in flight.
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer cancel()
	if aerr := r.broker.Ack(ackCtx, d); aerr != nil {
		logger.WarnContext(ctx, "ack failed", "error", fmt.Errorf("ack task %s: %w", d.Message.TaskID, aerr))
		r.count("worker.ack_error", nil)
	}
}

// heartbeat renews the delivery lease every lease/3 until the returned stop
// func is called. Stop waits for an in-flight renewal to finish.
func (r *Runner) heartbeat(ctx context.Context, logger *slog.Logger, d *core.Delivery) func() {
	interval := r.lease / 3
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				extendCtx, cancel := context.WithTimeout(ctx, interval)
				err := r.broker.Extend(extendCtx, d)
				cancel()
				if err != nil {
					logger.WarnContext(ctx, "lease renewal failed", "error", err)
					r.count("worker.extend_error", nil)
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (r *Runner) count(name string, tags map[string]string) {
	if r.metrics != nil {
		r.metrics.Count(name, 1, tags)
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	if cur <= 0 {
		return 500 * time.Millisecond
	}
	return min(cur*2, maxBackoff)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
