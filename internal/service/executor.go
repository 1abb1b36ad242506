package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"time"

	"github.com/runfrog/runfrog/internal/core"
	"github.com/runfrog/runfrog/internal/domain/model"
	apperrors "github.com/runfrog/runfrog/internal/errors"
	"github.com/runfrog/runfrog/internal/observability/metrics"
	"github.com/runfrog/runfrog/internal/observability/statsd"
)

const finalStatusTimeout = 10 * time.Second

// ExecutorOptions groups dependencies for Executor.
type ExecutorOptions struct {
	Stager   core.ContentStager // Required: staged inputs and archive paths
	Backend  core.ResultBackend // Required: task records
	Analyzer core.Analyzer      // Required: FROG report generator
	Logger   *slog.Logger       // Optional: structured logger
	Metrics  statsd.Sink        // Optional: metrics sink (StatsD-compatible)
	Now      func() time.Time   // Optional: clock override for tests
}

// Executor runs one FROG task: it marks the task RUNNING, invokes the
// analyzer, records SUCCESS or FAILURE and always removes the staged input.
type Executor struct {
	stager   core.ContentStager
	backend  core.ResultBackend
	analyzer core.Analyzer
	logger   *slog.Logger
	metrics  statsd.Sink
	now      func() time.Time
}

// NewExecutor constructs a new Executor.
func NewExecutor(opts ExecutorOptions) (*Executor, error) {
	if opts.Stager == nil {
		return nil, errors.New("ContentStager is required")
	}
	if opts.Backend == nil {
		return nil, errors.New("ResultBackend is required")
	}
	if opts.Analyzer == nil {
		return nil, errors.New("Analyzer is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Executor{
		stager:   opts.Stager,
		backend:  opts.Backend,
		analyzer: opts.Analyzer,
		logger:   logger.With("component", "executor"),
		metrics:  opts.Metrics,
		now:      now,
	}, nil
}

// MustNewExecutor constructs an Executor and panics on error.
func MustNewExecutor(opts ExecutorOptions) *Executor {
	e, err := NewExecutor(opts)
	if err != nil {
		panic(err)
	}
	return e
}

// Execute runs the task described by msg and returns the recorded status.
// Analyzer errors and panics become a FAILURE record; the returned error is
// non-nil only when the final status could not be written.
func (e *Executor) Execute(ctx context.Context, msg model.TaskMessage) (model.TaskStatus, error) {
	logger := e.logger.With("task_id", msg.TaskID)
	start := e.now()

	// Brokers deliver at least once. A finished task keeps its record and archive.
	if task, err := e.backend.Get(ctx, msg.TaskID); err == nil && task.Status.Finished() {
		logger.InfoContext(ctx, "task already finished, skipping redelivery", "status", task.Status)
		return task.Status, nil
	}

	defer func() {
		if err := e.stager.Remove(msg.SourcePath); err != nil {
			logger.WarnContext(ctx, "remove staged content", "path", msg.SourcePath, "error", err)
		}
	}()

	if err := e.backend.SetStatus(ctx, msg.TaskID, model.TaskStatusRunning, nil); err != nil {
		logger.WarnContext(ctx, "record running status", "error", err)
	}
	metrics.EmitTaskLifecycle(e.metrics, metrics.TaskMetric{
		Source:     msg.Source,
		Transition: metrics.TransitionRunning,
		Result:     metrics.ResultSuccess,
	})

	status := model.TaskStatusSuccess
	result, err := e.run(ctx, msg)
	if err != nil {
		status = model.TaskStatusFailure
		result = failurePayload(err)
		logger.ErrorContext(ctx, "task failed", "error", err)
	} else {
		logger.InfoContext(ctx, "task succeeded", "omex", result["omex"])
	}

	elapsed := e.now().Sub(start)
	transition, outcome := metrics.TransitionSuccess, metrics.ResultSuccess
	if err != nil {
		transition, outcome = metrics.TransitionFailure, metrics.ResultError
	}
	metrics.EmitTaskLifecycle(e.metrics, metrics.TaskMetric{
		Source:     msg.Source,
		Transition: transition,
		Result:     outcome,
		Duration:   elapsed,
		Err:        err,
	})

	// Record the outcome even when shutdown cancelled the analyzer.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalStatusTimeout)
	defer cancel()
	if serr := e.backend.SetStatus(recordCtx, msg.TaskID, status, result); serr != nil {
		return status, fmt.Errorf("record %s status for task %s: %w", status, msg.TaskID, serr)
	}
	return status, nil
}

func (e *Executor) run(ctx context.Context, msg model.TaskMessage) (result model.TaskResult, err error) {
	scratch, err := e.stager.ReserveArtifact(msg.TaskID)
	if err != nil {
		return nil, err
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = &panicError{value: rec, stack: debug.Stack()}
		}
		// Only this run's scratch file is removed; a published archive is never touched.
		if rerr := e.stager.Remove(scratch); rerr != nil {
			e.logger.WarnContext(ctx, "remove scratch archive", "task_id", msg.TaskID, "error", rerr)
		}
	}()

	out, err := e.analyzer.Analyze(ctx, core.AnalysisRequest{
		TaskID:     msg.TaskID,
		SourcePath: msg.SourcePath,
		OmexPath:   scratch,
	})
	if err != nil {
		if apperrors.GetCode(err) == "" {
			err = apperrors.Execution(err, "FROG analysis failed")
		}
		return nil, err
	}
	if err := e.stager.CommitArtifact(msg.TaskID, scratch); err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.Execution(nil, "FROG analysis produced no archive")
		}
		return nil, err
	}

	result = make(model.TaskResult, len(out)+2)
	maps.Copy(result, out)
	result["task_id"] = msg.TaskID
	result["omex"] = model.OmexFileName(msg.TaskID)
	return result, nil
}

type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("analyzer panicked: %v", p.value)
}

func failurePayload(err error) model.TaskResult {
	var pe *panicError
	if errors.As(err, &pe) {
		return model.TaskResult{"errors": []any{pe.Error(), apperrors.PanicTrace(pe.value, pe.stack)}}
	}
	return apperrors.NewPayload(err).Map()
}
