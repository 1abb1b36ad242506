package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/runfrog/runfrog/internal/core"
	"github.com/runfrog/runfrog/internal/domain/model"
	apperrors "github.com/runfrog/runfrog/internal/errors"
	"github.com/runfrog/runfrog/internal/observability/metrics"
	"github.com/runfrog/runfrog/internal/observability/statsd"
)

// SubmissionServiceOptions groups dependencies for SubmissionService.
type SubmissionServiceOptions struct {
	Stager  core.ContentStager // Required: writes staged inputs
	Broker  core.Broker        // Required: carries task messages to workers
	Backend core.ResultBackend // Required: stores task records
	Fetcher core.Fetcher       // Optional: required only for URL submissions
	Logger  *slog.Logger       // Optional: structured logger
	Metrics statsd.Sink        // Optional: metrics sink (StatsD-compatible)
	Now     func() time.Time   // Optional: clock override for tests
}

// SubmissionService stages submitted models and enqueues FROG tasks.
//
// Every submission path converges on stage → record PENDING → publish and
// returns the task id without waiting for execution.
type SubmissionService struct {
	stager  core.ContentStager
	broker  core.Broker
	backend core.ResultBackend
	fetcher core.Fetcher
	logger  *slog.Logger
	metrics statsd.Sink
	now     func() time.Time
}

// NewSubmissionService constructs a new SubmissionService.
func NewSubmissionService(opts SubmissionServiceOptions) (*SubmissionService, error) {
	if opts.Stager == nil {
		return nil, errors.New("ContentStager is required")
	}
	if opts.Broker == nil {
		return nil, errors.New("Broker is required")
	}
	if opts.Backend == nil {
		return nil, errors.New("ResultBackend is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &SubmissionService{
		stager:  opts.Stager,
		broker:  opts.Broker,
		backend: opts.Backend,
		fetcher: opts.Fetcher,
		logger:  logger.With("component", "submission_service"),
		metrics: opts.Metrics,
		now:     now,
	}, nil
}

// MustNewSubmissionService constructs a SubmissionService and panics on error.
func MustNewSubmissionService(opts SubmissionServiceOptions) *SubmissionService {
	svc, err := NewSubmissionService(opts)
	if err != nil {
		panic(err)
	}
	return svc
}

// SubmitContent stages raw model bytes and enqueues a task.
func (s *SubmissionService) SubmitContent(ctx context.Context, content []byte) (string, error) {
	return s.SubmitReader(ctx, model.SourceContent, bytes.NewReader(content))
}

// SubmitReader stages the model read from r and enqueues a task. source tags
// the submission path (file, content or url).
func (s *SubmissionService) SubmitReader(ctx context.Context, source string, r io.Reader) (string, error) {
	id, err := s.stageAndSubmit(ctx, source, r)
	metrics.EmitTaskSubmitted(s.metrics, source, err)
	return id, err
}

// SubmitURL downloads the model at rawURL and enqueues a task for it. The
// fetch is synchronous; remote failures surface as fetch errors.
func (s *SubmissionService) SubmitURL(ctx context.Context, rawURL string) (string, error) {
	id, err := s.submitURL(ctx, rawURL)
	metrics.EmitTaskSubmitted(s.metrics, model.SourceURL, err)
	return id, err
}

func (s *SubmissionService) submitURL(ctx context.Context, rawURL string) (string, error) {
	if s.fetcher == nil {
		return "", apperrors.Internal("URL submissions are not configured")
	}
	body, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := body.Close(); cerr != nil {
			s.logger.DebugContext(ctx, "close fetched body", "error", cerr)
		}
	}()
	return s.stageAndSubmit(ctx, model.SourceURL, body)
}

func (s *SubmissionService) stageAndSubmit(ctx context.Context, source string, r io.Reader) (string, error) {
	path, err := s.stager.StageReader(ctx, r)
	if err != nil {
		return "", err
	}

	id, err := s.Submit(ctx, path, source)
	if err != nil {
		if rerr := s.stager.Remove(path); rerr != nil {
			s.logger.WarnContext(ctx, "remove staged content after failed submit", "path", path, "error", rerr)
		}
		return "", err
	}
	return id, nil
}

// Submit enqueues a task for content already staged at stagedPath. On error
// the caller still owns the staged file.
func (s *SubmissionService) Submit(ctx context.Context, stagedPath, source string) (string, error) {
	now := s.now().UTC()
	task := &model.Task{
		ID:        model.NewTaskID(),
		Status:    model.TaskStatusPending,
		Source:    source,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.backend.Create(ctx, task); err != nil {
		return "", apperrors.QueueUnavailable(err, "record task")
	}

	msg := model.TaskMessage{
		TaskID:      task.ID,
		SourcePath:  stagedPath,
		Source:      source,
		SubmittedAt: now,
	}
	if err := s.broker.Publish(ctx, msg); err != nil {
		if derr := s.backend.Delete(context.WithoutCancel(ctx), task.ID); derr != nil {
			s.logger.WarnContext(ctx, "delete pending task after failed publish", "task_id", task.ID, "error", derr)
		}
		return "", apperrors.QueueUnavailable(err, fmt.Sprintf("enqueue task %s", task.ID))
	}

	s.logger.InfoContext(ctx, "task submitted", "task_id", task.ID, "source", source)
	return task.ID, nil
}
