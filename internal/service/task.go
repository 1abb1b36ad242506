package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/runfrog/runfrog/internal/core"
	"github.com/runfrog/runfrog/internal/domain/model"
	apperrors "github.com/runfrog/runfrog/internal/errors"
)

// TaskServiceOptions groups dependencies for TaskService.
type TaskServiceOptions struct {
	Backend core.ResultBackend // Required: task records
	Stager  core.ContentStager // Required: archive lookup
	Logger  *slog.Logger       // Optional: structured logger
}

// TaskService answers status and archive lookups. Lookups never modify state.
type TaskService struct {
	backend core.ResultBackend
	stager  core.ContentStager
	logger  *slog.Logger
}

// Artifact is an open result archive. The caller closes File.
type Artifact struct {
	Name    string
	File    *os.File
	Size    int64
	ModTime time.Time
}

// NewTaskService constructs a new TaskService.
func NewTaskService(opts TaskServiceOptions) (*TaskService, error) {
	if opts.Backend == nil {
		return nil, errors.New("ResultBackend is required")
	}
	if opts.Stager == nil {
		return nil, errors.New("ContentStager is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskService{
		backend: opts.Backend,
		stager:  opts.Stager,
		logger:  logger.With("component", "task_service"),
	}, nil
}

// MustNewTaskService constructs a TaskService and panics on error.
func MustNewTaskService(opts TaskServiceOptions) *TaskService {
	svc, err := NewTaskService(opts)
	if err != nil {
		panic(err)
	}
	return svc
}

// Get returns the stored task record. Unknown or malformed ids yield a not_found error.
func (s *TaskService) Get(ctx context.Context, id string) (*model.Task, error) {
	if err := model.ValidateTaskID(id); err != nil {
		return nil, apperrors.NotFoundf("task %s not found", id)
	}
	task, err := s.backend.Get(ctx, id)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, err
		}
		return nil, apperrors.QueueUnavailable(err, "read task status")
	}
	return task, nil
}

// Status reports the task status. Ids the backend does not know produce a
// NOT_FOUND response rather than an error.
func (s *TaskService) Status(ctx context.Context, id string) (*model.TaskStatusResponse, error) {
	task, err := s.Get(ctx, id)
	if apperrors.IsNotFound(err) {
		return &model.TaskStatusResponse{TaskID: id, TaskStatus: model.TaskStatusNotFound}, nil
	}
	if err != nil {
		return nil, err
	}

	resp := &model.TaskStatusResponse{TaskID: task.ID, TaskStatus: task.Status}
	if task.Status.Finished() {
		resp.TaskResult = task.Result
	}
	return resp, nil
}

// Artifact opens the result archive for id. It returns a not_found error when
// the archive does not exist, whatever the task state.
func (s *TaskService) Artifact(_ context.Context, id string) (*Artifact, error) {
	f, info, err := s.stager.OpenArtifact(id)
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Name:    model.OmexFileName(id),
		File:    f,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// ArtifactExists reports whether the archive for id is on disk.
func (s *TaskService) ArtifactExists(id string) bool {
	return s.stager.ArtifactExists(id)
}
