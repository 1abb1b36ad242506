package data

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/runfrog/runfrog/internal/domain/model"
	apperrors "github.com/runfrog/runfrog/internal/errors"
)

// MemoryResultBackend keeps task records in process memory.
type MemoryResultBackend struct {
	mu    sync.RWMutex
	tasks map[string]*model.Task
	now   func() time.Time
}

// NewMemoryResultBackend creates an empty in-memory result backend.
func NewMemoryResultBackend() *MemoryResultBackend {
	return &MemoryResultBackend{
		tasks: make(map[string]*model.Task),
		now:   time.Now,
	}
}

func cloneTask(t *model.Task) *model.Task {
	c := *t
	if t.Result != nil {
		c.Result = maps.Clone(t.Result)
	}
	if t.DoneAt != nil {
		done := *t.DoneAt
		c.DoneAt = &done
	}
	return &c
}

// Create stores a new record.
func (b *MemoryResultBackend) Create(_ context.Context, task *model.Task) error {
	if task == nil || task.ID == "" {
		return ErrTaskIDRequired
	}
	if !task.Status.Valid() {
		return ErrInvalidTaskStatus
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.tasks[task.ID]; ok {
		return apperrors.Conflict("task already exists")
	}
	stored := cloneTask(task)
	now := b.now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	b.tasks[task.ID] = stored
	return nil
}

// SetStatus updates or creates the record for id.
func (b *MemoryResultBackend) SetStatus(
	_ context.Context,
	id string,
	status model.TaskStatus,
	result model.TaskResult,
) error {
	if id == "" {
		return ErrTaskIDRequired
	}
	if !status.Valid() {
		return ErrInvalidTaskStatus
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now().UTC()
	t, ok := b.tasks[id]
	if !ok {
		t = &model.Task{ID: id, CreatedAt: now}
		b.tasks[id] = t
	}
	applyStatus(t, status, result, now)
	return nil
}

// applyStatus is shared by the in-memory and Redis backends.
func applyStatus(t *model.Task, status model.TaskStatus, result model.TaskResult, now time.Time) {
	t.Status = status
	t.UpdatedAt = now
	if status.Finished() {
		t.Result = maps.Clone(result)
		t.DoneAt = &now
		return
	}
	t.Result = nil
	t.DoneAt = nil
}

// Get returns a copy of the record.
func (b *MemoryResultBackend) Get(_ context.Context, id string) (*model.Task, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.tasks[id]
	if !ok {
		return nil, apperrors.NotFoundf("task %s not found", id)
	}
	return cloneTask(t), nil
}

// Delete removes the record if present.
func (b *MemoryResultBackend) Delete(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tasks, id)
	return nil
}

// DeleteFinishedBefore removes finished records last updated before cutoff.
func (b *MemoryResultBackend) DeleteFinishedBefore(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n int64
	for id, t := range b.tasks {
		if limit > 0 && n >= int64(limit) {
			break
		}
		if t.Status.Finished() && t.UpdatedAt.Before(cutoff) {
			delete(b.tasks, id)
			n++
		}
	}
	return n, nil
}

// FailStaleBefore fails unfinished records last updated before cutoff.
func (b *MemoryResultBackend) FailStaleBefore(
	_ context.Context,
	cutoff time.Time,
	limit int,
	result model.TaskResult,
) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now().UTC()
	var n int64
	for _, t := range b.tasks {
		if limit > 0 && n >= int64(limit) {
			break
		}
		if !t.Status.Finished() && t.UpdatedAt.Before(cutoff) {
			applyStatus(t, model.TaskStatusFailure, result, now)
			n++
		}
	}
	return n, nil
}

// Close is a no-op.
func (b *MemoryResultBackend) Close() error { return nil }
