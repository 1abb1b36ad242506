package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runfrog/runfrog/internal/core"
	"github.com/runfrog/runfrog/internal/domain/model"
	apperrors "github.com/runfrog/runfrog/internal/errors"
)

// runResultBackendSuite checks the behaviour every result backend shares.
func runResultBackendSuite(t *testing.T, backend core.ResultBackend) {
	t.Helper()
	ctx := context.Background()

	t.Run("create then get pending", func(t *testing.T) {
		id := model.NewTaskID()
		require.NoError(t, backend.Create(ctx, &model.Task{
			ID: id, Status: model.TaskStatusPending, Source: model.SourceContent,
		}))

		got, err := backend.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
		assert.Equal(t, model.TaskStatusPending, got.Status)
		assert.Nil(t, got.Result)
		assert.Nil(t, got.DoneAt)
		assert.False(t, got.CreatedAt.IsZero())
	})

	t.Run("duplicate create conflicts", func(t *testing.T) {
		id := model.NewTaskID()
		require.NoError(t, backend.Create(ctx, &model.Task{ID: id, Status: model.TaskStatusPending}))
		err := backend.Create(ctx, &model.Task{ID: id, Status: model.TaskStatusPending})
		assert.True(t, apperrors.IsConflict(err), "got %v", err)
	})

	t.Run("lifecycle to success", func(t *testing.T) {
		id := model.NewTaskID()
		require.NoError(t, backend.Create(ctx, &model.Task{ID: id, Status: model.TaskStatusPending}))
		require.NoError(t, backend.SetStatus(ctx, id, model.TaskStatusRunning, nil))

		got, err := backend.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.TaskStatusRunning, got.Status)

		result := model.TaskResult{"omex": model.OmexFileName(id), "score": 0.5}
		require.NoError(t, backend.SetStatus(ctx, id, model.TaskStatusSuccess, result))

		got, err = backend.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.TaskStatusSuccess, got.Status)
		assert.Equal(t, model.OmexFileName(id), got.Result["omex"])
		assert.InDelta(t, 0.5, got.Result["score"], 1e-9)
		require.NotNil(t, got.DoneAt)
	})

	t.Run("failure keeps error payload", func(t *testing.T) {
		id := model.NewTaskID()
		require.NoError(t, backend.Create(ctx, &model.Task{ID: id, Status: model.TaskStatusPending}))
		payload := model.TaskResult{"errors": []any{"boom", "trace"}}
		require.NoError(t, backend.SetStatus(ctx, id, model.TaskStatusFailure, payload))

		got, err := backend.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.TaskStatusFailure, got.Status)
		assert.Equal(t, []any{"boom", "trace"}, got.Result["errors"])
	})

	t.Run("set status on unknown id creates record", func(t *testing.T) {
		id := model.NewTaskID()
		require.NoError(t, backend.SetStatus(ctx, id, model.TaskStatusRunning, nil))
		got, err := backend.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.TaskStatusRunning, got.Status)
	})

	t.Run("invalid input", func(t *testing.T) {
		assert.ErrorIs(t, backend.Create(ctx, &model.Task{Status: model.TaskStatusPending}), ErrTaskIDRequired)
		assert.ErrorIs(t,
			backend.Create(ctx, &model.Task{ID: model.NewTaskID(), Status: model.TaskStatusNotFound}),
			ErrInvalidTaskStatus)
		assert.ErrorIs(t, backend.SetStatus(ctx, model.NewTaskID(), "STARTED", nil), ErrInvalidTaskStatus)
	})

	t.Run("unknown id is not found", func(t *testing.T) {
		_, err := backend.Get(ctx, model.NewTaskID())
		assert.True(t, apperrors.IsNotFound(err), "got %v", err)
	})

	t.Run("delete", func(t *testing.T) {
		id := model.NewTaskID()
		require.NoError(t, backend.Create(ctx, &model.Task{ID: id, Status: model.TaskStatusPending}))
		require.NoError(t, backend.Delete(ctx, id))
		_, err := backend.Get(ctx, id)
		assert.True(t, apperrors.IsNotFound(err))
		assert.NoError(t, backend.Delete(ctx, id))
	})
}

// runResultReaperSuite checks expiry helpers on backends without native TTLs.
func runResultReaperSuite(t *testing.T, backend core.ResultBackend, reaper core.ResultReaper, setNow func(time.Time)) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	setNow(base)
	oldDone := model.NewTaskID()
	oldPending := model.NewTaskID()
	require.NoError(t, backend.Create(ctx, &model.Task{ID: oldDone, Status: model.TaskStatusPending}))
	require.NoError(t, backend.SetStatus(ctx, oldDone, model.TaskStatusSuccess, model.TaskResult{"ok": true}))
	require.NoError(t, backend.Create(ctx, &model.Task{ID: oldPending, Status: model.TaskStatusPending}))

	setNow(base.Add(2 * time.Hour))
	fresh := model.NewTaskID()
	require.NoError(t, backend.Create(ctx, &model.Task{ID: fresh, Status: model.TaskStatusPending}))
	require.NoError(t, backend.SetStatus(ctx, fresh, model.TaskStatusFailure, model.TaskResult{"errors": []any{"x"}}))

	cutoff := base.Add(time.Hour)

	failed, err := reaper.FailStaleBefore(ctx, cutoff, 100, model.TaskResult{"errors": []any{"stale"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), failed)

	got, err := backend.Get(ctx, oldPending)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailure, got.Status)

	deleted, err := reaper.DeleteFinishedBefore(ctx, cutoff, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = backend.Get(ctx, oldDone)
	assert.True(t, apperrors.IsNotFound(err))
	_, err = backend.Get(ctx, fresh)
	assert.NoError(t, err)
}
