package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runfrog/runfrog/config"
	"github.com/runfrog/runfrog/internal/data"
	"github.com/runfrog/runfrog/internal/domain/model"
	"github.com/runfrog/runfrog/internal/observability/statsd"
)

// fakeResultReaper returns count on the first call of each operation, then 0.
type fakeResultReaper struct {
	mu sync.Mutex

	failCalls  int
	failCount  int64
	failErr    error
	failCutoff time.Time
	failResult model.TaskResult

	deleteCalls  int
	deleteCount  int64
	deleteErr    error
	deleteCutoff time.Time
	deleteLimit  int
}

func (f *fakeResultReaper) FailStaleBefore(
	_ context.Context,
	cutoff time.Time,
	_ int,
	result model.TaskResult,
) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failCalls++
	f.failCutoff = cutoff
	f.failResult = result
	if f.failErr != nil {
		return 0, f.failErr
	}
	if f.failCalls == 1 {
		return f.failCount, nil
	}
	return 0, nil
}

func (f *fakeResultReaper) DeleteFinishedBefore(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	f.deleteCutoff = cutoff
	f.deleteLimit = limit
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	if f.deleteCalls == 1 {
		return f.deleteCount, nil
	}
	return 0, nil
}

func (f *fakeResultReaper) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failCalls, f.deleteCalls
}

var reaperNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testReaperConfig() config.ReaperConfig {
	return config.ReaperConfig{
		Interval:           5 * time.Minute,
		StaleRunningMaxAge: 2 * time.Hour,
		BatchSize:          500,
	}
}

func TestNewReaperService(t *testing.T) {
	t.Run("creates service with valid options", func(t *testing.T) {
		svc, err := NewReaperService(ReaperServiceOptions{
			Reaper:    &fakeResultReaper{},
			Config:    testReaperConfig(),
			ResultTTL: 24 * time.Hour,
			Logger:    slog.Default(),
		})
		require.NoError(t, err)
		assert.NotNil(t, svc)
	})

	t.Run("returns error when reaper is nil", func(t *testing.T) {
		_, err := NewReaperService(ReaperServiceOptions{Config: testReaperConfig()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ResultReaper is required")
	})

	t.Run("returns error for zero interval", func(t *testing.T) {
		_, err := NewReaperService(ReaperServiceOptions{Reaper: &fakeResultReaper{}})
		require.Error(t, err)
	})
}

func TestReaperService_RunOnce(t *testing.T) {
	t.Run("runs both operations with computed cutoffs", func(t *testing.T) {
		fake := &fakeResultReaper{failCount: 3, deleteCount: 7}
		rec := &statsd.Recorder{}
		svc := MustNewReaperService(ReaperServiceOptions{
			Reaper:    fake,
			Config:    testReaperConfig(),
			ResultTTL: 24 * time.Hour,
			Metrics:   rec,
			Now:       func() time.Time { return reaperNow },
		})

		require.NoError(t, svc.RunOnce(context.Background()))

		failCalls, deleteCalls := fake.calls()
		assert.Equal(t, 2, failCalls)
		assert.Equal(t, 2, deleteCalls)
		assert.Equal(t, reaperNow.Add(-2*time.Hour), fake.failCutoff)
		assert.Equal(t, reaperNow.Add(-24*time.Hour), fake.deleteCutoff)
		assert.Equal(t, 500, fake.deleteLimit)

		errs, ok := fake.failResult["errors"].([]any)
		require.True(t, ok)
		assert.Contains(t, errs[0], "no progress for 2h0m0s")

		assert.EqualValues(t, 10, rec.Total("reaper.tasks_processed"))
		cleanup := rec.Samples("reaper.cleanup")
		require.Len(t, cleanup, 1)
		assert.Equal(t, "success", cleanup[0].Tags["result"])
	})

	t.Run("skips stale step when disabled", func(t *testing.T) {
		fake := &fakeResultReaper{}
		cfg := testReaperConfig()
		cfg.StaleRunningMaxAge = 0
		svc := MustNewReaperService(ReaperServiceOptions{Reaper: fake, Config: cfg, ResultTTL: time.Hour})

		require.NoError(t, svc.RunOnce(context.Background()))
		failCalls, deleteCalls := fake.calls()
		assert.Equal(t, 0, failCalls)
		assert.Equal(t, 1, deleteCalls)
	})

	t.Run("continues on partial errors", func(t *testing.T) {
		fake := &fakeResultReaper{failErr: errors.New("fail error"), deleteCount: 2}
		rec := &statsd.Recorder{}
		svc := MustNewReaperService(ReaperServiceOptions{
			Reaper:    fake,
			Config:    testReaperConfig(),
			ResultTTL: time.Hour,
			Metrics:   rec,
		})

		err := svc.RunOnce(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fail stale tasks")

		failCalls, deleteCalls := fake.calls()
		assert.Equal(t, 1, failCalls)
		assert.Equal(t, 2, deleteCalls)
		assert.Equal(t, "error", rec.Samples("reaper.cleanup")[0].Tags["result"])
	})

	t.Run("reports cancellation", func(t *testing.T) {
		fake := &fakeResultReaper{failErr: context.Canceled, deleteErr: context.Canceled}
		svc := MustNewReaperService(ReaperServiceOptions{Reaper: fake, Config: testReaperConfig(), ResultTTL: time.Hour})

		err := svc.RunOnce(context.Background())
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestReaperService_Run(t *testing.T) {
	t.Run("stops on context cancellation", func(t *testing.T) {
		fake := &fakeResultReaper{}
		cfg := testReaperConfig()
		cfg.Interval = 100 * time.Millisecond
		svc := MustNewReaperService(ReaperServiceOptions{Reaper: fake, Config: cfg, ResultTTL: time.Hour})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- svc.Run(ctx)
		}()

		time.Sleep(150 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("Run did not stop after context cancellation")
		}

		failCalls, _ := fake.calls()
		assert.GreaterOrEqual(t, failCalls, 1)
	})

	t.Run("continues running despite cleanup errors", func(t *testing.T) {
		fake := &fakeResultReaper{failErr: errors.New("test error")}
		cfg := testReaperConfig()
		cfg.Interval = 50 * time.Millisecond
		svc := MustNewReaperService(ReaperServiceOptions{Reaper: fake, Config: cfg, ResultTTL: time.Hour})

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		err := svc.Run(ctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)

		failCalls, _ := fake.calls()
		assert.GreaterOrEqual(t, failCalls, 2)
	})
}

func TestReaperService_MemoryBackend(t *testing.T) {
	ctx := context.Background()
	backend := data.NewMemoryResultBackend()

	doneID := model.NewTaskID()
	require.NoError(t, backend.SetStatus(ctx, doneID, model.TaskStatusSuccess, model.TaskResult{"omex": "x"}))
	stuckID := model.NewTaskID()
	require.NoError(t, backend.Create(ctx, &model.Task{ID: stuckID, Status: model.TaskStatusRunning}))

	// Three hours ahead: the running task is stale, the finished one is not yet expired.
	svc := MustNewReaperService(ReaperServiceOptions{
		Reaper:    backend,
		Config:    testReaperConfig(),
		ResultTTL: 24 * time.Hour,
		Now:       func() time.Time { return time.Now().Add(3 * time.Hour) },
	})
	require.NoError(t, svc.RunOnce(ctx))

	stuck, err := backend.Get(ctx, stuckID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailure, stuck.Status)

	_, err = backend.Get(ctx, doneID)
	require.NoError(t, err)
}
