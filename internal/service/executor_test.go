package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/runfrog/runfrog/internal/data"
	"github.com/runfrog/runfrog/internal/domain/model"
	"github.com/runfrog/runfrog/internal/mocks"
	"github.com/runfrog/runfrog/internal/observability/statsd"
	"github.com/runfrog/runfrog/internal/storage"
	"github.com/runfrog/runfrog/internal/testutil"
)

type executorFixture struct {
	exec    *Executor
	stager  *storage.Stager
	backend *data.MemoryResultBackend
	metrics *statsd.Recorder
}

func newExecutorFixture(t *testing.T, analyzer *testutil.StubAnalyzer) *executorFixture {
	t.Helper()
	f := &executorFixture{
		stager:  storage.MustNewStager(storage.StagerOptions{Root: t.TempDir()}),
		backend: data.NewMemoryResultBackend(),
		metrics: &statsd.Recorder{},
	}
	f.exec = MustNewExecutor(ExecutorOptions{
		Stager:   f.stager,
		Backend:  f.backend,
		Analyzer: analyzer,
		Metrics:  f.metrics,
	})
	return f
}

// stage stages content and records a PENDING task the way a submission does.
func (f *executorFixture) stage(t *testing.T, content string) model.TaskMessage {
	t.Helper()
	ctx := context.Background()
	path, err := f.stager.Stage(ctx, []byte(content))
	require.NoError(t, err)
	msg := model.TaskMessage{TaskID: model.NewTaskID(), SourcePath: path, Source: model.SourceContent}
	require.NoError(t, f.backend.Create(ctx, &model.Task{ID: msg.TaskID, Status: model.TaskStatusPending}))
	return msg
}

func TestExecutorSuccess(t *testing.T) {
	analyzer := &testutil.StubAnalyzer{}
	f := newExecutorFixture(t, analyzer)
	msg := f.stage(t, "<sbml/>")

	status, err := f.exec.Execute(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusSuccess, status)

	task, err := f.backend.Get(context.Background(), msg.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusSuccess, task.Status)
	assert.Equal(t, msg.TaskID, task.Result["task_id"])
	assert.Equal(t, model.OmexFileName(msg.TaskID), task.Result["omex"])
	assert.InDelta(t, 7, task.Result["model_bytes"], 0)
	assert.NotNil(t, task.DoneAt)

	assert.True(t, f.stager.ArtifactExists(msg.TaskID))
	_, statErr := os.Stat(msg.SourcePath)
	assert.True(t, os.IsNotExist(statErr), "staged input must be removed after success")

	transitions := f.metrics.Samples("task.transition")
	require.Len(t, transitions, 2)
	assert.Equal(t, "running", transitions[0].Tags["transition"])
	assert.Equal(t, "success", transitions[1].Tags["transition"])
}

func TestExecutorAnalyzerFailure(t *testing.T) {
	f := newExecutorFixture(t, &testutil.StubAnalyzer{Err: errors.New("libsbml: invalid document")})
	msg := f.stage(t, "not sbml")

	status, err := f.exec.Execute(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailure, status)

	task, err := f.backend.Get(context.Background(), msg.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailure, task.Status)

	errs, ok := task.Result["errors"].([]any)
	require.True(t, ok, "failure result must carry an errors list")
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "libsbml: invalid document")
	assert.NotEmpty(t, errs[1])

	assert.False(t, f.stager.ArtifactExists(msg.TaskID))
	_, statErr := os.Stat(msg.SourcePath)
	assert.True(t, os.IsNotExist(statErr), "staged input must be removed after failure")

	transitions := f.metrics.Samples("task.transition")
	require.Len(t, transitions, 2)
	assert.Equal(t, "failure", transitions[1].Tags["transition"])
	assert.Equal(t, "execution", transitions[1].Tags["error_class"])
}

func TestExecutorRecoversPanic(t *testing.T) {
	f := newExecutorFixture(t, &testutil.StubAnalyzer{Panic: "index out of range"})
	msg := f.stage(t, "<sbml/>")

	status, err := f.exec.Execute(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailure, status)

	task, err := f.backend.Get(context.Background(), msg.TaskID)
	require.NoError(t, err)
	errs, ok := task.Result["errors"].([]any)
	require.True(t, ok)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "index out of range")
	assert.Contains(t, errs[1], "goroutine")

	_, statErr := os.Stat(msg.SourcePath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestExecutorMissingArchiveIsFailure(t *testing.T) {
	f := newExecutorFixture(t, &testutil.StubAnalyzer{SkipArchive: true})
	msg := f.stage(t, "<sbml/>")

	status, err := f.exec.Execute(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailure, status)
}

func TestExecutorCancelledContextStillRecordsOutcome(t *testing.T) {
	f := newExecutorFixture(t, &testutil.StubAnalyzer{Err: context.Canceled})
	msg := f.stage(t, "<sbml/>")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	status, err := f.exec.Execute(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailure, status)

	task, err := f.backend.Get(context.Background(), msg.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailure, task.Status)
}

func TestExecutorReportsFinalStatusWriteFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mocks.NewMockResultBackend(ctrl)
	stager := storage.MustNewStager(storage.StagerOptions{Root: t.TempDir()})

	path, err := stager.Stage(context.Background(), []byte("<sbml/>"))
	require.NoError(t, err)
	msg := model.TaskMessage{TaskID: model.NewTaskID(), SourcePath: path}

	gomock.InOrder(
		backend.EXPECT().Get(gomock.Any(), msg.TaskID).
			Return(&model.Task{ID: msg.TaskID, Status: model.TaskStatusPending}, nil),
		backend.EXPECT().SetStatus(gomock.Any(), msg.TaskID, model.TaskStatusRunning, gomock.Nil()).Return(nil),
		backend.EXPECT().SetStatus(gomock.Any(), msg.TaskID, model.TaskStatusSuccess, gomock.Any()).
			Return(errors.New("redis: connection pool timeout")),
	)

	exec := MustNewExecutor(ExecutorOptions{Stager: stager, Backend: backend, Analyzer: &testutil.StubAnalyzer{}})
	status, err := exec.Execute(context.Background(), msg)
	require.Error(t, err)
	assert.Equal(t, model.TaskStatusSuccess, status)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestExecutorRedeliveryOfFinishedTask(t *testing.T) {
	analyzer := &testutil.StubAnalyzer{}
	f := newExecutorFixture(t, analyzer)
	msg := f.stage(t, "<sbml/>")
	ctx := context.Background()

	status, err := f.exec.Execute(ctx, msg)
	require.NoError(t, err)
	require.Equal(t, model.TaskStatusSuccess, status)
	first, err := f.backend.Get(ctx, msg.TaskID)
	require.NoError(t, err)

	// Same message again, as after a lost ack.
	status, err = f.exec.Execute(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusSuccess, status)
	assert.EqualValues(t, 1, analyzer.Calls(), "finished task must not run twice")

	again, err := f.backend.Get(ctx, msg.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusSuccess, again.Status)
	assert.Equal(t, first.Result, again.Result)
	assert.True(t, f.stager.ArtifactExists(msg.TaskID), "archive from the first run must survive")
	assert.Len(t, f.metrics.Samples("task.transition"), 2)
}

func TestExecutorRerunKeepsPublishedArchive(t *testing.T) {
	f := newExecutorFixture(t, &testutil.StubAnalyzer{Err: errors.New("source vanished")})
	msg := f.stage(t, "<sbml/>")

	// An earlier run published the archive but died before recording SUCCESS.
	omex, err := f.stager.ArtifactPath(msg.TaskID)
	require.NoError(t, err)
	require.NoError(t, testutil.WriteOmex(omex, []byte("<sbml/>")))
	before, err := os.ReadFile(omex)
	require.NoError(t, err)

	status, err := f.exec.Execute(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailure, status)

	after, err := os.ReadFile(omex)
	require.NoError(t, err, "a failed rerun must not delete the published archive")
	assert.Equal(t, before, after)

	scratch, err := filepath.Glob(filepath.Join(filepath.Dir(omex), ".partial-*"))
	require.NoError(t, err)
	assert.Empty(t, scratch, "scratch archives are cleaned up")
}
