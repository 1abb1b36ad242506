package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/runfrog/runfrog/internal/errors"
	"github.com/runfrog/runfrog/internal/observability/statsd"
)

func TestEmitTaskLifecycle(t *testing.T) {
	var rec statsd.Recorder

	EmitTaskLifecycle(&rec, TaskMetric{
		Source:     "file",
		Transition: TransitionFailure,
		Result:     ResultError,
		Duration:   150 * time.Millisecond,
		Err:        apperrors.Execution(errors.New("exit 1"), "analyzer failed"),
	})

	counts := rec.Samples("task.transition")
	require.Len(t, counts, 1)
	assert.Equal(t, "failure", counts[0].Tags["transition"])
	assert.Equal(t, "execution", counts[0].Tags["error_class"])
	assert.Equal(t, "file", counts[0].Tags["source"])

	timings := rec.Samples("task.duration")
	require.Len(t, timings, 1)
	assert.Equal(t, 150*time.Millisecond, timings[0].Duration)
}

func TestEmitTaskLifecycleSkipsZeroDuration(t *testing.T) {
	var rec statsd.Recorder
	EmitTaskLifecycle(&rec, TaskMetric{Transition: TransitionRunning, Result: ResultSuccess})

	assert.Len(t, rec.Samples("task.duration"), 0)
	assert.EqualValues(t, 1, rec.Total("task.transition"))

	EmitTaskLifecycle(nil, TaskMetric{})
}

func TestEmitTaskSubmitted(t *testing.T) {
	var rec statsd.Recorder
	EmitTaskSubmitted(&rec, "url", nil)
	EmitTaskSubmitted(&rec, "url", apperrors.Fetchf(nil, "status %d", 404))

	samples := rec.Samples("task.submitted")
	require.Len(t, samples, 2)
	assert.Equal(t, "success", samples[0].Tags["result"])
	assert.Equal(t, "error", samples[1].Tags["result"])
	assert.Equal(t, "fetch", samples[1].Tags["error_class"])
}

func TestCloneTags(t *testing.T) {
	assert.Nil(t, CloneTags(nil))
	src := map[string]string{"a": "1"}
	cp := CloneTags(src)
	cp["a"] = "2"
	assert.Equal(t, "1", src["a"])
}
