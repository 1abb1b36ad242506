package metrics

import (
	"time"

	obserrors "github.com/runfrog/runfrog/internal/observability/errors"
	"github.com/runfrog/runfrog/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Transition names used on task.transition.
const (
	TransitionRunning = "running"
	TransitionSuccess = "success"
	TransitionFailure = "failure"
)

// TaskMetric captures a task lifecycle event for metric emission.
type TaskMetric struct {
	Source     string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitTaskLifecycle emits task.transition and, when a duration is known, task.duration.
func EmitTaskLifecycle(sink statsd.Sink, in TaskMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"transition": in.Transition,
		"result":     in.Result,
	}
	if in.Source != "" {
		tags["source"] = in.Source
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("task.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("task.duration", in.Duration, CloneTags(tags))
	}
}

// EmitTaskSubmitted counts a submission attempt by source kind and outcome.
func EmitTaskSubmitted(sink statsd.Sink, source string, err error) {
	if sink == nil {
		return
	}
	tags := map[string]string{"source": source, "result": ResultSuccess}
	if err != nil {
		tags["result"] = ResultError
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}
	sink.Count("task.submitted", 1, tags)
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
