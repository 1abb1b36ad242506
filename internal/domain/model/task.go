// Package model defines the task records, broker messages and status
// responses shared by the runfrog API, workers and result backends.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a FROG task.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type TaskStatus string

const (
	// TaskStatusPending indicates the task is queued and no worker has picked it up.
	TaskStatusPending TaskStatus = "PENDING"
	// TaskStatusRunning indicates a worker is executing the analyzer.
	TaskStatusRunning TaskStatus = "RUNNING"
	// TaskStatusSuccess indicates the analyzer finished and the archive exists.
	TaskStatusSuccess TaskStatus = "SUCCESS"
	// TaskStatusFailure indicates the analyzer failed; the result holds the error payload.
	TaskStatusFailure TaskStatus = "FAILURE"
	// TaskStatusNotFound is reported for ids the result backend does not know.
	// It is never stored.
	TaskStatusNotFound TaskStatus = "NOT_FOUND"
)

// Valid returns true if the status may be stored in a result backend.
func (s TaskStatus) Valid() bool {
	return s == TaskStatusPending || s == TaskStatusRunning || s == TaskStatusSuccess ||
		s == TaskStatusFailure
}

// Finished returns true for terminal states.
func (s TaskStatus) Finished() bool {
	return s == TaskStatusSuccess || s == TaskStatusFailure
}

// UnmarshalText implements encoding.TextUnmarshaler so statuses can be read case-insensitively.
func (s *TaskStatus) UnmarshalText(text []byte) error {
	v := TaskStatus(strings.ToUpper(strings.TrimSpace(string(text))))
	if v.Valid() || v == TaskStatusNotFound {
		*s = v
		return nil
	}
	return fmt.Errorf("invalid TaskStatus: %q", string(text))
}

// TaskResult is the JSON object recorded when a task finishes. On success it
// carries the analyzer output plus the archive name; on failure it carries
// {"errors": [message, trace]}.
type TaskResult map[string]any

// Task is a task record as stored by a result backend.
type Task struct {
	ID        string     `json:"task_id"             db:"id"`
	Status    TaskStatus `json:"task_status"         db:"status"`
	Result    TaskResult `json:"task_result"         db:"result"`
	Source    string     `json:"source,omitempty"    db:"source"`
	CreatedAt time.Time  `json:"created_at"          db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"          db:"updated_at"`
	DoneAt    *time.Time `json:"date_done,omitempty" db:"date_done"`
}

// TaskMessage is the broker payload handed from the API to a worker.
type TaskMessage struct {
	TaskID      string    `json:"task_id"`
	SourcePath  string    `json:"source_path"`
	Source      string    `json:"source,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Encode serializes the message for a broker.
func (m TaskMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeTaskMessage parses a broker payload and checks the fields a worker needs.
func DecodeTaskMessage(data []byte) (TaskMessage, error) {
	var m TaskMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode task message: %w", err)
	}
	if err := ValidateTaskID(m.TaskID); err != nil {
		return m, err
	}
	if m.SourcePath == "" {
		return m, fmt.Errorf("task message %s has no source path", m.TaskID)
	}
	return m, nil
}

// TaskStatusResponse is the body of GET /api/task/status/{task_id}.
type TaskStatusResponse struct {
	TaskID     string     `json:"task_id"`
	TaskStatus TaskStatus `json:"task_status"`
	TaskResult TaskResult `json:"task_result"`
}

// SubmitResponse is the body returned by every submission endpoint.
type SubmitResponse struct {
	TaskID string `json:"task_id"`
}

// Submission sources, used for metrics and stored alongside the task.
const (
	SourceFile    = "file"
	SourceContent = "content"
	SourceURL     = "url"
)

// NewTaskID returns a fresh random task id. Ids double as bearer secrets for
// status and archive lookups.
func NewTaskID() string {
	return uuid.NewString()
}

// ValidateTaskID rejects ids that were not produced by NewTaskID. Archive
// paths are derived from ids, so only canonical UUIDs are accepted.
func ValidateTaskID(id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil || parsed.String() != id {
		return fmt.Errorf("invalid task id %q", id)
	}
	return nil
}

// OmexFileName returns the archive file name for a task.
func OmexFileName(taskID string) string {
	return "FROG_" + taskID + ".omex"
}
