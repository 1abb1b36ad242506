package core

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/runfrog/runfrog/internal/domain/model"
)

// This file contains the port definitions between the service layer and the
// brokers, result backends, storage and analyzer adapters. Services depend on
// these interfaces, not on concrete implementations.

// ErrNoMessage is returned by Broker.Receive when no message arrived within the wait.
var ErrNoMessage = errors.New("no message available")

// Delivery is a message received from a broker. Handle identifies the
// delivery for Ack and is broker specific.
type Delivery struct {
	Message model.TaskMessage
	Body    []byte
	Handle  string
}

// Broker carries task messages from the API to workers.
type Broker interface {
	Publish(ctx context.Context, msg model.TaskMessage) error
	// Receive blocks for at most wait and returns ErrNoMessage when the queue stayed empty.
	Receive(ctx context.Context, wait time.Duration) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	// Extend renews the lease on an unacknowledged delivery so the broker does
	// not hand it to another worker while the task is still running.
	Extend(ctx context.Context, d *Delivery) error
	Close() error
}

// ResultBackend stores task records keyed by task id.
type ResultBackend interface {
	// Create stores a new PENDING record. It fails with a conflict error if the id exists.
	Create(ctx context.Context, task *model.Task) error
	// SetStatus moves a task to status, recording result for terminal states.
	SetStatus(ctx context.Context, id string, status model.TaskStatus, result model.TaskResult) error
	// Get returns the task or a not-found error.
	Get(ctx context.Context, id string) (*model.Task, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// ResultReaper is implemented by result backends without native expiry.
type ResultReaper interface {
	// DeleteFinishedBefore removes finished records last updated before cutoff.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
	// FailStaleBefore marks PENDING or RUNNING records not updated since cutoff as FAILURE.
	FailStaleBefore(ctx context.Context, cutoff time.Time, limit int, result model.TaskResult) (int64, error)
}

// ContentStager persists submitted content and resolves archives on the shared storage root.
type ContentStager interface {
	Stage(ctx context.Context, content []byte) (string, error)
	StageReader(ctx context.Context, r io.Reader) (string, error)
	Remove(path string) error
	ArtifactPath(taskID string) (string, error)
	ReserveArtifact(taskID string) (string, error)
	CommitArtifact(taskID, scratch string) error
	OpenArtifact(taskID string) (*os.File, fs.FileInfo, error)
	ArtifactExists(taskID string) bool
}

// AnalysisRequest is the input handed to the external report generator.
type AnalysisRequest struct {
	TaskID     string
	SourcePath string
	OmexPath   string
}

// Analyzer runs the external FROG report generation for one staged model.
// Implementations write the archive to OmexPath and return a JSON-compatible summary.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (model.TaskResult, error)
}

// Fetcher downloads remote model files for URL submissions.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error)
}
