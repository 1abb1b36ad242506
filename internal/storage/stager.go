// Package storage stages submitted content on the shared storage root and
// resolves task archives written there by workers.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/runfrog/runfrog/internal/domain/model"
	apperrors "github.com/runfrog/runfrog/internal/errors"
)

const (
	stagedPattern  = "frog-*.upload"
	scratchPattern = ".partial-*-"
)

// ErrTooLarge is returned when staged content exceeds the configured limit.
var ErrTooLarge = errors.New("content exceeds upload limit")

// Stager writes staged inputs and locates archives under a single root directory.
// Staged files are never deleted by the stager itself; the executor removes them.
type Stager struct {
	root     string
	maxBytes int64
}

// StagerOptions configures a Stager.
type StagerOptions struct {
	Root     string
	MaxBytes int64 // 0 means unlimited
}

// NewStager resolves root to an absolute path.
func NewStager(opts StagerOptions) (*Stager, error) {
	if opts.Root == "" {
		return nil, errors.New("storage root is required")
	}
	abs, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	return &Stager{root: abs, maxBytes: opts.MaxBytes}, nil
}

// MustNewStager panics on invalid options. Intended for wiring in main.
func MustNewStager(opts StagerOptions) *Stager {
	s, err := NewStager(opts)
	if err != nil {
		panic(err)
	}
	return s
}

// Root returns the absolute storage root.
func (s *Stager) Root() string { return s.root }

// EnsureRoot creates the storage root if needed.
func (s *Stager) EnsureRoot() error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return apperrors.Storage(err, "create storage root")
	}
	return nil
}

// Stage writes content to a new uniquely named file and returns its absolute path.
func (s *Stager) Stage(ctx context.Context, content []byte) (string, error) {
	if s.maxBytes > 0 && int64(len(content)) > s.maxBytes {
		return "", apperrors.Validationf("content is %d bytes, limit is %d", len(content), s.maxBytes)
	}
	return s.write(ctx, func(w io.Writer) error {
		_, err := w.Write(content)
		return err
	})
}

// StageReader streams r to a new uniquely named file and returns its absolute path.
// Reading more than the configured limit fails with a validation error.
func (s *Stager) StageReader(ctx context.Context, r io.Reader) (string, error) {
	return s.write(ctx, func(w io.Writer) error {
		if s.maxBytes <= 0 {
			_, err := io.Copy(w, r)
			return err
		}
		n, err := io.Copy(w, io.LimitReader(r, s.maxBytes+1))
		if err != nil {
			return err
		}
		if n > s.maxBytes {
			return ErrTooLarge
		}
		return nil
	})
}

func (s *Stager) write(ctx context.Context, fill func(io.Writer) error) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f, err := os.CreateTemp(s.root, stagedPattern)
	if err != nil {
		return "", apperrors.Storage(err, "create staged file")
	}
	path := f.Name()

	if err := fill(f); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		if errors.Is(err, ErrTooLarge) {
			return "", apperrors.Validationf("content exceeds %d bytes", s.maxBytes)
		}
		return "", apperrors.Storage(err, "write staged file")
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", apperrors.Storage(err, "sync staged file")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", apperrors.Storage(err, "close staged file")
	}
	return path, nil
}

// Remove deletes a staged file. A file that is already gone is not an error.
func (s *Stager) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return apperrors.Storage(err, "remove staged file")
	}
	return nil
}

// ArtifactPath returns the deterministic archive path for a task.
func (s *Stager) ArtifactPath(taskID string) (string, error) {
	if err := model.ValidateTaskID(taskID); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid task id")
	}
	return filepath.Join(s.root, model.OmexFileName(taskID)), nil
}

// ReserveArtifact creates an empty scratch file next to the task's archive for
// the analyzer to write into. CommitArtifact moves it into place.
func (s *Stager) ReserveArtifact(taskID string) (string, error) {
	if err := model.ValidateTaskID(taskID); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid task id")
	}
	f, err := os.CreateTemp(s.root, scratchPattern+model.OmexFileName(taskID))
	if err != nil {
		return "", apperrors.Storage(err, "create scratch archive")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", apperrors.Storage(err, "close scratch archive")
	}
	return f.Name(), nil
}

// CommitArtifact publishes a scratch file written by the analyzer as the
// task's archive. A missing or empty scratch file is reported as not found.
// An archive that already exists is kept and the scratch file discarded, so a
// published archive never changes.
func (s *Stager) CommitArtifact(taskID, scratch string) error {
	final, err := s.ArtifactPath(taskID)
	if err != nil {
		return err
	}
	info, err := os.Stat(scratch)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apperrors.NotFoundf("no archive written for task %s", taskID)
		}
		return apperrors.Storage(err, "stat scratch archive")
	}
	if info.IsDir() || info.Size() == 0 {
		_ = s.Remove(scratch)
		return apperrors.NotFoundf("no archive written for task %s", taskID)
	}
	if s.ArtifactExists(taskID) {
		return s.Remove(scratch)
	}
	if err := os.Rename(scratch, final); err != nil {
		return apperrors.Storage(err, "publish archive")
	}
	return nil
}

// OpenArtifact opens the archive for a task. Missing and zero-byte archives
// are reported as not found so callers never serve an empty download.
func (s *Stager) OpenArtifact(taskID string) (*os.File, fs.FileInfo, error) {
	path, err := s.ArtifactPath(taskID)
	if err != nil {
		return nil, nil, apperrors.NotFoundf("no archive for task %s", taskID)
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, apperrors.NotFoundf("no archive for task %s", taskID)
		}
		return nil, nil, apperrors.Storage(err, "open archive")
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, apperrors.Storage(err, "stat archive")
	}
	if info.IsDir() || info.Size() == 0 {
		_ = f.Close()
		return nil, nil, apperrors.NotFoundf("no archive for task %s", taskID)
	}
	return f, info, nil
}

// ArtifactExists reports whether a non-empty archive exists for the task.
func (s *Stager) ArtifactExists(taskID string) bool {
	f, _, err := s.OpenArtifact(taskID)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}
