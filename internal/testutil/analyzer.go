package testutil

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/runfrog/runfrog/internal/core"
	"github.com/runfrog/runfrog/internal/domain/model"
)

// StubAnalyzer stands in for the FROG report generator. It reads the staged
// model and writes a small COMBINE archive containing it.
type StubAnalyzer struct {
	// Err, when set, is returned instead of producing an archive.
	Err error
	// Panic, when set, is raised from Analyze.
	Panic any
	// SkipArchive returns success without writing the archive.
	SkipArchive bool

	calls atomic.Int64
}

var _ core.Analyzer = (*StubAnalyzer)(nil)

// Calls returns how many times Analyze ran.
func (a *StubAnalyzer) Calls() int64 { return a.calls.Load() }

// Analyze implements core.Analyzer.
func (a *StubAnalyzer) Analyze(_ context.Context, req core.AnalysisRequest) (model.TaskResult, error) {
	a.calls.Add(1)
	if a.Panic != nil {
		panic(a.Panic)
	}
	if a.Err != nil {
		return nil, a.Err
	}

	content, err := os.ReadFile(req.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("read staged model: %w", err)
	}
	if !a.SkipArchive {
		if err := WriteOmex(req.OmexPath, content); err != nil {
			return nil, err
		}
	}
	return model.TaskResult{"model_bytes": float64(len(content))}, nil
}

// WriteOmex writes a minimal COMBINE archive holding model.xml.
func WriteOmex(path string, modelContent []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("model.xml")
	if err == nil {
		_, err = w.Write(modelContent)
	}
	if err == nil {
		err = zw.Close()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	return nil
}
