package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/runfrog/runfrog/config"
	"github.com/runfrog/runfrog/internal/data"
	"github.com/runfrog/runfrog/internal/domain/model"
	"github.com/runfrog/runfrog/internal/service"
	"github.com/runfrog/runfrog/internal/storage"
	"github.com/runfrog/runfrog/internal/testutil"
)

const helloSBML = `<?xml version="1.0" encoding="UTF-8"?>
<sbml xmlns="http://www.sbml.org/sbml/level3/version1/core" level="3" version="1">
  <model id="hello_sbml"/>
</sbml>
`

// testEnv wires the router to in-memory queue services, a temporary storage
// root and the stub analyzer.
type testEnv struct {
	handler  http.Handler
	broker   *data.MemoryBroker
	backend  *data.MemoryResultBackend
	stager   *storage.Stager
	analyzer *testutil.StubAnalyzer
	executor *service.Executor

	mu    sync.Mutex
	clock time.Time
}

type envOption func(*RouterServices)

func withMaxUpload(n int64) envOption {
	return func(s *RouterServices) { s.MaxUploadBytes = n }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		broker:   data.NewMemoryBroker(),
		backend:  data.NewMemoryResultBackend(),
		stager:   storage.MustNewStager(storage.StagerOptions{Root: t.TempDir()}),
		analyzer: &testutil.StubAnalyzer{},
	}

	submissions := service.MustNewSubmissionService(service.SubmissionServiceOptions{
		Stager:  env.stager,
		Broker:  env.broker,
		Backend: env.backend,
		Fetcher: service.NewURLFetcher(service.URLFetcherOptions{Timeout: 5 * time.Second, AllowPrivate: true}),
		Logger:  logger,
	})
	tasks := service.MustNewTaskService(service.TaskServiceOptions{
		Backend: env.backend,
		Stager:  env.stager,
		Logger:  logger,
	})
	env.executor = service.MustNewExecutor(service.ExecutorOptions{
		Stager:   env.stager,
		Backend:  env.backend,
		Analyzer: env.analyzer,
		Logger:   logger,
	})

	services := RouterServices{
		Submissions: submissions,
		Tasks:       tasks,
		GUI:         config.GUIConfig{PollInterval: 2 * time.Second, ResultTimeout: 10 * time.Minute},
		Version:     "test",
		TemplateFS:  os.DirFS(TemplatePathFromTest),
		Logger:      logger,
		Now:         env.now,
	}
	for _, opt := range opts {
		opt(&services)
	}

	handler, err := NewRouter(services)
	require.NoError(t, err)
	env.handler = handler
	return env
}

func (e *testEnv) now() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.clock.IsZero() {
		return time.Now()
	}
	return e.clock
}

func (e *testEnv) advance(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock = time.Now().Add(d)
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	return e.do(httptest.NewRequest(http.MethodGet, path, nil))
}

// runNext executes the oldest queued task the way a worker would.
func (e *testEnv) runNext(t *testing.T) model.TaskStatus {
	t.Helper()
	ctx := context.Background()
	d, err := e.broker.Receive(ctx, time.Second)
	require.NoError(t, err)
	status, err := e.executor.Execute(ctx, d.Message)
	require.NoError(t, err)
	require.NoError(t, e.broker.Ack(ctx, d))
	return status
}

// submitContent posts helloSBML and returns the task id.
func (e *testEnv) submitContent(t *testing.T) string {
	t.Helper()
	rec := e.do(httptest.NewRequest(http.MethodPost, "/api/frog/content", bytes.NewBufferString(helloSBML)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp model.SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.TaskID)
	return resp.TaskID
}

func multipartRequest(t *testing.T, path, field, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("comment", "ignored"))
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// modelServer serves helloSBML at /model.xml and 404 elsewhere.
func modelServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/model.xml" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, helloSBML)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func decodeErrors(t *testing.T, rec *httptest.ResponseRecorder) []string {
	t.Helper()
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var payload struct {
		Errors []string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload.Errors
}
