package httpx

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/runfrog/runfrog/internal/errors"
)

func TestRecover(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	h := Recover(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("analyzer exploded")
	}))

	t.Run("api", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/frog/content", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		errs := decodeErrors(t, rec)
		require.Len(t, errs, 2)
		assert.Contains(t, errs[0], "analyzer exploded")
		assert.Contains(t, errs[1], "panic: analyzer exploded")
	})

	t.Run("browser", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Body.String(), "Internal Server Error")
	})

	assert.Contains(t, logs.String(), `"msg":"panic"`)
}

func TestLogging(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/task/status/x", nil))

	out := logs.String()
	assert.Contains(t, out, `"status":418`)
	assert.Contains(t, out, `"path":"/api/task/status/x"`)
	assert.Contains(t, out, `"method":"GET"`)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { order = append(order, "handler") }),
		mw("outer"), mw("inner"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperrors.Validation("bad"), http.StatusBadRequest},
		{apperrors.NotFound("gone"), http.StatusNotFound},
		{apperrors.Storage(errors.New("disk"), "write"), http.StatusInternalServerError},
		{apperrors.Fetchf(nil, "remote answered 500"), http.StatusBadGateway},
		{apperrors.QueueUnavailable(errors.New("dial"), "publish"), http.StatusServiceUnavailable},
		{fmt.Errorf("wrapped: %w", apperrors.NotFound("gone")), http.StatusNotFound},
		{apperrors.Execution(nil, "boom"), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()

	WriteError(rec, apperrors.QueueUnavailable(errors.New("connection refused"), "publish task"))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	errs := decodeErrors(t, rec)
	require.Len(t, errs, 2)
	assert.Equal(t, "publish task: connection refused", errs[0])
	assert.Contains(t, errs[1], "connection refused")
}
