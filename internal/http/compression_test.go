package httpx

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compressed(t *testing.T, level int, acceptEncoding string, h http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if acceptEncoding != "" {
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}
	rec := httptest.NewRecorder()
	Compression(CompressionConfig{Level: level})(h).ServeHTTP(rec, req)
	return rec
}

func writeBody(contentType string, code int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(code)
		if body != "" {
			_, _ = io.WriteString(w, body)
		}
	}
}

func TestCompression_RoundTrip(t *testing.T) {
	body := strings.Repeat(`{"task_id":"x","task_status":"PENDING"}`, 200)

	for _, level := range []int{1, 6, 9, 0, 42} {
		rec := compressed(t, level, "gzip, deflate", writeBody("application/json", http.StatusOK, body))

		require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"), "level %d", level)
		assert.Equal(t, "Accept-Encoding", rec.Header().Get("Vary"))
		assert.Empty(t, rec.Header().Get("Content-Length"))

		gr, err := gzip.NewReader(rec.Body)
		require.NoError(t, err)
		got, err := io.ReadAll(gr)
		require.NoError(t, err)
		assert.Equal(t, body, string(got))
	}
}

func TestCompression_Skips(t *testing.T) {
	tests := []struct {
		name           string
		acceptEncoding string
		contentType    string
		code           int
	}{
		{name: "client without gzip", acceptEncoding: "deflate", contentType: "text/html", code: http.StatusOK},
		{name: "no accept-encoding", contentType: "text/html", code: http.StatusOK},
		{name: "gzip disabled by q=0", acceptEncoding: "gzip;q=0", contentType: "text/html", code: http.StatusOK},
		{name: "archive", acceptEncoding: "gzip", contentType: "application/zip", code: http.StatusOK},
		{name: "image", acceptEncoding: "gzip", contentType: "image/png", code: http.StatusOK},
		{name: "no content", acceptEncoding: "gzip", code: http.StatusNoContent},
		{name: "not modified", acceptEncoding: "gzip", code: http.StatusNotModified},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := ""
			if tt.code == http.StatusOK {
				body = "test content"
			}
			rec := compressed(t, 6, tt.acceptEncoding, writeBody(tt.contentType, tt.code, body))

			assert.Equal(t, tt.code, rec.Code)
			assert.Empty(t, rec.Header().Get("Content-Encoding"))
			assert.Equal(t, body, rec.Body.String())
		})
	}
}

func TestCompression_KeepsExistingEncoding(t *testing.T) {
	rec := compressed(t, 6, "gzip", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Content-Encoding", "br")
		_, _ = io.WriteString(w, "already compressed")
	})
	assert.Equal(t, "br", rec.Header().Get("Content-Encoding"))
	assert.Equal(t, "already compressed", rec.Body.String())
}

func TestCompression_HEAD(t *testing.T) {
	req := httptest.NewRequest(http.MethodHead, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	Compression(CompressionConfig{Level: 6})(writeBody("text/html", http.StatusOK, "")).ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
}

func TestAcceptsGzip(t *testing.T) {
	cases := map[string]bool{
		"gzip;q=1":      true,
		"gzip;q=0.5":    true,
		"gzip; q=0":     false,
		"deflate, gzip": true,
		"x-gzip":        false,
		"":              false,
	}
	for in, want := range cases {
		assert.Equal(t, want, acceptsGzip(in), in)
	}
}
