package httpx

import (
	"io/fs"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	runfrog "github.com/runfrog/runfrog"
)

func TestContentTemplateFor(t *testing.T) {
	assert.Equal(t, "home-content", ContentTemplateFor(PageHome))
	assert.Equal(t, "task-content", ContentTemplateFor(PageTask))
	assert.Equal(t, "home-content", ContentTemplateFor("unknown"))
}

func TestTemplatesParse(t *testing.T) {
	embedded, err := fs.Sub(runfrog.TemplateFS, TemplatePathFromRoot)
	require.NoError(t, err)

	for name, fsys := range map[string]fs.FS{
		"disk":     os.DirFS(TemplatePathFromTest),
		"embedded": embedded,
	} {
		t.Run(name, func(t *testing.T) {
			r, err := NewTemplateRenderer(TemplateRendererConfig{TemplateFS: fsys})
			require.NoError(t, err)

			rec := httptest.NewRecorder()
			require.NoError(t, r.RenderError(rec, PageData{Title: "Oops", Error: "disk full"}))
			assert.Contains(t, rec.Body.String(), "disk full")
			assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
		})
	}
}

func TestNewTemplateRendererRequiresFS(t *testing.T) {
	_, err := NewTemplateRenderer(TemplateRendererConfig{})
	assert.Error(t, err)
}

func TestRenderUnknownTemplate(t *testing.T) {
	r, err := NewTemplateRenderer(TemplateRendererConfig{TemplateFS: os.DirFS(TemplatePathFromTest)})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	assert.Error(t, r.Render(rec, "no-such-template", nil))
	assert.Zero(t, rec.Body.Len())
}
