// Package httpx serves the runfrog JSON API, the browser GUI and the
// embedded static assets.
package httpx

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	runfrog "github.com/runfrog/runfrog"
	"github.com/runfrog/runfrog/config"
	"github.com/runfrog/runfrog/internal/domain/model"
	apperrors "github.com/runfrog/runfrog/internal/errors"
	"github.com/runfrog/runfrog/internal/service"
)

// Submitter enqueues FROG tasks.
type Submitter interface {
	SubmitReader(ctx context.Context, source string, r io.Reader) (string, error)
	SubmitURL(ctx context.Context, rawURL string) (string, error)
}

// TaskReader answers status and archive lookups.
type TaskReader interface {
	Get(ctx context.Context, id string) (*model.Task, error)
	Status(ctx context.Context, id string) (*model.TaskStatusResponse, error)
	Artifact(ctx context.Context, id string) (*service.Artifact, error)
	ArtifactExists(id string) bool
}

var (
	_ Submitter  = (*service.SubmissionService)(nil)
	_ TaskReader = (*service.TaskService)(nil)
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Submissions Submitter
	Tasks       TaskReader
	// MaxUploadBytes caps request bodies on the submission routes. Zero means unlimited.
	MaxUploadBytes int64
	HTTP           config.HTTPConfig
	GUI            config.GUIConfig
	Version        string
	IsDev          bool             // Read templates and static assets from disk
	TemplateFS     fs.FS            // Optional: overrides the embedded or on-disk templates
	Logger         *slog.Logger     // Logger for template and HTTP errors (optional)
	Now            func() time.Time // Optional: clock for the GUI result timeout
}

// NewRouter creates the HTTP handler with the full middleware chain applied.
func NewRouter(services RouterServices) (http.Handler, error) {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	renderer, err := NewTemplateRenderer(TemplateRendererConfig{
		TemplateFS: templateFS(services),
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	api := &APIHandlers{
		Submissions:    services.Submissions,
		Tasks:          services.Tasks,
		MaxUploadBytes: services.MaxUploadBytes,
		About:          newAPIInfo(services.Version, services.HTTP.RootPath),
		Logger:         logger.With("component", "api"),
	}
	ui := &UIHandlers{
		Submissions:    services.Submissions,
		Tasks:          services.Tasks,
		MaxUploadBytes: services.MaxUploadBytes,
		GUI:            services.GUI,
		Version:        services.Version,
		T:              renderer,
		Logger:         logger.With("component", "ui"),
		Now:            services.Now,
	}

	mux := http.NewServeMux()
	registerAPIRoutes(mux, api)
	registerUIRoutes(mux, ui)
	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("GET /static/", staticHandler(services.IsDev))

	var handler http.Handler = &notFoundHandler{mux: mux, ui: ui}
	mws := []func(http.Handler) http.Handler{
		Recover(logger),
		Logging(logger),
		CORS(),
	}
	if services.HTTP.CompressionEnabled {
		mws = append(mws, Compression(CompressionConfig{Level: services.HTTP.CompressionLevel, Logger: logger}))
	}
	return Chain(handler, mws...), nil
}

// MustNewRouter is NewRouter for wiring in main.
func MustNewRouter(services RouterServices) http.Handler {
	h, err := NewRouter(services)
	if err != nil {
		panic(err)
	}
	return h
}

func registerAPIRoutes(mux *http.ServeMux, h *APIHandlers) {
	mux.HandleFunc("GET /api", h.Info)
	mux.HandleFunc("GET /api/{$}", h.Info)
	mux.HandleFunc("POST /api/frog/file", h.SubmitFile)
	mux.HandleFunc("POST /api/frog/content", h.SubmitContent)
	mux.HandleFunc("GET /api/frog/url", h.SubmitURL)
	mux.HandleFunc("GET /api/task/status/{task_id}", h.Status)
	mux.HandleFunc("GET /api/task/omex/{task_id}", h.Omex)
}

func registerUIRoutes(mux *http.ServeMux, h *UIHandlers) {
	mux.HandleFunc("GET /{$}", h.Home)
	mux.HandleFunc("POST /ui/frog/file", h.SubmitFile)
	mux.HandleFunc("POST /ui/frog/url", h.SubmitURL)
	mux.HandleFunc("GET /ui/task/{task_id}", h.Task)
	mux.HandleFunc("GET /ui/task/{task_id}/status", h.StatusFragment)
}

func templateFS(services RouterServices) fs.FS {
	if services.TemplateFS != nil {
		return services.TemplateFS
	}
	if services.IsDev {
		return os.DirFS(TemplatePathFromRoot)
	}
	sub, err := fs.Sub(runfrog.TemplateFS, TemplatePathFromRoot)
	if err != nil {
		return os.DirFS(TemplatePathFromRoot)
	}
	return sub
}

func staticHandler(isDev bool) http.Handler {
	if isDev {
		return staticWithCacheHeaders(http.StripPrefix("/static/", http.FileServer(http.Dir("frontend/static"))), false)
	}
	staticSub, err := fs.Sub(runfrog.StaticFS, "frontend/static")
	if err != nil {
		return staticWithCacheHeaders(http.StripPrefix("/static/", http.FileServer(http.Dir("frontend/static"))), false)
	}
	return staticWithCacheHeaders(http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))), true)
}

// staticWithCacheHeaders wraps a static file handler. Embedded assets change
// only with a new build, so they get a short public cache; disk assets are
// never cached.
func staticWithCacheHeaders(handler http.Handler, cacheable bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cacheable {
			w.Header().Set("Cache-Control", "public, max-age=3600")
		} else {
			w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
			w.Header().Set("Pragma", "no-cache")
			w.Header().Set("Expires", "0")
		}
		handler.ServeHTTP(w, r)
	})
}

// notFoundHandler wraps a ServeMux and provides custom 404 handling for
// requests no route matches: a JSON payload under /api, the GUI not-found
// page elsewhere. Missing static files keep the file server's response.
type notFoundHandler struct {
	mux *http.ServeMux
	ui  *UIHandlers
}

// ServeHTTP implements http.Handler.
func (h *notFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, pattern := h.mux.Handler(r); pattern != "" || r.Method == http.MethodOptions {
		h.mux.ServeHTTP(w, r)
		return
	}
	switch {
	case strings.HasPrefix(r.URL.Path, "/static/"):
		h.mux.ServeHTTP(w, r)
	case r.URL.Path == "/api" || strings.HasPrefix(r.URL.Path, "/api/"):
		WriteError(w, apperrors.NotFoundf("no route for %s %s", r.Method, r.URL.Path))
	default:
		h.ui.NotFound(w, r)
	}
}
