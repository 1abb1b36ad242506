package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/runfrog/runfrog/config"
	"github.com/runfrog/runfrog/internal/domain/model"
	apperrors "github.com/runfrog/runfrog/internal/errors"
)

// Submission tabs on the home page.
const (
	TabFile = "file"
	TabURL  = "url"
)

// Task view outcomes.
const (
	OutcomePending = "pending"
	OutcomeSuccess = "success"
	OutcomeMissing = "missing"
)

// UIHandlers serves browser-facing routes.
type UIHandlers struct {
	Submissions    Submitter
	Tasks          TaskReader
	MaxUploadBytes int64
	GUI            config.GUIConfig
	Version        string
	T              *TemplateRenderer
	Logger         *slog.Logger
	Now            func() time.Time
}

// PageData is the template data for every GUI page.
type PageData struct {
	Page      string
	Title     string
	Version   string
	Tab       string
	URL       string
	Error     string
	Task      *TaskView
	NotFound  bool
	ErrorCode int
}

// TaskView describes the state of one task as shown by the task page and
// its polled status fragment.
type TaskView struct {
	ID           string
	Status       model.TaskStatus
	Outcome      string
	Reason       string
	Polling      bool
	PollInterval time.Duration
	StatusURL    string
	DownloadURL  string
	Result       model.TaskResult
	SubmittedAt  time.Time
	Elapsed      time.Duration
}

// Home renders the submission page.
func (h *UIHandlers) Home(w http.ResponseWriter, r *http.Request) {
	tab := TabFile
	if r.URL.Query().Get("tab") == TabURL {
		tab = TabURL
	}
	h.renderPage(w, r, http.StatusOK, PageData{Page: PageHome, Title: "FROG analysis", Tab: tab})
}

// SubmitFile handles the upload form.
func (h *UIHandlers) SubmitFile(w http.ResponseWriter, r *http.Request) {
	id, err := submitMultipart(w, r, h.Submissions, h.MaxUploadBytes)
	h.afterSubmit(w, r, id, err, PageData{Tab: TabFile})
}

// SubmitURL handles the URL form.
func (h *UIHandlers) SubmitURL(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, multipartOverhead)
	if err := r.ParseForm(); err != nil {
		h.afterSubmit(w, r, "", apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid form"), PageData{Tab: TabURL})
		return
	}
	rawURL := r.PostForm.Get("url")
	if rawURL == "" {
		h.afterSubmit(w, r, "", apperrors.ValidationField("url", "Please enter a URL."), PageData{Tab: TabURL})
		return
	}
	id, err := h.Submissions.SubmitURL(r.Context(), rawURL)
	h.afterSubmit(w, r, id, err, PageData{Tab: TabURL, URL: rawURL})
}

func (h *UIHandlers) afterSubmit(w http.ResponseWriter, r *http.Request, id string, err error, data PageData) {
	if err == nil {
		Redirect(w, r, "/ui/task/"+id)
		return
	}
	h.Logger.WarnContext(r.Context(), "gui submission rejected", "tab", data.Tab, "error", err)
	data.Page = PageHome
	data.Title = "FROG analysis"
	data.Error = apperrors.Message(err)

	// htmx only swaps 2xx responses.
	code := StatusFor(err)
	if IsHTMX(r) {
		code = http.StatusOK
	}
	h.renderPage(w, r, code, data)
}

// Task renders the task page, which polls the status fragment until the task settles.
func (h *UIHandlers) Task(w http.ResponseWriter, r *http.Request) {
	view := h.taskView(r.Context(), r.PathValue("task_id"))
	h.renderPage(w, r, http.StatusOK, PageData{Page: PageTask, Title: "FROG task " + view.ID, Task: view})
}

// StatusFragment renders the task status partial polled by the task page.
func (h *UIHandlers) StatusFragment(w http.ResponseWriter, r *http.Request) {
	view := h.taskView(r.Context(), r.PathValue("task_id"))
	w.Header().Set("Cache-Control", "no-store")
	if err := h.T.Render(w, "task-status", view); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// NotFound renders the not-found page.
func (h *UIHandlers) NotFound(w http.ResponseWriter, r *http.Request) {
	data := PageData{Title: "Not found", Version: h.Version, NotFound: true, ErrorCode: http.StatusNotFound}
	w.WriteHeader(http.StatusNotFound)
	if err := h.T.RenderError(w, data); err != nil {
		h.Logger.ErrorContext(r.Context(), "render not found page", "error", err)
	}
}

// taskView looks up the task record and the archive concurrently and
// decides what the page shows. Failures, unknown ids, missing archives and
// tasks that outlive the GUI timeout all end in the "missing" outcome.
func (h *UIHandlers) taskView(ctx context.Context, id string) *TaskView {
	view := &TaskView{
		ID:           id,
		PollInterval: h.GUI.PollInterval,
		StatusURL:    "/ui/task/" + id + "/status",
		DownloadURL:  "/api/task/omex/" + id,
	}

	var (
		task      *model.Task
		hasResult bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		task, err = h.Tasks.Get(gctx, id)
		return err
	})
	g.Go(func() error {
		hasResult = h.Tasks.ArtifactExists(id)
		return nil
	})
	taskErr := g.Wait()

	switch {
	case apperrors.IsNotFound(taskErr):
		view.Status = model.TaskStatusNotFound
		view.Outcome = OutcomeMissing
		view.Reason = "Unknown task."
		return view
	case taskErr != nil:
		h.Logger.WarnContext(ctx, "task status unavailable", "task_id", id, "error", taskErr)
		view.Outcome = OutcomePending
		view.Polling = true
		view.Reason = "Status temporarily unavailable."
		return view
	}

	view.Status = task.Status
	view.SubmittedAt = task.CreatedAt
	view.Elapsed = h.now().Sub(task.CreatedAt).Truncate(time.Second)

	switch task.Status {
	case model.TaskStatusSuccess:
		if hasResult {
			view.Outcome = OutcomeSuccess
			view.Result = task.Result
			return view
		}
		view.Outcome = OutcomeMissing
		view.Reason = "The result archive is no longer available."
	case model.TaskStatusFailure:
		view.Outcome = OutcomeMissing
		view.Reason = "The analysis failed."
		view.Result = task.Result
	default:
		if h.GUI.ResultTimeout > 0 && view.Elapsed > h.GUI.ResultTimeout {
			view.Outcome = OutcomeMissing
			view.Reason = "No result after " + h.GUI.ResultTimeout.String() + "."
			return view
		}
		view.Outcome = OutcomePending
		view.Polling = true
	}
	return view
}

func (h *UIHandlers) renderPage(w http.ResponseWriter, r *http.Request, code int, data PageData) {
	data.Version = h.Version
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)

	var err error
	if WantsPartial(r) {
		err = h.T.RenderPartial(w, data)
	} else {
		err = h.T.RenderFull(w, data)
	}
	if err != nil {
		h.Logger.ErrorContext(r.Context(), "render page", "page", data.Page, "error", err)
	}
}

func (h *UIHandlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}
