package httpx

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/runfrog/runfrog/internal/domain/model"
	apperrors "github.com/runfrog/runfrog/internal/errors"
)

// SourceField is the multipart field carrying the uploaded model.
const SourceField = "source"

// multipartOverhead leaves room for boundaries and part headers on top of the upload limit.
const multipartOverhead = 64 << 10

// APIInfo is returned by GET /api.
type APIInfo struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Version     string     `json:"version"`
	Contact     APIContact `json:"contact"`
	License     APILicense `json:"license"`
	RootPath    string     `json:"root_path"`
}

// APIContact names the maintainers of the FROG service.
type APIContact struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	Email string `json:"email"`
}

// APILicense names the license the service is published under.
type APILicense struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

const apiDescription = `FROG webservice for reproducible analysis of constraint-based (FBC) models.
Submit an SBML model or a COMBINE archive (OMEX) via file upload, raw content or URL.
After submission of a model for FROG analysis a task_id is returned which can be used to
poll the task status and, once finished, to download the OMEX archive with the FROG report.
Task ids are secrets: anyone who knows an id can read the results.`

func newAPIInfo(version, rootPath string) APIInfo {
	if version == "" {
		version = "dev"
	}
	return APIInfo{
		Title:       "FROG REST API",
		Description: apiDescription,
		Version:     version,
		Contact: APIContact{
			Name:  "Matthias König",
			URL:   "https://livermetabolism.com",
			Email: "konigmatt@googlemail.com",
		},
		License:  APILicense{Name: "MIT", URL: "https://opensource.org/licenses/MIT"},
		RootPath: rootPath,
	}
}

// APIHandlers serves the JSON API under /api.
type APIHandlers struct {
	Submissions    Submitter
	Tasks          TaskReader
	MaxUploadBytes int64
	About          APIInfo
	Logger         *slog.Logger
}

// Info handles GET /api.
func (h *APIHandlers) Info(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, h.About)
}

// SubmitFile handles POST /api/frog/file with the model in multipart field "source".
func (h *APIHandlers) SubmitFile(w http.ResponseWriter, r *http.Request) {
	id, err := submitMultipart(w, r, h.Submissions, h.MaxUploadBytes)
	h.writeSubmit(w, r, id, err)
}

// SubmitContent handles POST /api/frog/content with the model as the raw request body.
func (h *APIHandlers) SubmitContent(w http.ResponseWriter, r *http.Request) {
	body := limitBody(w, r, h.MaxUploadBytes, 0)
	id, err := h.Submissions.SubmitReader(r.Context(), model.SourceContent, body)
	h.writeSubmit(w, r, id, uploadError(err))
}

// SubmitURL handles GET /api/frog/url?url=...
func (h *APIHandlers) SubmitURL(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		WriteError(w, apperrors.ValidationField("url", "query parameter url is required"))
		return
	}
	id, err := h.Submissions.SubmitURL(r.Context(), rawURL)
	h.writeSubmit(w, r, id, err)
}

func (h *APIHandlers) writeSubmit(w http.ResponseWriter, r *http.Request, id string, err error) {
	if err != nil {
		h.Logger.WarnContext(r.Context(), "submission rejected",
			"path", r.URL.Path,
			"error", err,
		)
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, model.SubmitResponse{TaskID: id})
}

// Status handles GET /api/task/status/{task_id}. Unknown ids answer 404 with
// the regular status body and task_status NOT_FOUND.
func (h *APIHandlers) Status(w http.ResponseWriter, r *http.Request) {
	resp, err := h.Tasks.Status(r.Context(), r.PathValue("task_id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	code := http.StatusOK
	if resp.TaskStatus == model.TaskStatusNotFound {
		code = http.StatusNotFound
	}
	WriteJSON(w, code, resp)
}

// Omex handles GET /api/task/omex/{task_id} and streams the result archive.
func (h *APIHandlers) Omex(w http.ResponseWriter, r *http.Request) {
	serveArtifact(w, r, h.Tasks, h.Logger)
}

func serveArtifact(w http.ResponseWriter, r *http.Request, tasks TaskReader, logger *slog.Logger) {
	art, err := tasks.Artifact(r.Context(), r.PathValue("task_id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	defer func() {
		if cerr := art.File.Close(); cerr != nil {
			logger.DebugContext(r.Context(), "close archive", "error", cerr)
		}
	}()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+art.Name+`"`)
	w.Header().Set("Cache-Control", "private, no-store")
	http.ServeContent(w, r, art.Name, art.ModTime, art.File)
}

// submitMultipart streams the "source" part straight into the stager
// without buffering the upload in memory.
func submitMultipart(w http.ResponseWriter, r *http.Request, submissions Submitter, maxBytes int64) (string, error) {
	limitBody(w, r, maxBytes, multipartOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		return "", apperrors.ValidationField(SourceField, "expected a multipart/form-data upload: "+err.Error())
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return "", apperrors.ValidationField(SourceField, `multipart field "source" is required`)
		}
		if err != nil {
			return "", uploadError(apperrors.Wrap(err, apperrors.ErrCodeValidation, "read multipart upload"))
		}
		if part.FormName() != SourceField {
			_ = part.Close()
			continue
		}
		id, err := submissions.SubmitReader(r.Context(), model.SourceFile, part)
		_ = part.Close()
		return id, uploadError(err)
	}
}

// limitBody caps the request body at maxBytes plus slack. It returns the
// wrapped body for convenience.
func limitBody(w http.ResponseWriter, r *http.Request, maxBytes, slack int64) io.Reader {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+slack)
	}
	return r.Body
}

// uploadError turns a body that hit the request limit into a validation error.
func uploadError(err error) error {
	var tooLarge *http.MaxBytesError
	if err != nil && errors.As(err, &tooLarge) {
		return apperrors.Validationf("upload exceeds %s bytes", strconv.FormatInt(tooLarge.Limit, 10))
	}
	return err
}
