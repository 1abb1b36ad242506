package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// client talks to the runfrog HTTP API.
type client struct {
	base string
	http *http.Client
}

func newClient(server string, hc *http.Client) (*client, error) {
	u, err := url.Parse(strings.TrimSpace(server))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q must be http or https", server)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &client{base: strings.TrimRight(u.String(), "/"), http: hc}, nil
}

// apiError is an {"errors": [...]} response.
type apiError struct {
	Status   int
	Messages []string
}

func (e *apiError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Messages[0])
}

func (c *client) endpoint(path string) string { return c.base + path }

func (c *client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return nil, newAPIError(resp.StatusCode, raw)
}

func newAPIError(status int, raw []byte) *apiError {
	apiErr := &apiError{Status: status}
	var body struct {
		Errors []string `json:"errors"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		apiErr.Messages = body.Errors
	}
	return apiErr
}

func (c *client) submit(req *http.Request) (string, error) {
	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		TaskID string `json:"task_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if out.TaskID == "" {
		return "", errors.New("submit response has no task_id")
	}
	return out.TaskID, nil
}

// SubmitFile streams path as the multipart field "source".
func (c *client) SubmitFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("source", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/frog/file"), pr)
	if err != nil {
		_ = pr.Close()
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.submit(req)
}

// SubmitURL asks the server to fetch rawURL.
func (c *client) SubmitURL(ctx context.Context, rawURL string) (string, error) {
	q := url.Values{"url": {rawURL}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/frog/url?"+q.Encode()), nil)
	if err != nil {
		return "", err
	}
	return c.submit(req)
}

// taskStatus mirrors the status endpoint body.
type taskStatus struct {
	TaskID     string         `json:"task_id"`
	TaskStatus string         `json:"task_status"`
	TaskResult map[string]any `json:"task_result"`
}

func (s taskStatus) finished() bool {
	return s.TaskStatus == "SUCCESS" || s.TaskStatus == "FAILURE"
}

// Status returns the decoded status and the raw JSON document. An unknown
// task id is reported as a 404 apiError.
func (c *client) Status(ctx context.Context, id string) (taskStatus, any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/task/status/"+url.PathEscape(id)), nil)
	if err != nil {
		return taskStatus{}, nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return taskStatus{}, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return taskStatus{}, nil, fmt.Errorf("read status: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return taskStatus{}, nil, &apiError{Status: resp.StatusCode, Messages: []string{"task " + id + " not found"}}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return taskStatus{}, nil, newAPIError(resp.StatusCode, raw)
	}

	var st taskStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return taskStatus{}, nil, fmt.Errorf("decode status: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return taskStatus{}, nil, fmt.Errorf("decode status: %w", err)
	}
	return st, doc, nil
}

// Omex opens the archive download. The caller closes the body.
func (c *client) Omex(ctx context.Context, id string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/task/omex/"+url.PathEscape(id)), nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, "", err
	}

	name := "FROG_" + id + ".omex"
	if _, params, perr := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); perr == nil {
		if fn := filepath.Base(params["filename"]); fn != "" && fn != "." && fn != "/" {
			name = fn
		}
	}
	return resp.Body, name, nil
}
