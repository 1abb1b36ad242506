// Package analyzer runs the external FROG report generator as a subprocess.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/runfrog/runfrog/internal/core"
	"github.com/runfrog/runfrog/internal/domain/model"
	apperrors "github.com/runfrog/runfrog/internal/errors"
)

// Placeholders substituted in argument templates.
const (
	PlaceholderSource = "{source}"
	PlaceholderOmex   = "{omex}"
	PlaceholderTaskID = "{task_id}"
)

const defaultMaxOutput = 1 << 20

// CommandOptions configures a CommandAnalyzer.
type CommandOptions struct {
	Command        string       // Required: executable name or path
	Args           []string     // Argument templates; see the Placeholder constants
	Env            []string     // Optional: extra KEY=VALUE pairs appended to the process env
	MaxOutputBytes int          // Optional: cap on captured stdout/stderr, default 1MiB
	Logger         *slog.Logger // Optional: structured logger
}

// CommandAnalyzer implements core.Analyzer by running an external command.
// The command writes the archive to the {omex} path; a JSON object printed
// on stdout becomes the task result, any other output is kept under "log".
type CommandAnalyzer struct {
	command   string
	args      []string
	env       []string
	maxOutput int
	logger    *slog.Logger
}

var _ core.Analyzer = (*CommandAnalyzer)(nil)

// NewCommandAnalyzer constructs a CommandAnalyzer.
func NewCommandAnalyzer(opts CommandOptions) (*CommandAnalyzer, error) {
	if strings.TrimSpace(opts.Command) == "" {
		return nil, errors.New("analyzer command is required")
	}
	maxOutput := opts.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutput
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandAnalyzer{
		command:   opts.Command,
		args:      append([]string(nil), opts.Args...),
		env:       append([]string(nil), opts.Env...),
		maxOutput: maxOutput,
		logger:    logger.With("component", "command_analyzer"),
	}, nil
}

// Analyze runs the command for req.
func (a *CommandAnalyzer) Analyze(ctx context.Context, req core.AnalysisRequest) (model.TaskResult, error) {
	args := a.expandArgs(req)
	cmd := exec.CommandContext(ctx, a.command, args...)
	if len(a.env) > 0 {
		cmd.Env = append(cmd.Environ(), a.env...)
	}

	stdout := &cappedBuffer{limit: a.maxOutput}
	stderr := &cappedBuffer{limit: a.maxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	a.logger.DebugContext(ctx, "running analyzer", "task_id", req.TaskID, "command", a.command, "args", args)
	if err := cmd.Run(); err != nil {
		msg := fmt.Sprintf("%s exited with error", a.command)
		if tail := lastLine(stderr.String()); tail != "" {
			msg += ": " + tail
		}
		return nil, apperrors.Execution(err, msg)
	}

	return parseOutput(stdout.Bytes()), nil
}

func (a *CommandAnalyzer) expandArgs(req core.AnalysisRequest) []string {
	r := strings.NewReplacer(
		PlaceholderSource, req.SourcePath,
		PlaceholderOmex, req.OmexPath,
		PlaceholderTaskID, req.TaskID,
	)
	out := make([]string, len(a.args))
	for i, arg := range a.args {
		out[i] = r.Replace(arg)
	}
	return out
}

func parseOutput(stdout []byte) model.TaskResult {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 {
		return model.TaskResult{}
	}
	if trimmed[0] == '{' {
		var result model.TaskResult
		if err := json.Unmarshal(trimmed, &result); err == nil {
			return result
		}
	}
	return model.TaskResult{"log": string(trimmed)}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

// cappedBuffer keeps at most limit bytes and silently drops the rest.
type cappedBuffer struct {
	bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.Len(); room > 0 {
		if len(p) > room {
			b.Buffer.Write(p[:room])
		} else {
			b.Buffer.Write(p)
		}
	}
	return len(p), nil
}
