package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

const maxStackDepth = 32

func callers(skip int) []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(skip, pcs)
	return pcs[:n]
}

// Trace renders the error chain followed by the stack recorded by the
// outermost AppError in the chain. Errors without a recorded stack render
// the chain only.
func Trace(err error) string {
	if err == nil {
		return ""
	}

	var b strings.Builder
	for i, e := 0, err; e != nil; i, e = i+1, errors.Unwrap(e) {
		if i == 0 {
			fmt.Fprintf(&b, "%T: %s\n", e, e.Error())
			continue
		}
		fmt.Fprintf(&b, "caused by %T: %s\n", e, e.Error())
	}

	var appErr *AppError
	if errors.As(err, &appErr) && len(appErr.stack) > 0 {
		writeFrames(&b, appErr.stack)
	}
	return strings.TrimRight(b.String(), "\n")
}

// PanicTrace renders a recovered panic value together with the stack of the
// goroutine that recovered it.
func PanicTrace(rec any, stack []byte) string {
	return strings.TrimRight(fmt.Sprintf("panic: %v\n\n%s", rec, stack), "\n")
}

func writeFrames(b *strings.Builder, pcs []uintptr) {
	frames := runtime.CallersFrames(pcs)
	for {
		frame, more := frames.Next()
		if frame.Function != "" {
			fmt.Fprintf(b, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		}
		if !more {
			return
		}
	}
}

// Payload is the error body shared by the HTTP API and failed task results:
// a short message followed by a diagnostic trace.
type Payload struct {
	Errors []string `json:"errors"`
}

// NewPayload builds the error body for err.
func NewPayload(err error) Payload {
	if err == nil {
		return Payload{Errors: []string{}}
	}
	return Payload{Errors: []string{Message(err), Trace(err)}}
}

// Map returns the payload as a generic result map.
func (p Payload) Map() map[string]any {
	errs := make([]any, len(p.Errors))
	for i, e := range p.Errors {
		errs[i] = e
	}
	return map[string]any{"errors": errs}
}

// Message returns the short user-facing message for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
