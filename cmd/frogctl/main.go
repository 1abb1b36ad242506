// Command frogctl submits models to a runfrog server and fetches the results.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(os.Stdout, os.Stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		attrs := []any{"error", err}
		var apiErr *apiError
		if errors.As(err, &apiErr) {
			attrs = append(attrs, "status", apiErr.Status)
		}
		logger.ErrorContext(ctx, "command failed", attrs...)
		stop()
		os.Exit(1) //nolint:forbidigo // CLI must signal failure to shell scripts
	}
}
