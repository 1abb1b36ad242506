package errors

import (
	"context"
	"fmt"
	"testing"

	apperrors "github.com/runfrog/runfrog/internal/errors"
)

type customErr struct{}

func (*customErr) Error() string { return "custom" }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "app error code", err: apperrors.NotFound("task missing"), want: "not_found"},
		{name: "wrapped app error", err: fmt.Errorf("outer: %w", apperrors.Validation("bad")), want: "validation"},
		{name: "pointer type", err: &customErr{}, want: "errors_customerr"},
		{name: "unwraps to innermost", err: fmt.Errorf("ctx: %w", context.Canceled), want: "errors_errorstring"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}
