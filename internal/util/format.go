package util //nolint:revive // package name util hosts shared formatting helpers used across HTTP templates

import "time"

// FormatElapsed formats how long a task has been waiting for display.
// Returns "" for zero or negative durations and whole seconds otherwise.
func FormatElapsed(d time.Duration) string {
	switch {
	case d <= 0:
		return ""
	case d < time.Second:
		return "<1s"
	default:
		return d.Truncate(time.Second).String()
	}
}
