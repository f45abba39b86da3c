// Package errx joins package sentinel errors with the underlying cause so
// callers can match on either with errors.Is.
package errx

import "fmt"

// Wrap returns an error that reads "sentinel: err" and unwraps to both.
func Wrap(sentinel, err error) error {
	if err == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// With formats additional context after the sentinel. The format must use
// %w for any wrapped cause.
func With(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w"+format, append([]any{sentinel}, args...)...)
}
