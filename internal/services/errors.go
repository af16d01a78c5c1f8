package services

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrTransient marks failures worth retrying: network errors, busy
	// sources, single-attempt hash mismatches.
	ErrTransient = errors.New("transient failure")
	// ErrFatal marks failures retrying cannot fix: full disks, permission
	// errors, archives corrupt beyond repair.
	ErrFatal = errors.New("fatal failure")
	// ErrValidation marks inputs that fail structural checks.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks missing or invalid configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound marks missing records or files.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks lost races (a claim beaten by another worker).
	// Conflicts are not failures; callers retry against the next candidate.
	ErrConflict = errors.New("conflict")
	// ErrIntegrity marks invariant violations inside merge/split
	// transactions. The transaction must abort rather than partially apply.
	ErrIntegrity = errors.New("integrity violation")
)

// Wrap builds an error message that includes job context while tagging it with
// the provided marker for later retry classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether a job failure should be requeued. Fatal,
// validation, configuration, and integrity errors are terminal; everything
// else is treated as transient.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrFatal),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrIntegrity):
		return false
	default:
		return true
	}
}

// RetryAfterError carries an explicit "retry no earlier than" delay from a
// rate-limited source. It always classifies as transient.
type RetryAfterError struct {
	Delay time.Duration
	Err   error
}

func (e *RetryAfterError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("retry after %s: %v", e.Delay, e.Err)
	}
	return fmt.Sprintf("retry after %s", e.Delay)
}

func (e *RetryAfterError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrTransient
}

// RetryAfter extracts an explicit retry delay from an error chain.
func RetryAfter(err error) (time.Duration, bool) {
	var ra *RetryAfterError
	if errors.As(err, &ra) && ra.Delay > 0 {
		return ra.Delay, true
	}
	return 0, false
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
