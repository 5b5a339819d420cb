package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when a state transition is not allowed.
	ErrInvalidState = errors.New("invalid state transition")

	// ErrConcurrentModify is returned when optimistic locking fails.
	ErrConcurrentModify = errors.New("concurrent modification")

	// ErrInvalidArgument is returned when an argument is invalid.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAlreadyExists is returned when trying to create a duplicate entity.
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnsupportedGitVersion is returned when the installed git binary lacks
	// the tree-level merge primitive. Callers select the checkout fallback.
	ErrUnsupportedGitVersion = errors.New("git version does not support checkout-free merge")
)

// ValidationError aggregates every distinct problem found while building a
// plan from its spec. Build never stops at the first error.
type ValidationError struct {
	Problems []string
}

// Addf records one problem.
func (e *ValidationError) Addf(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Empty reports whether no problems were recorded.
func (e *ValidationError) Empty() bool {
	return len(e.Problems) == 0
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid plan spec: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid plan spec (%d problems): %s",
		len(e.Problems), strings.Join(e.Problems, "; "))
}

// CleanupError aggregates failures from best-effort cleanup paths
// (worktree/branch/state removal). It is logged, never propagated, so
// cancellation and deletion always run to completion.
type CleanupError struct {
	Errs []error
}

// Append records a cleanup failure if err is non-nil.
func (e *CleanupError) Append(err error) {
	if err != nil {
		e.Errs = append(e.Errs, err)
	}
}

// Empty reports whether no failures were recorded.
func (e *CleanupError) Empty() bool {
	return len(e.Errs) == 0
}

func (e *CleanupError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("cleanup finished with %d errors: %s",
		len(e.Errs), strings.Join(msgs, "; "))
}
