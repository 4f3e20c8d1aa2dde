package engine

import (
	"errors"
	"fmt"
)

// ValidationError reports a request that is malformed or illegal in the
// project's current state. The operation appended nothing.
type ValidationError struct {
	Op     string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// ConflictError reports a failed compare-and-append: the caller's version
// token no longer matches the head of the project's log.
type ConflictError struct {
	ProjectID string
	Expected  uint64
	Actual    uint64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: expected %d, log is at %d",
		e.ProjectID, e.Expected, e.Actual)
}

// NotFoundError reports a missing project, assignment, or context item.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// RetryExhaustedError reports an assignment whose failure budget is spent.
// The assignment is terminally failed and an escalation has been raised.
type RetryExhaustedError struct {
	ProjectID string
	TaskID    string
	Attempts  int
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("assignment %s in %s exhausted %d attempts",
		e.TaskID, e.ProjectID, e.Attempts)
}

// IsConflict reports whether err is a version conflict.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err is a missing-entity error.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}
