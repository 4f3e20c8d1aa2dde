package engine

import (
	"context"
	"fmt"

	"github.com/zjrosen/croc/internal/engine/event"
	"github.com/zjrosen/croc/internal/engine/phase"
	"github.com/zjrosen/croc/internal/engine/projector"
	"github.com/zjrosen/croc/internal/log"
)

// CreateAssignment records a new unit of work for a role. Assignments can
// only be created while the project is executing.
func (e *Engine) CreateAssignment(ctx context.Context, projectID string, expected uint64, actor event.Actor, taskID string, role event.Role, title string) (*projector.State, error) {
	if taskID == "" {
		return nil, &ValidationError{Op: "create assignment", Reason: "task id is required"}
	}
	if !role.Valid() {
		return nil, &ValidationError{Op: "create assignment", Reason: "unknown role: " + string(role)}
	}
	return e.mutate(ctx, projectID, "create_assignment", expected, true, func(s *projector.State) ([]event.Event, error) {
		if s.Phase != phase.Executing {
			return nil, &ValidationError{Op: "create assignment", Reason: "project is not executing"}
		}
		if _, exists := s.Assignments[taskID]; exists {
			return nil, &ValidationError{Op: "create assignment", Reason: "duplicate task id: " + taskID}
		}
		ev := event.New(projectID, event.KindAssignmentCreated, actor, map[string]any{
			event.FieldTaskID: taskID,
			event.FieldRole:   string(role),
			event.FieldTitle:  title,
		}).WithIdempotencyKey("assign-create-" + taskID)
		return []event.Event{ev}, nil
	})
}

// Claim hands the next pending assignment for a role to a worker: lowest
// task id first, ties broken by creation order. When nothing is pending
// for the role the claim returns a nil assignment and the current state;
// an empty queue is an observation, not an error.
func (e *Engine) Claim(ctx context.Context, projectID string, expected uint64, role event.Role, workerID string) (*projector.Assignment, *projector.State, error) {
	if workerID == "" {
		return nil, nil, &ValidationError{Op: "claim assignment", Reason: "worker id is required"}
	}
	var claimed projector.Assignment
	s, err := e.mutate(ctx, projectID, "claim_assignment", expected, true, func(s *projector.State) ([]event.Event, error) {
		if s.Phase != phase.Executing {
			return nil, &ValidationError{Op: "claim assignment", Reason: "project is not executing"}
		}
		next := s.NextPending(role)
		if next == nil {
			return nil, nil
		}
		claimed = *next
		ev := event.New(projectID, event.KindAssignmentStarted, event.Actor{Role: role, ID: workerID}, map[string]any{
			event.FieldTaskID:   next.TaskID,
			event.FieldWorkerID: workerID,
		})
		return []event.Event{ev}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	if claimed.TaskID == "" {
		return nil, s, nil
	}
	out := *s.Assignments[claimed.TaskID]
	return &out, s, nil
}

// CompleteAssignment marks an in-progress assignment done. When it is the
// last open assignment the project moves into review in the same call.
func (e *Engine) CompleteAssignment(ctx context.Context, projectID string, expected uint64, actor event.Actor, taskID string) (*projector.State, error) {
	return e.mutate(ctx, projectID, "complete_assignment", expected, true, func(s *projector.State) ([]event.Event, error) {
		a, err := requireAssignment(s, taskID)
		if err != nil {
			return nil, err
		}
		if a.Status != projector.AssignmentInProgress {
			return nil, &ValidationError{
				Op:     "complete assignment",
				Reason: fmt.Sprintf("assignment %s is %s, not in progress", taskID, a.Status),
			}
		}

		events := []event.Event{
			event.New(projectID, event.KindAssignmentCompleted, actor, map[string]any{
				event.FieldTaskID: taskID,
			}),
		}
		if s.Phase == phase.Executing && lastOpenAssignment(s, taskID) {
			events = append(events, event.New(projectID, event.KindReviewStarted, event.SystemActor(), nil))
		}
		return events, nil
	})
}

// FailAssignment records a failed attempt. While attempts remain the
// assignment returns to pending for another claim; once the budget is
// spent it fails terminally and a foreman escalation is raised.
func (e *Engine) FailAssignment(ctx context.Context, projectID string, expected uint64, actor event.Actor, taskID, reason string) (*projector.State, error) {
	return e.mutate(ctx, projectID, "fail_assignment", expected, true, func(s *projector.State) ([]event.Event, error) {
		a, err := requireAssignment(s, taskID)
		if err != nil {
			return nil, err
		}
		if a.Status == projector.AssignmentFailed {
			return nil, &RetryExhaustedError{ProjectID: projectID, TaskID: taskID, Attempts: a.AttemptCount}
		}
		if a.Status != projector.AssignmentInProgress {
			return nil, &ValidationError{
				Op:     "fail assignment",
				Reason: fmt.Sprintf("assignment %s is %s, not in progress", taskID, a.Status),
			}
		}

		// The retry decision is made here, at append time, so the fold
		// stays a pure function of the recorded events.
		attempt := a.AttemptCount + 1
		retry := attempt < e.maxAttempts
		events := []event.Event{
			event.New(projectID, event.KindAssignmentFailed, actor, map[string]any{
				event.FieldTaskID:  taskID,
				event.FieldReason:  reason,
				event.FieldAttempt: attempt,
				event.FieldRetry:   retry,
			}),
		}
		if !retry {
			log.Warn(log.CatAssign, "retry budget exhausted, escalating",
				"project", projectID, "task", taskID, "attempts", attempt)
			events = append(events,
				event.New(projectID, event.KindForemanEscalation, event.SystemActor(), map[string]any{
					event.FieldTaskID:  taskID,
					event.FieldReason:  reason,
					event.FieldAttempt: attempt,
				}))
		}
		return events, nil
	})
}

// CancelAssignment withdraws a pending or in-progress assignment. Like
// completion, cancelling the last open assignment starts review.
func (e *Engine) CancelAssignment(ctx context.Context, projectID string, expected uint64, actor event.Actor, taskID, reason string) (*projector.State, error) {
	return e.mutate(ctx, projectID, "cancel_assignment", expected, true, func(s *projector.State) ([]event.Event, error) {
		a, err := requireAssignment(s, taskID)
		if err != nil {
			return nil, err
		}
		switch a.Status {
		case projector.AssignmentPending, projector.AssignmentInProgress:
		default:
			return nil, &ValidationError{
				Op:     "cancel assignment",
				Reason: fmt.Sprintf("assignment %s is %s and cannot be cancelled", taskID, a.Status),
			}
		}

		payload := map[string]any{event.FieldTaskID: taskID}
		if reason != "" {
			payload[event.FieldReason] = reason
		}
		events := []event.Event{
			event.New(projectID, event.KindAssignmentCancelled, actor, payload),
		}
		if s.Phase == phase.Executing && lastOpenAssignment(s, taskID) {
			events = append(events, event.New(projectID, event.KindReviewStarted, event.SystemActor(), nil))
		}
		return events, nil
	})
}

// Assignments returns the project's assignments matching the filter.
func (e *Engine) Assignments(ctx context.Context, projectID string, f projector.Filter) ([]projector.Assignment, error) {
	s, err := e.State(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return s.AssignmentList(f), nil
}

func requireAssignment(s *projector.State, taskID string) (*projector.Assignment, error) {
	a, ok := s.Assignments[taskID]
	if !ok {
		return nil, &NotFoundError{Kind: "assignment", ID: taskID}
	}
	return a, nil
}

// lastOpenAssignment reports whether, once taskID settles, no assignment
// is left pending, in progress, or terminally failed.
func lastOpenAssignment(s *projector.State, taskID string) bool {
	for _, other := range s.Assignments {
		if other.TaskID == taskID {
			continue
		}
		switch other.Status {
		case projector.AssignmentPending, projector.AssignmentInProgress, projector.AssignmentFailed:
			return false
		}
	}
	return true
}
