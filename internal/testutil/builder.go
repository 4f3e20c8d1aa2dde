// Package testutil provides test helpers for building project event sequences.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/croc/internal/engine/event"
	"github.com/zjrosen/croc/internal/engine/projector"
)

// baseTime anchors every builder sequence so folds are deterministic.
var baseTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// Builder accumulates a project's event sequence in append order. Seq is
// assigned as events are added, starting at 1 and gapless; timestamps
// advance one minute per event from a fixed base.
type Builder struct {
	t         *testing.T
	projectID string
	seq       uint64
	now       time.Time
	events    []event.Event
}

// NewBuilder creates a builder for the given project.
func NewBuilder(t *testing.T, projectID string) *Builder {
	t.Helper()
	return &Builder{t: t, projectID: projectID, now: baseTime}
}

func (b *Builder) add(kind event.Kind, actor event.Actor, payload map[string]any, opts ...EventOption) *Builder {
	b.seq++
	ev := event.Event{
		ProjectID: b.projectID,
		Seq:       b.seq,
		Timestamp: b.now,
		Actor:     actor,
		Kind:      kind,
		Payload:   payload,
	}
	for _, opt := range opts {
		opt(&ev)
	}
	b.events = append(b.events, ev)
	b.now = b.now.Add(time.Minute)
	return b
}

// Initialized records project creation with the given root path.
func (b *Builder) Initialized(rootPath string, opts ...EventOption) *Builder {
	return b.add(event.KindProjectInitialized, humanActor(), map[string]any{
		event.FieldRootPath: rootPath,
	}, opts...)
}

// PlanRequested moves the project into planning.
func (b *Builder) PlanRequested(opts ...EventOption) *Builder {
	return b.add(event.KindPlanRequested, humanActor(), nil, opts...)
}

// PlanSubmitted records a plan draft awaiting approval.
func (b *Builder) PlanSubmitted(title string, opts ...EventOption) *Builder {
	return b.add(event.KindPlanSubmitted, plannerActor(), map[string]any{
		event.FieldTitle: title,
	}, opts...)
}

// PlanApproved releases the approval gate.
func (b *Builder) PlanApproved(opts ...EventOption) *Builder {
	return b.add(event.KindPlanApproved, humanActor(), nil, opts...)
}

// PlanRejected sends the project back to planning under a new revision.
func (b *Builder) PlanRejected(reason string, opts ...EventOption) *Builder {
	return b.add(event.KindPlanRejected, humanActor(), map[string]any{
		event.FieldReason: reason,
	}, opts...)
}

// AssignmentCreated adds a pending assignment.
func (b *Builder) AssignmentCreated(taskID string, role event.Role, title string, opts ...EventOption) *Builder {
	return b.add(event.KindAssignmentCreated, foremanActor(), map[string]any{
		event.FieldTaskID: taskID,
		event.FieldRole:   string(role),
		event.FieldTitle:  title,
	}, opts...)
}

// AssignmentStarted claims a pending assignment for a worker.
func (b *Builder) AssignmentStarted(taskID, workerID string, opts ...EventOption) *Builder {
	return b.add(event.KindAssignmentStarted, event.Actor{Role: event.RoleWorker, ID: workerID}, map[string]any{
		event.FieldTaskID:   taskID,
		event.FieldWorkerID: workerID,
	}, opts...)
}

// AssignmentCompleted settles an in-progress assignment successfully.
func (b *Builder) AssignmentCompleted(taskID string, opts ...EventOption) *Builder {
	return b.add(event.KindAssignmentCompleted, event.Actor{Role: event.RoleWorker, ID: "w-1"}, map[string]any{
		event.FieldTaskID: taskID,
	}, opts...)
}

// AssignmentFailed records a failed attempt. retry=true releases the
// assignment back to pending; retry=false is terminal.
func (b *Builder) AssignmentFailed(taskID string, attempt int, retry bool, reason string, opts ...EventOption) *Builder {
	return b.add(event.KindAssignmentFailed, event.Actor{Role: event.RoleWorker, ID: "w-1"}, map[string]any{
		event.FieldTaskID:  taskID,
		event.FieldAttempt: attempt,
		event.FieldRetry:   retry,
		event.FieldReason:  reason,
	}, opts...)
}

// AssignmentCancelled withdraws an open assignment.
func (b *Builder) AssignmentCancelled(taskID string, opts ...EventOption) *Builder {
	return b.add(event.KindAssignmentCancelled, foremanActor(), map[string]any{
		event.FieldTaskID: taskID,
	}, opts...)
}

// Escalated records a foreman escalation; the project fails.
func (b *Builder) Escalated(taskID, reason string, opts ...EventOption) *Builder {
	return b.add(event.KindForemanEscalation, event.SystemActor(), map[string]any{
		event.FieldTaskID: taskID,
		event.FieldReason: reason,
	}, opts...)
}

// ReviewStarted opens the review gate.
func (b *Builder) ReviewStarted(opts ...EventOption) *Builder {
	return b.add(event.KindReviewStarted, event.SystemActor(), nil, opts...)
}

// ReviewRecorded adds one gate decision for the given revision.
func (b *Builder) ReviewRecorded(kind projector.ReviewerKind, verdict projector.Verdict, rationale string, revision int, opts ...EventOption) *Builder {
	actor := humanActor()
	if kind == projector.ReviewerAutomated {
		actor = event.Actor{Role: event.RoleReviewer, ID: "rev-1"}
	}
	return b.add(event.KindReviewRecorded, actor, map[string]any{
		event.FieldReviewer:  string(kind),
		event.FieldVerdict:   string(verdict),
		event.FieldRationale: rationale,
		event.FieldRevision:  revision,
	}, opts...)
}

// ReviewStale records the staleness marker.
func (b *Builder) ReviewStale(opts ...EventOption) *Builder {
	return b.add(event.KindReviewStale, event.SystemActor(), nil, opts...)
}

// ContextIngested records a context file with its content digest.
func (b *Builder) ContextIngested(path, digest string, opts ...EventOption) *Builder {
	return b.add(event.KindContextIngested, foremanActor(), map[string]any{
		event.FieldPath:   path,
		event.FieldDigest: digest,
	}, opts...)
}

// Completed marks the project done.
func (b *Builder) Completed(opts ...EventOption) *Builder {
	return b.add(event.KindProjectCompleted, event.SystemActor(), nil, opts...)
}

// Aborted marks the project failed by operator decision.
func (b *Builder) Aborted(reason string, opts ...EventOption) *Builder {
	return b.add(event.KindProjectAborted, humanActor(), map[string]any{
		event.FieldReason: reason,
	}, opts...)
}

// Events returns the accumulated sequence.
func (b *Builder) Events() []event.Event {
	return b.events
}

// Fold applies the sequence to a fresh state, failing the test on any
// apply error.
func (b *Builder) Fold() *projector.State {
	b.t.Helper()
	s := projector.NewState(b.projectID)
	for _, ev := range b.events {
		require.NoError(b.t, s.Apply(ev), "applying %s", ev.String())
	}
	return s
}

func humanActor() event.Actor   { return event.Actor{Role: event.RoleHuman, ID: "operator"} }
func plannerActor() event.Actor { return event.Actor{Role: event.RolePlanner, ID: "p-1"} }
func foremanActor() event.Actor { return event.Actor{Role: event.RoleForeman, ID: "f-1"} }
