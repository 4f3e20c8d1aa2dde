package testutil

import (
	"github.com/zjrosen/croc/internal/engine/event"
	"github.com/zjrosen/croc/internal/engine/projector"
)

// WithExecutingProject drives a fresh project through planning and the
// approval gate, leaving it in executing with no assignments.
func (b *Builder) WithExecutingProject(rootPath string) *Builder {
	return b.
		Initialized(rootPath).
		PlanRequested().
		PlanSubmitted("initial plan").
		PlanApproved()
}

// WithReviewedAssignment extends an executing project with one assignment
// worked to completion, which opens the review gate.
func (b *Builder) WithReviewedAssignment(taskID string) *Builder {
	return b.
		AssignmentCreated(taskID, event.RoleWorker, "implement "+taskID).
		AssignmentStarted(taskID, "w-1").
		AssignmentCompleted(taskID).
		ReviewStarted()
}

// WithCompletedProject drives a project all the way to done: one
// assignment, review entered, both gate approvals recorded.
func (b *Builder) WithCompletedProject(rootPath string) *Builder {
	return b.
		WithExecutingProject(rootPath).
		WithReviewedAssignment("t-1").
		ReviewRecorded(projector.ReviewerAutomated, projector.VerdictApprove, "clean", 0).
		ReviewRecorded(projector.ReviewerHuman, projector.VerdictApprove, "ship it", 0).
		Completed()
}

// WithExhaustedAssignment extends an executing project with an assignment
// that fails through all attempts and escalates, failing the project.
func (b *Builder) WithExhaustedAssignment(taskID string, maxAttempts int) *Builder {
	b.AssignmentCreated(taskID, event.RoleWorker, "doomed "+taskID)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		b.AssignmentStarted(taskID, "w-1")
		b.AssignmentFailed(taskID, attempt, attempt < maxAttempts, "tool error")
	}
	return b.Escalated(taskID, "attempts exhausted")
}
