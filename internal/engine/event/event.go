// Package event defines the immutable event record that forms the sole
// source of truth for a project. Events are appended to a per-project log
// and every piece of derived state is a pure function of the sequence.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies the kind of actor that produced an event.
type Role string

const (
	RolePlanner  Role = "planner"
	RoleForeman  Role = "foreman"
	RoleWorker   Role = "worker"
	RoleReviewer Role = "reviewer"
	RoleHuman    Role = "human"
	RoleSystem   Role = "system"
)

// Valid reports whether the role is one of the known worker roles.
func (r Role) Valid() bool {
	switch r {
	case RolePlanner, RoleForeman, RoleWorker, RoleReviewer, RoleHuman, RoleSystem:
		return true
	}
	return false
}

// Actor is the role plus identity that produced an event.
type Actor struct {
	Role Role   `json:"role"`
	ID   string `json:"id"`
}

// SystemActor is the actor recorded on events the engine itself produces.
func SystemActor() Actor {
	return Actor{Role: RoleSystem, ID: "engine"}
}

// Kind tags the variant of an event payload.
type Kind string

const (
	KindProjectInitialized  Kind = "project_initialized"
	KindPlanRequested       Kind = "plan_requested"
	KindPlanSubmitted       Kind = "plan_submitted"
	KindPlanApproved        Kind = "plan_approved"
	KindPlanRejected        Kind = "plan_rejected"
	KindAssignmentCreated   Kind = "assignment_created"
	KindAssignmentStarted   Kind = "assignment_started"
	KindAssignmentCompleted Kind = "assignment_completed"
	KindAssignmentFailed    Kind = "assignment_failed"
	KindAssignmentCancelled Kind = "assignment_cancelled"
	KindForemanEscalation   Kind = "foreman_escalation"
	KindReviewStarted       Kind = "review_started"
	KindReviewRecorded      Kind = "review_recorded"
	KindReviewStale         Kind = "review_stale"
	KindContextIngested     Kind = "context_ingested"
	KindProjectCompleted    Kind = "project_completed"
	KindProjectAborted      Kind = "project_aborted"
)

// Event is an immutable fact recorded for a project. Once appended it is
// never edited or removed. Seq is strictly increasing and gapless per
// project, starting at 1.
type Event struct {
	ProjectID      string         `json:"project_id"`
	Seq            uint64         `json:"seq"`
	Timestamp      time.Time      `json:"ts"`
	Actor          Actor          `json:"actor"`
	Kind           Kind           `json:"kind"`
	Payload        map[string]any `json:"payload,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// New builds an event without a sequence number. The log assigns Seq on
// append; Timestamp defaults to now when zero.
func New(projectID string, kind Kind, actor Actor, payload map[string]any) Event {
	return Event{
		ProjectID: projectID,
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		Kind:      kind,
		Payload:   payload,
	}
}

// WithIdempotencyKey returns a copy of the event carrying the given key.
func (e Event) WithIdempotencyKey(key string) Event {
	e.IdempotencyKey = key
	return e
}

// Marshal encodes the event as a single JSON line (without trailing newline).
func (e Event) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event seq=%d: %w", e.Seq, err)
	}
	return data, nil
}

// Unmarshal decodes a single JSON line into an event.
func Unmarshal(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return e, nil
}

// String returns a compact human-readable form used in logs.
func (e Event) String() string {
	return fmt.Sprintf("%s/%d %s by %s:%s", e.ProjectID, e.Seq, e.Kind, e.Actor.Role, e.Actor.ID)
}
