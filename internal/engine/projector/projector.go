// Package projector folds the event log into the materialized index state.
//
// Apply is a pure, deterministic fold: the same event sequence always
// yields the same state, regardless of process restarts. The projected
// state is a cache; the log remains authoritative and Rebuild can always
// reproduce the state from seq 1.
package projector

import (
	"fmt"
	"sort"
	"time"

	"github.com/zjrosen/croc/internal/engine/event"
	"github.com/zjrosen/croc/internal/engine/phase"
)

// AssignmentStatus is the lifecycle state of a unit of work.
type AssignmentStatus string

const (
	AssignmentPending    AssignmentStatus = "pending"
	AssignmentInProgress AssignmentStatus = "in_progress"
	AssignmentCompleted  AssignmentStatus = "completed"
	AssignmentFailed     AssignmentStatus = "failed"
	AssignmentCancelled  AssignmentStatus = "cancelled"
)

// Assignment is a unit of work bound to a worker role.
type Assignment struct {
	TaskID       string
	Role         event.Role
	Title        string
	Status       AssignmentStatus
	WorkerID     string
	AttemptCount int
	CreatedSeq   uint64
	UpdatedSeq   uint64
}

// ContextItem is an ingested file reference, unique by content digest
// within a project.
type ContextItem struct {
	Path        string
	Digest      string
	IngestedSeq uint64
}

// ReviewerKind distinguishes the two halves of the double review gate.
type ReviewerKind string

const (
	ReviewerAutomated ReviewerKind = "automated"
	ReviewerHuman     ReviewerKind = "human"
)

// Verdict is a review decision outcome.
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictReject  Verdict = "reject"
)

// ReviewDecision is one recorded gate decision, scoped to the revision it
// was made against.
type ReviewDecision struct {
	ReviewerKind ReviewerKind
	Verdict      Verdict
	Rationale    string
	Revision     int
	Seq          uint64
}

// State is the materialized view of one project, derived entirely from
// its event log. Version is the seq of the last applied event and doubles
// as the optimistic concurrency token for compare-and-append.
type State struct {
	ProjectID string
	RootPath  string
	Phase     phase.Phase
	Revision  int
	Version   uint64

	Assignments  map[string]*Assignment
	ContextItems []ContextItem
	Reviews      []ReviewDecision

	// ReviewEnteredAt is the timestamp of the event that moved the project
	// into Review; used by the staleness check. StaleMarked records that a
	// ReviewStale marker was already appended for the current revision.
	ReviewEnteredAt time.Time
	StaleMarked     bool

	digests map[string]int // content digest -> index into ContextItems
}

// NewState returns the empty state for a project, before any event.
func NewState(projectID string) *State {
	return &State{
		ProjectID:   projectID,
		Phase:       phase.Init,
		Assignments: make(map[string]*Assignment),
		digests:     make(map[string]int),
	}
}

// Apply folds one event into the state. Events must be applied in order;
// a seq that is not exactly Version+1 is rejected so that gaps or replays
// are caught at the projection boundary.
func (s *State) Apply(e event.Event) error {
	if e.ProjectID != s.ProjectID {
		return fmt.Errorf("apply: event for project %q folded into state of %q", e.ProjectID, s.ProjectID)
	}
	if e.Seq != s.Version+1 {
		return fmt.Errorf("apply: out-of-order event seq %d, state at version %d", e.Seq, s.Version)
	}

	switch e.Kind {
	case event.KindProjectInitialized:
		s.RootPath = event.StringField(e.Payload, event.FieldRootPath)
		s.Phase = phase.Init
		s.Revision = 0

	case event.KindPlanRequested:
		s.Phase = phase.Planning

	case event.KindPlanSubmitted:
		s.Phase = phase.PendingApproval

	case event.KindPlanApproved:
		s.Phase = phase.Executing

	case event.KindPlanRejected:
		s.Phase = phase.Planning
		s.Revision++
		s.StaleMarked = false

	case event.KindReviewStarted:
		s.Phase = phase.Review
		s.ReviewEnteredAt = e.Timestamp
		s.StaleMarked = false

	case event.KindReviewRecorded:
		s.Reviews = append(s.Reviews, ReviewDecision{
			ReviewerKind: ReviewerKind(event.StringField(e.Payload, event.FieldReviewer)),
			Verdict:      Verdict(event.StringField(e.Payload, event.FieldVerdict)),
			Rationale:    event.StringField(e.Payload, event.FieldRationale),
			Revision:     event.IntField(e.Payload, event.FieldRevision),
			Seq:          e.Seq,
		})

	case event.KindReviewStale:
		s.StaleMarked = true

	case event.KindProjectCompleted:
		s.Phase = phase.Done

	case event.KindProjectAborted:
		s.Phase = phase.Failed

	case event.KindForemanEscalation:
		// Retry exhaustion is unrecoverable for the project as a whole;
		// the escalation marker carries the failing task for follow-up.
		s.Phase = phase.Failed

	case event.KindAssignmentCreated:
		taskID := event.StringField(e.Payload, event.FieldTaskID)
		s.Assignments[taskID] = &Assignment{
			TaskID:     taskID,
			Role:       event.Role(event.StringField(e.Payload, event.FieldRole)),
			Title:      event.StringField(e.Payload, event.FieldTitle),
			Status:     AssignmentPending,
			CreatedSeq: e.Seq,
			UpdatedSeq: e.Seq,
		}

	case event.KindAssignmentStarted:
		if a := s.assignment(e.Payload); a != nil {
			a.Status = AssignmentInProgress
			a.WorkerID = event.StringField(e.Payload, event.FieldWorkerID)
			a.UpdatedSeq = e.Seq
		}

	case event.KindAssignmentCompleted:
		if a := s.assignment(e.Payload); a != nil {
			a.Status = AssignmentCompleted
			a.UpdatedSeq = e.Seq
		}

	case event.KindAssignmentFailed:
		if a := s.assignment(e.Payload); a != nil {
			a.AttemptCount = event.IntField(e.Payload, event.FieldAttempt)
			if event.BoolField(e.Payload, event.FieldRetry) {
				a.Status = AssignmentPending
				a.WorkerID = ""
			} else {
				a.Status = AssignmentFailed
			}
			a.UpdatedSeq = e.Seq
		}

	case event.KindAssignmentCancelled:
		if a := s.assignment(e.Payload); a != nil {
			a.Status = AssignmentCancelled
			a.UpdatedSeq = e.Seq
		}

	case event.KindContextIngested:
		digest := event.StringField(e.Payload, event.FieldDigest)
		if _, exists := s.digests[digest]; !exists {
			s.digests[digest] = len(s.ContextItems)
			s.ContextItems = append(s.ContextItems, ContextItem{
				Path:        event.StringField(e.Payload, event.FieldPath),
				Digest:      digest,
				IngestedSeq: e.Seq,
			})
		}
	}

	s.Version = e.Seq
	return nil
}

func (s *State) assignment(payload map[string]any) *Assignment {
	return s.Assignments[event.StringField(payload, event.FieldTaskID)]
}

// Reader produces the ordered event sequence for replay. The event log
// satisfies this.
type Reader interface {
	Read(projectID string, fromSeq uint64) ([]event.Event, error)
}

// Rebuild discards any cached state and replays the full event log from
// seq 1. The result is identical to the live-maintained state; this is
// the system's core consistency guarantee.
func Rebuild(r Reader, projectID string) (*State, error) {
	events, err := r.Read(projectID, 1)
	if err != nil {
		return nil, err
	}
	s := NewState(projectID)
	for _, e := range events {
		if err := s.Apply(e); err != nil {
			return nil, fmt.Errorf("rebuild %s: %w", projectID, err)
		}
	}
	return s, nil
}

// CatchUp applies all events newer than the state's version, bringing a
// loaded snapshot up to date with the log.
func (s *State) CatchUp(r Reader) error {
	events, err := r.Read(s.ProjectID, s.Version+1)
	if err != nil {
		return err
	}
	for _, e := range events {
		if err := s.Apply(e); err != nil {
			return fmt.Errorf("catch up %s: %w", s.ProjectID, err)
		}
	}
	return nil
}

// Filter narrows assignment queries. Zero values match everything.
type Filter struct {
	Role   event.Role
	Status AssignmentStatus
}

// AssignmentList returns assignments matching the filter, ordered by
// creation seq for stable output.
func (s *State) AssignmentList(f Filter) []Assignment {
	var out []Assignment
	for _, a := range s.Assignments {
		if f.Role != "" && a.Role != f.Role {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedSeq < out[j].CreatedSeq })
	return out
}

// NextPending selects the claimable assignment for a role: lowest task id
// first, ties broken by creation seq. Returns nil when nothing is eligible.
func (s *State) NextPending(role event.Role) *Assignment {
	var best *Assignment
	for _, a := range s.Assignments {
		if a.Status != AssignmentPending || a.Role != role {
			continue
		}
		if best == nil || a.TaskID < best.TaskID ||
			(a.TaskID == best.TaskID && a.CreatedSeq < best.CreatedSeq) {
			best = a
		}
	}
	return best
}

// ExecutionComplete reports whether every assignment has reached a state
// that no longer blocks review: at least one assignment exists and none
// is pending or in progress or terminally failed.
func (s *State) ExecutionComplete() bool {
	if len(s.Assignments) == 0 {
		return false
	}
	for _, a := range s.Assignments {
		switch a.Status {
		case AssignmentPending, AssignmentInProgress, AssignmentFailed:
			return false
		}
	}
	return true
}

// HasDigest returns the existing context item for a content digest, if any.
func (s *State) HasDigest(digest string) (ContextItem, bool) {
	if idx, ok := s.digests[digest]; ok {
		return s.ContextItems[idx], true
	}
	return ContextItem{}, false
}

// GateDecision summarizes the double review gate for the current revision.
type GateDecision struct {
	AutomatedApproved bool
	HumanApproved     bool
	Rejected          bool
	HumanDecided      bool
}

// Gate evaluates the recorded decisions scoped to the current revision.
// Decisions made against superseded revisions are ignored.
func (s *State) Gate() GateDecision {
	var g GateDecision
	for _, d := range s.Reviews {
		if d.Revision != s.Revision {
			continue
		}
		if d.Verdict == VerdictReject {
			g.Rejected = true
		}
		switch d.ReviewerKind {
		case ReviewerAutomated:
			if d.Verdict == VerdictApprove {
				g.AutomatedApproved = true
			}
		case ReviewerHuman:
			g.HumanDecided = true
			if d.Verdict == VerdictApprove {
				g.HumanApproved = true
			}
		}
	}
	return g
}

// Clone returns a deep copy safe to hand to callers outside the engine's
// critical section.
func (s *State) Clone() *State {
	c := &State{
		ProjectID:       s.ProjectID,
		RootPath:        s.RootPath,
		Phase:           s.Phase,
		Revision:        s.Revision,
		Version:         s.Version,
		Assignments:     make(map[string]*Assignment, len(s.Assignments)),
		ContextItems:    append([]ContextItem(nil), s.ContextItems...),
		Reviews:         append([]ReviewDecision(nil), s.Reviews...),
		ReviewEnteredAt: s.ReviewEnteredAt,
		StaleMarked:     s.StaleMarked,
		digests:         make(map[string]int, len(s.digests)),
	}
	for id, a := range s.Assignments {
		copied := *a
		c.Assignments[id] = &copied
	}
	for d, i := range s.digests {
		c.digests[d] = i
	}
	return c
}

// RestoreDigests rebuilds the internal digest index after loading a state
// from a snapshot store that persists only the exported fields.
func (s *State) RestoreDigests() {
	s.digests = make(map[string]int, len(s.ContextItems))
	for i, item := range s.ContextItems {
		s.digests[item.Digest] = i
	}
	if s.Assignments == nil {
		s.Assignments = make(map[string]*Assignment)
	}
}
