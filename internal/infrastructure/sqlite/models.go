package sqlite

import (
	"time"

	"github.com/zjrosen/croc/internal/engine/event"
	"github.com/zjrosen/croc/internal/engine/phase"
	"github.com/zjrosen/croc/internal/engine/projector"
)

// ProjectModel mirrors a row of the projects table.
type ProjectModel struct {
	ID              string
	RootPath        string
	Phase           string
	Revision        int
	Version         uint64
	ReviewEnteredAt int64 // unix nanoseconds; 0 when never in review
	StaleMarked     bool
	UpdatedAt       int64
}

// AssignmentModel mirrors a row of the assignments table.
type AssignmentModel struct {
	ProjectID    string
	TaskID       string
	Role         string
	Title        string
	Status       string
	WorkerID     string
	AttemptCount int
	CreatedSeq   uint64
	UpdatedSeq   uint64
}

// ContextItemModel mirrors a row of the context_items table.
type ContextItemModel struct {
	ProjectID   string
	Digest      string
	Path        string
	IngestedSeq uint64
}

// ReviewModel mirrors a row of the reviews table.
type ReviewModel struct {
	ProjectID    string
	Seq          uint64
	ReviewerKind string
	Verdict      string
	Rationale    string
	Revision     int
}

func toProjectModel(s *projector.State, now time.Time) ProjectModel {
	var enteredAt int64
	if !s.ReviewEnteredAt.IsZero() {
		enteredAt = s.ReviewEnteredAt.UnixNano()
	}
	return ProjectModel{
		ID:              s.ProjectID,
		RootPath:        s.RootPath,
		Phase:           string(s.Phase),
		Revision:        s.Revision,
		Version:         s.Version,
		ReviewEnteredAt: enteredAt,
		StaleMarked:     s.StaleMarked,
		UpdatedAt:       now.Unix(),
	}
}

func (m ProjectModel) apply(s *projector.State) {
	s.ProjectID = m.ID
	s.RootPath = m.RootPath
	s.Phase = phase.Phase(m.Phase)
	s.Revision = m.Revision
	s.Version = m.Version
	s.StaleMarked = m.StaleMarked
	if m.ReviewEnteredAt != 0 {
		s.ReviewEnteredAt = time.Unix(0, m.ReviewEnteredAt).UTC()
	}
}

func toAssignmentModel(projectID string, a *projector.Assignment) AssignmentModel {
	return AssignmentModel{
		ProjectID:    projectID,
		TaskID:       a.TaskID,
		Role:         string(a.Role),
		Title:        a.Title,
		Status:       string(a.Status),
		WorkerID:     a.WorkerID,
		AttemptCount: a.AttemptCount,
		CreatedSeq:   a.CreatedSeq,
		UpdatedSeq:   a.UpdatedSeq,
	}
}

func (m AssignmentModel) toDomain() *projector.Assignment {
	return &projector.Assignment{
		TaskID:       m.TaskID,
		Role:         event.Role(m.Role),
		Title:        m.Title,
		Status:       projector.AssignmentStatus(m.Status),
		WorkerID:     m.WorkerID,
		AttemptCount: m.AttemptCount,
		CreatedSeq:   m.CreatedSeq,
		UpdatedSeq:   m.UpdatedSeq,
	}
}

func (m ContextItemModel) toDomain() projector.ContextItem {
	return projector.ContextItem{
		Path:        m.Path,
		Digest:      m.Digest,
		IngestedSeq: m.IngestedSeq,
	}
}

func (m ReviewModel) toDomain() projector.ReviewDecision {
	return projector.ReviewDecision{
		ReviewerKind: projector.ReviewerKind(m.ReviewerKind),
		Verdict:      projector.Verdict(m.Verdict),
		Rationale:    m.Rationale,
		Revision:     m.Revision,
		Seq:          m.Seq,
	}
}
