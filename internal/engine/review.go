package engine

import (
	"context"

	"github.com/zjrosen/croc/internal/engine/event"
	"github.com/zjrosen/croc/internal/engine/phase"
	"github.com/zjrosen/croc/internal/engine/projector"
	"github.com/zjrosen/croc/internal/log"
)

// RecordReview records one gate decision for the current plan revision.
// The gate needs an approval from both the automated reviewer and a human
// before the project completes; a single rejection from either side sends
// the project back to planning under a new revision. Decisions recorded
// against earlier revisions never count toward the current gate.
func (e *Engine) RecordReview(ctx context.Context, projectID string, expected uint64, actor event.Actor, kind projector.ReviewerKind, verdict projector.Verdict, rationale string) (*projector.State, error) {
	switch kind {
	case projector.ReviewerAutomated, projector.ReviewerHuman:
	default:
		return nil, &ValidationError{Op: "record review", Reason: "unknown reviewer kind: " + string(kind)}
	}
	switch verdict {
	case projector.VerdictApprove, projector.VerdictReject:
	default:
		return nil, &ValidationError{Op: "record review", Reason: "unknown verdict: " + string(verdict)}
	}

	return e.mutate(ctx, projectID, "record_review", expected, true, func(s *projector.State) ([]event.Event, error) {
		if s.Phase != phase.Review {
			return nil, &ValidationError{Op: "record review", Reason: "project is not in review"}
		}

		events := []event.Event{
			event.New(projectID, event.KindReviewRecorded, actor, map[string]any{
				event.FieldReviewer:  string(kind),
				event.FieldVerdict:   string(verdict),
				event.FieldRationale: rationale,
				event.FieldRevision:  s.Revision,
			}),
		}

		switch verdict {
		case projector.VerdictReject:
			// Any rejection resolves the gate immediately.
			events = append(events,
				event.New(projectID, event.KindPlanRejected, event.SystemActor(), map[string]any{
					event.FieldReason: rationale,
				}))
		case projector.VerdictApprove:
			g := s.Gate()
			switch kind {
			case projector.ReviewerAutomated:
				g.AutomatedApproved = true
			case projector.ReviewerHuman:
				g.HumanApproved = true
			}
			if g.AutomatedApproved && g.HumanApproved && !g.Rejected {
				events = append(events,
					event.New(projectID, event.KindProjectCompleted, event.SystemActor(), nil))
			}
		}
		return events, nil
	})
}

// CheckStale appends a staleness marker when the project has been waiting
// in review longer than the configured window. At most one marker is
// appended per review entry; re-entering review resets it. Returns whether
// the project is currently marked stale.
func (e *Engine) CheckStale(ctx context.Context, projectID string) (bool, error) {
	s, err := e.mutate(ctx, projectID, "check_stale", VersionAny, true, func(s *projector.State) ([]event.Event, error) {
		if s.Phase != phase.Review || s.StaleMarked {
			return nil, nil
		}
		waited := e.clock.Now().Sub(s.ReviewEnteredAt)
		if waited < e.staleAfter {
			return nil, nil
		}
		log.Warn(log.CatReview, "review window exceeded",
			"project", projectID, "waited", waited, "budget", e.staleAfter)
		return []event.Event{
			event.New(projectID, event.KindReviewStale, event.SystemActor(), nil),
		}, nil
	})
	if err != nil {
		return false, err
	}
	return s.StaleMarked, nil
}

// Reviews returns every recorded decision for the project, oldest first.
func (e *Engine) Reviews(ctx context.Context, projectID string) ([]projector.ReviewDecision, error) {
	s, err := e.State(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return s.Reviews, nil
}
