// Package engine is the orchestration core: it owns the per-project event
// logs, the projected states derived from them, and the rules that decide
// which events may be appended. All writes go through a compare-and-append
// critical section so each project has exactly one writer at a time.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/croc/internal/engine/event"
	"github.com/zjrosen/croc/internal/engine/eventlog"
	"github.com/zjrosen/croc/internal/engine/phase"
	"github.com/zjrosen/croc/internal/engine/projector"
	"github.com/zjrosen/croc/internal/infrastructure/sqlite"
	"github.com/zjrosen/croc/internal/log"
	"github.com/zjrosen/croc/internal/pubsub"
	"github.com/zjrosen/croc/internal/tracing"
)

// VersionAny skips the compare-and-append version check. Used by internal
// follow-ups and by callers that explicitly accept last-writer-wins.
const VersionAny = ^uint64(0)

const (
	defaultMaxAttempts      = 3
	defaultReviewStaleAfter = 30 * time.Minute
)

// Options configures an Engine.
type Options struct {
	// DataDir is the root directory holding per-project event logs.
	DataDir string

	// SnapshotPath is the SQLite file caching projected states. Empty
	// disables snapshots; every open then replays the full log.
	SnapshotPath string

	// MaxAttempts bounds assignment retries. Zero means the default of 3.
	MaxAttempts int

	// ReviewStaleAfter is how long a project may sit in review before a
	// staleness marker is appended. Zero means the default of 30 minutes.
	ReviewStaleAfter time.Duration

	// Clock is used for the staleness check. Nil means wall clock.
	Clock Clock

	// Tracer receives a span per engine operation. Nil disables tracing.
	Tracer trace.Tracer
}

// Change describes one appended event, published to subscribers.
type Change struct {
	ProjectID string
	Seq       uint64
	Kind      event.Kind
	Phase     phase.Phase
}

// Engine coordinates all project operations. Safe for concurrent use.
type Engine struct {
	log         *eventlog.Log
	db          *sqlite.DB
	snapshots   *sqlite.SnapshotRepository
	broker      *pubsub.Broker[Change]
	clock       Clock
	tracer      trace.Tracer
	maxAttempts int
	staleAfter  time.Duration

	mu       sync.Mutex
	projects map[string]*projectHandle
}

// projectHandle serializes writers of one project. The state behind it is
// only touched while mu is held.
type projectHandle struct {
	mu    sync.Mutex
	state *projector.State
}

// New opens the engine over the given data directory.
func New(opts Options) (*Engine, error) {
	l, err := eventlog.Open(opts.DataDir)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		log:         l,
		broker:      pubsub.NewBroker[Change](),
		clock:       opts.Clock,
		tracer:      opts.Tracer,
		maxAttempts: opts.MaxAttempts,
		staleAfter:  opts.ReviewStaleAfter,
		projects:    make(map[string]*projectHandle),
	}
	if e.clock == nil {
		e.clock = RealClock{}
	}
	if e.tracer == nil {
		e.tracer = noop.NewTracerProvider().Tracer("engine")
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = defaultMaxAttempts
	}
	if e.staleAfter <= 0 {
		e.staleAfter = defaultReviewStaleAfter
	}

	if opts.SnapshotPath != "" {
		db, err := sqlite.NewDB(opts.SnapshotPath)
		if err != nil {
			_ = l.Close()
			return nil, err
		}
		e.db = db
		e.snapshots = db.SnapshotRepository()
	}

	return e, nil
}

// Close releases the log and snapshot store. In-flight operations must
// have finished.
func (e *Engine) Close() error {
	e.broker.Close()
	err := e.log.Close()
	if e.db != nil {
		if dbErr := e.db.Close(); err == nil {
			err = dbErr
		}
	}
	return err
}

// Changes returns a channel of append notifications for the lifetime of ctx.
func (e *Engine) Changes(ctx context.Context) <-chan pubsub.Event[Change] {
	return e.broker.Subscribe(ctx)
}

// InitProject creates a new project rooted at rootPath. The first event of
// its log records the root; the project starts in the init phase.
func (e *Engine) InitProject(ctx context.Context, projectID, rootPath string, actor event.Actor) (*projector.State, error) {
	if rootPath == "" {
		return nil, &ValidationError{Op: "init project", Reason: "root path is required"}
	}
	if e.log.Exists(projectID) {
		return nil, &ValidationError{Op: "init project", Reason: "project already exists: " + projectID}
	}
	return e.mutate(ctx, projectID, "init_project", VersionAny, false, func(s *projector.State) ([]event.Event, error) {
		if s.Version != 0 {
			return nil, &ValidationError{Op: "init project", Reason: "project already exists: " + projectID}
		}
		return []event.Event{
			event.New(projectID, event.KindProjectInitialized, actor, map[string]any{
				event.FieldRootPath: rootPath,
			}),
		}, nil
	})
}

// RequestPlan moves the project from init into planning.
func (e *Engine) RequestPlan(ctx context.Context, projectID string, expected uint64, actor event.Actor) (*projector.State, error) {
	return e.transition(ctx, projectID, "request_plan", expected, actor, event.KindPlanRequested, phase.Planning, nil)
}

// SubmitPlan records that a plan for the current revision is ready and
// parks the project at the approval gate.
func (e *Engine) SubmitPlan(ctx context.Context, projectID string, expected uint64, actor event.Actor, summary string) (*projector.State, error) {
	var payload map[string]any
	if summary != "" {
		payload = map[string]any{event.FieldTitle: summary}
	}
	return e.transition(ctx, projectID, "submit_plan", expected, actor, event.KindPlanSubmitted, phase.PendingApproval, payload)
}

// ApprovePlan releases the approval gate and moves the project into
// executing. Gates never advance on their own; this call is the only way
// through.
func (e *Engine) ApprovePlan(ctx context.Context, projectID string, expected uint64, actor event.Actor) (*projector.State, error) {
	return e.transition(ctx, projectID, "approve_plan", expected, actor, event.KindPlanApproved, phase.Executing, nil)
}

// RejectPlan sends the project back to planning and bumps the plan
// revision. Works from the approval gate and from review.
func (e *Engine) RejectPlan(ctx context.Context, projectID string, expected uint64, actor event.Actor, reason string) (*projector.State, error) {
	var payload map[string]any
	if reason != "" {
		payload = map[string]any{event.FieldReason: reason}
	}
	return e.transition(ctx, projectID, "reject_plan", expected, actor, event.KindPlanRejected, phase.Planning, payload)
}

// AbortProject moves a non-terminal project to failed.
func (e *Engine) AbortProject(ctx context.Context, projectID string, expected uint64, actor event.Actor, reason string) (*projector.State, error) {
	var payload map[string]any
	if reason != "" {
		payload = map[string]any{event.FieldReason: reason}
	}
	return e.transition(ctx, projectID, "abort_project", expected, actor, event.KindProjectAborted, phase.Failed, payload)
}

// transition appends a single phase-changing event after checking the edge
// table.
func (e *Engine) transition(ctx context.Context, projectID, op string, expected uint64, actor event.Actor, kind event.Kind, to phase.Phase, payload map[string]any) (*projector.State, error) {
	return e.mutate(ctx, projectID, op, expected, true, func(s *projector.State) ([]event.Event, error) {
		if err := requireTransition(op, s, to); err != nil {
			return nil, err
		}
		return []event.Event{event.New(projectID, kind, actor, payload)}, nil
	})
}

func requireTransition(op string, s *projector.State, to phase.Phase) error {
	if !phase.IsValidTransition(s.Phase, to) {
		return &ValidationError{
			Op:     op,
			Reason: "illegal transition " + string(s.Phase) + " -> " + string(to),
		}
	}
	return nil
}

// State returns a copy of the project's current projected state.
func (e *Engine) State(ctx context.Context, projectID string) (*projector.State, error) {
	_, span := e.tracer.Start(ctx, tracing.SpanPrefixEngine+"state",
		trace.WithAttributes(attribute.String(tracing.AttrProjectID, projectID)))
	defer span.End()

	if !e.log.Exists(projectID) {
		return nil, &NotFoundError{Kind: "project", ID: projectID}
	}
	h, err := e.handle(projectID)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := e.loadLocked(h, projectID); err != nil {
		return nil, err
	}
	return h.state.Clone(), nil
}

// Events returns the project's events with seq >= fromSeq.
func (e *Engine) Events(ctx context.Context, projectID string, fromSeq uint64) ([]event.Event, error) {
	if !e.log.Exists(projectID) {
		return nil, &NotFoundError{Kind: "project", ID: projectID}
	}
	return e.log.Read(projectID, fromSeq)
}

// Projects lists the ids of all projects with persisted events.
func (e *Engine) Projects(ctx context.Context) ([]string, error) {
	return e.log.Projects()
}

// Rebuild discards the cached state and any snapshot for a project and
// replays its full log, refreshing the snapshot from the result.
func (e *Engine) Rebuild(ctx context.Context, projectID string) (*projector.State, error) {
	_, span := e.tracer.Start(ctx, tracing.SpanPrefixEngine+"rebuild",
		trace.WithAttributes(attribute.String(tracing.AttrProjectID, projectID)))
	defer span.End()

	if !e.log.Exists(projectID) {
		return nil, &NotFoundError{Kind: "project", ID: projectID}
	}
	h, err := e.handle(projectID)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	s, err := projector.Rebuild(e.log, projectID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	h.state = s
	e.saveSnapshot(s)
	span.AddEvent(tracing.EventStateRebuilt)
	log.Info(log.CatProjector, "state rebuilt from log",
		"project", projectID, "version", s.Version, "phase", s.Phase)
	return s.Clone(), nil
}

// mutate is the single write path: it serializes on the project, brings the
// state up to date, runs the compare-and-append check, asks build for the
// events to append, and folds each one as it lands in the log. mustExist
// guards every operation except project creation against writing to a log
// that has no events yet.
func (e *Engine) mutate(ctx context.Context, projectID, op string, expected uint64, mustExist bool, build func(s *projector.State) ([]event.Event, error)) (*projector.State, error) {
	_, span := e.tracer.Start(ctx, tracing.SpanPrefixEngine+op,
		trace.WithAttributes(attribute.String(tracing.AttrProjectID, projectID)))
	defer span.End()

	h, err := e.handle(projectID)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := e.loadLocked(h, projectID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s := h.state

	if mustExist && s.Version == 0 {
		err := &NotFoundError{Kind: "project", ID: projectID}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if expected != VersionAny && expected != s.Version {
		err := &ConflictError{ProjectID: projectID, Expected: expected, Actual: s.Version}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	events, err := build(s)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	for _, ev := range events {
		// Timestamps come from the engine clock so the staleness check and
		// the recorded events agree on what "now" means.
		ev.Timestamp = e.clock.Now().UTC()
		seq, err := e.log.Append(ev)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if seq <= s.Version {
			// Idempotent replay: the log already holds this event.
			continue
		}
		ev.Seq = seq
		if err := s.Apply(ev); err != nil {
			// The log and the in-memory fold disagree; drop the cached
			// state so the next operation replays from the log.
			h.state = nil
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		span.AddEvent(tracing.EventAppended)
		log.Info(log.CatEngine, "event applied",
			"project", projectID, "seq", seq, "kind", ev.Kind, "phase", s.Phase)
		e.broker.Publish(pubsub.UpdatedEvent, Change{
			ProjectID: projectID, Seq: seq, Kind: ev.Kind, Phase: s.Phase,
		})
	}

	e.saveSnapshot(s)
	span.SetAttributes(
		attribute.String(tracing.AttrPhase, string(s.Phase)),
		attribute.Int64(tracing.AttrVersion, int64(s.Version)),
	)
	return s.Clone(), nil
}

func (e *Engine) handle(projectID string) (*projectHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.projects[projectID]
	if !ok {
		h = &projectHandle{}
		e.projects[projectID] = h
	}
	return h, nil
}

// loadLocked brings h.state up to date with the log: snapshot plus
// incremental replay when available, full replay otherwise. Caller holds
// h.mu.
func (e *Engine) loadLocked(h *projectHandle, projectID string) error {
	if h.state != nil {
		return h.state.CatchUp(e.log)
	}

	if e.snapshots != nil {
		s, err := e.snapshots.LoadState(projectID)
		switch {
		case err == nil:
			if err := s.CatchUp(e.log); err != nil {
				// Snapshot is ahead of or inconsistent with the log; the log
				// wins, fall through to a full replay.
				log.Warn(log.CatProjector, "snapshot inconsistent with log, replaying",
					"project", projectID, "error", err)
			} else {
				h.state = s
				return nil
			}
		case errors.Is(err, sqlite.ErrSnapshotNotFound):
			// First load, replay below.
		default:
			log.ErrorErr(log.CatDB, "failed to load snapshot, replaying", err,
				"project", projectID)
		}
	}

	s, err := projector.Rebuild(e.log, projectID)
	if err != nil {
		return err
	}
	h.state = s
	return nil
}

// saveSnapshot refreshes the cached snapshot. Failures are logged and
// otherwise ignored: the log remains authoritative.
func (e *Engine) saveSnapshot(s *projector.State) {
	if e.snapshots == nil {
		return
	}
	if err := e.snapshots.SaveState(s); err != nil {
		log.ErrorErr(log.CatDB, "failed to save snapshot", err,
			"project", s.ProjectID, "version", s.Version)
	}
}
