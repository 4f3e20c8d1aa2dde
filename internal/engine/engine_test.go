package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/croc/internal/engine/event"
	"github.com/zjrosen/croc/internal/engine/phase"
	"github.com/zjrosen/croc/internal/engine/projector"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var (
	planner = event.Actor{Role: event.RolePlanner, ID: "planner-1"}
	foreman = event.Actor{Role: event.RoleForeman, ID: "foreman-1"}
	human   = event.Actor{Role: event.RoleHuman, ID: "alice"}
)

func newTestEngine(t *testing.T) (*Engine, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	e, err := New(Options{
		DataDir: t.TempDir(),
		Clock:   clock,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, clock
}

// driveToExecuting walks a fresh project through the approval gate and
// returns the state at executing.
func driveToExecuting(t *testing.T, e *Engine, projectID string) *projector.State {
	t.Helper()
	ctx := context.Background()

	s, err := e.InitProject(ctx, projectID, "/work/"+projectID, human)
	require.NoError(t, err)
	s, err = e.RequestPlan(ctx, projectID, s.Version, human)
	require.NoError(t, err)
	s, err = e.SubmitPlan(ctx, projectID, s.Version, planner, "build the thing")
	require.NoError(t, err)
	s, err = e.ApprovePlan(ctx, projectID, s.Version, human)
	require.NoError(t, err)
	require.Equal(t, phase.Executing, s.Phase)
	return s
}

func TestHappyPath_InitThroughDone(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	s := driveToExecuting(t, e, "demo")

	s, err := e.CreateAssignment(ctx, "demo", s.Version, foreman, "t-1", event.RoleWorker, "implement")
	require.NoError(t, err)

	claimed, s, err := e.Claim(ctx, "demo", s.Version, event.RoleWorker, "w-1")
	require.NoError(t, err)
	require.Equal(t, "t-1", claimed.TaskID)
	require.Equal(t, projector.AssignmentInProgress, claimed.Status)

	s, err = e.CompleteAssignment(ctx, "demo", s.Version, event.Actor{Role: event.RoleWorker, ID: "w-1"}, "t-1")
	require.NoError(t, err)
	require.Equal(t, phase.Review, s.Phase, "last completion must start review")

	s, err = e.RecordReview(ctx, "demo", s.Version, event.Actor{Role: event.RoleReviewer, ID: "rev-1"},
		projector.ReviewerAutomated, projector.VerdictApprove, "lgtm")
	require.NoError(t, err)
	require.Equal(t, phase.Review, s.Phase, "one approval must not release the gate")

	s, err = e.RecordReview(ctx, "demo", s.Version, human,
		projector.ReviewerHuman, projector.VerdictApprove, "ship it")
	require.NoError(t, err)
	require.Equal(t, phase.Done, s.Phase, "both approvals complete the project")
}

func TestGates_NeverAutoAdvance(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	s, err := e.InitProject(ctx, "demo", "/work/demo", human)
	require.NoError(t, err)
	s, err = e.RequestPlan(ctx, "demo", s.Version, human)
	require.NoError(t, err)
	s, err = e.SubmitPlan(ctx, "demo", s.Version, planner, "")
	require.NoError(t, err)
	require.Equal(t, phase.PendingApproval, s.Phase)

	// Without an approval the project stays parked; a skip attempt fails.
	_, err = e.SubmitPlan(ctx, "demo", s.Version, planner, "")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)

	st, err := e.State(ctx, "demo")
	require.NoError(t, err)
	require.Equal(t, phase.PendingApproval, st.Phase)
}

func TestPlanRejectionLoop_BumpsRevision(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	s, err := e.InitProject(ctx, "demo", "/work/demo", human)
	require.NoError(t, err)
	s, err = e.RequestPlan(ctx, "demo", s.Version, human)
	require.NoError(t, err)
	s, err = e.SubmitPlan(ctx, "demo", s.Version, planner, "first draft")
	require.NoError(t, err)

	s, err = e.RejectPlan(ctx, "demo", s.Version, human, "scope too broad")
	require.NoError(t, err)
	require.Equal(t, phase.Planning, s.Phase)
	require.Equal(t, 1, s.Revision)

	s, err = e.SubmitPlan(ctx, "demo", s.Version, planner, "second draft")
	require.NoError(t, err)
	s, err = e.ApprovePlan(ctx, "demo", s.Version, human)
	require.NoError(t, err)
	require.Equal(t, phase.Executing, s.Phase)
	require.Equal(t, 1, s.Revision, "approval keeps the current revision")
}

func TestRetryExhaustion_EscalatesAndFailsProject(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	s := driveToExecuting(t, e, "demo")
	s, err := e.CreateAssignment(ctx, "demo", s.Version, foreman, "t-1", event.RoleWorker, "flaky work")
	require.NoError(t, err)

	worker := event.Actor{Role: event.RoleWorker, ID: "w-1"}
	for attempt := 1; attempt <= 3; attempt++ {
		_, s, err = e.Claim(ctx, "demo", s.Version, event.RoleWorker, "w-1")
		require.NoError(t, err, "attempt %d claim", attempt)
		s, err = e.FailAssignment(ctx, "demo", s.Version, worker, "t-1", "boom")
		require.NoError(t, err, "attempt %d fail", attempt)

		a := s.Assignments["t-1"]
		require.Equal(t, attempt, a.AttemptCount)
		if attempt < 3 {
			require.Equal(t, projector.AssignmentPending, a.Status,
				"attempt %d should leave the assignment claimable", attempt)
			require.Equal(t, phase.Executing, s.Phase)
		}
	}

	require.Equal(t, projector.AssignmentFailed, s.Assignments["t-1"].Status)
	require.Equal(t, phase.Failed, s.Phase, "exhaustion escalates to the foreman and fails the project")

	events, err := e.Events(ctx, "demo", 1)
	require.NoError(t, err)
	var sawEscalation bool
	for _, ev := range events {
		if ev.Kind == event.KindForemanEscalation {
			sawEscalation = true
		}
	}
	require.True(t, sawEscalation)

	// Further failures surface the exhausted budget.
	_, err = e.FailAssignment(ctx, "demo", VersionAny, worker, "t-1", "again")
	var ree *RetryExhaustedError
	require.ErrorAs(t, err, &ree)
	require.Equal(t, 3, ree.Attempts)
}

func TestVersionConflict_RejectsStaleToken(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	s, err := e.InitProject(ctx, "demo", "/work/demo", human)
	require.NoError(t, err)
	stale := s.Version

	_, err = e.RequestPlan(ctx, "demo", stale, human)
	require.NoError(t, err)

	// Re-using the old token must fail and append nothing.
	_, err = e.RequestPlan(ctx, "demo", stale, human)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, stale, ce.Expected)

	events, err := e.Events(ctx, "demo", 1)
	require.NoError(t, err)
	require.Len(t, events, 2, "conflicting write must not reach the log")
}

func TestRestart_StateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	e, err := New(Options{DataDir: dir})
	require.NoError(t, err)
	s := driveToExecuting(t, e, "demo")
	s, err = e.CreateAssignment(ctx, "demo", s.Version, foreman, "t-1", event.RoleWorker, "work")
	require.NoError(t, err)
	want := s
	require.NoError(t, e.Close())

	reopened, err := New(Options{DataDir: dir})
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	got, err := reopened.State(ctx, "demo")
	require.NoError(t, err)
	require.Equal(t, want.Phase, got.Phase)
	require.Equal(t, want.Version, got.Version)
	require.Equal(t, want.Assignments, got.Assignments)
}

func TestSnapshot_ReopenedEngineMatchesReplay(t *testing.T) {
	dir := t.TempDir()
	snapPath := filepath.Join(dir, "index", "croc.db")
	ctx := context.Background()

	e, err := New(Options{DataDir: dir, SnapshotPath: snapPath})
	require.NoError(t, err)
	s := driveToExecuting(t, e, "demo")
	_, err = e.CreateAssignment(ctx, "demo", s.Version, foreman, "t-1", event.RoleWorker, "work")
	require.NoError(t, err)
	require.NoError(t, e.Close())

	reopened, err := New(Options{DataDir: dir, SnapshotPath: snapPath})
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	fromSnapshot, err := reopened.State(ctx, "demo")
	require.NoError(t, err)

	rebuilt, err := reopened.Rebuild(ctx, "demo")
	require.NoError(t, err)

	require.Equal(t, rebuilt.Phase, fromSnapshot.Phase)
	require.Equal(t, rebuilt.Version, fromSnapshot.Version)
	require.Equal(t, rebuilt.Revision, fromSnapshot.Revision)
	require.Equal(t, rebuilt.Assignments, fromSnapshot.Assignments)
	require.Equal(t, rebuilt.ContextItems, fromSnapshot.ContextItems)
	require.Equal(t, rebuilt.Reviews, fromSnapshot.Reviews)
}

func TestConcurrentClaims_EachAssignmentClaimedOnce(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	s := driveToExecuting(t, e, "demo")
	for _, id := range []string{"t-1", "t-2", "t-3", "t-4"} {
		var err error
		s, err = e.CreateAssignment(ctx, "demo", s.Version, foreman, id, event.RoleWorker, "")
		require.NoError(t, err)
	}

	const workers = 4
	results := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			a, _, err := e.Claim(ctx, "demo", VersionAny, event.RoleWorker, "w-"+string(rune('a'+n)))
			if err == nil && a != nil {
				results <- a.TaskID
			}
		}(i)
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	for id := range results {
		require.False(t, seen[id], "task %s claimed twice", id)
		seen[id] = true
	}
	require.Len(t, seen, workers, "every worker should have claimed a distinct task")
}

func TestClaim_OrderIsLowestTaskIDFirst(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	s := driveToExecuting(t, e, "demo")
	for _, id := range []string{"t-3", "t-1", "t-2"} {
		var err error
		s, err = e.CreateAssignment(ctx, "demo", s.Version, foreman, id, event.RoleWorker, "")
		require.NoError(t, err)
	}

	for _, want := range []string{"t-1", "t-2", "t-3"} {
		a, next, err := e.Claim(ctx, "demo", s.Version, event.RoleWorker, "w-1")
		require.NoError(t, err)
		require.Equal(t, want, a.TaskID)
		s = next
	}

	a, _, err := e.Claim(ctx, "demo", s.Version, event.RoleWorker, "w-1")
	require.NoError(t, err)
	require.Nil(t, a, "drained queue yields no work")
}

func TestClaim_EmptyQueueIsNotAnError(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	s := driveToExecuting(t, e, "demo")

	a, got, err := e.Claim(ctx, "demo", s.Version, event.RoleWorker, "w-1")
	require.NoError(t, err)
	require.Nil(t, a)
	require.NotNil(t, got)
	require.Equal(t, s.Version, got.Version, "an empty claim appends nothing")

	// Unknown projects are still errors; only an empty queue is benign.
	_, _, err = e.Claim(ctx, "ghost", VersionAny, event.RoleWorker, "w-1")
	require.True(t, IsNotFound(err))
}

func TestCreateAssignment_IdempotentRetry(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	s := driveToExecuting(t, e, "demo")
	s, err := e.CreateAssignment(ctx, "demo", s.Version, foreman, "t-1", event.RoleWorker, "once")
	require.NoError(t, err)

	// A duplicate create is rejected by validation before the idempotency
	// key even matters: the assignment is already projected.
	_, err = e.CreateAssignment(ctx, "demo", s.Version, foreman, "t-1", event.RoleWorker, "once")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)

	events, err := e.Events(ctx, "demo", 1)
	require.NoError(t, err)
	var creates int
	for _, ev := range events {
		if ev.Kind == event.KindAssignmentCreated {
			creates++
		}
	}
	require.Equal(t, 1, creates)
}

func TestRebuild_MatchesLiveState(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	s := driveToExecuting(t, e, "demo")
	s, err := e.CreateAssignment(ctx, "demo", s.Version, foreman, "t-1", event.RoleWorker, "")
	require.NoError(t, err)
	_, s, err = e.Claim(ctx, "demo", s.Version, event.RoleWorker, "w-1")
	require.NoError(t, err)

	live, err := e.State(ctx, "demo")
	require.NoError(t, err)

	rebuilt, err := e.Rebuild(ctx, "demo")
	require.NoError(t, err)

	require.Equal(t, live.Phase, rebuilt.Phase)
	require.Equal(t, live.Version, rebuilt.Version)
	require.Equal(t, live.Assignments, rebuilt.Assignments)
}

func TestAbortProject_FromAnyNonTerminalPhase(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	s, err := e.InitProject(ctx, "demo", "/work/demo", human)
	require.NoError(t, err)
	s, err = e.AbortProject(ctx, "demo", s.Version, human, "changed my mind")
	require.NoError(t, err)
	require.Equal(t, phase.Failed, s.Phase)

	// Terminal projects refuse everything.
	_, err = e.RequestPlan(ctx, "demo", s.Version, human)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestOperations_OnMissingProject(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.State(ctx, "ghost")
	require.True(t, IsNotFound(err))

	_, err = e.RequestPlan(ctx, "ghost", VersionAny, human)
	require.True(t, IsNotFound(err), "phase ops must not create a project implicitly")

	_, err = e.Events(ctx, "ghost", 1)
	require.True(t, IsNotFound(err))
}

func TestInitProject_RejectsDuplicate(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.InitProject(ctx, "demo", "/work/demo", human)
	require.NoError(t, err)

	_, err = e.InitProject(ctx, "demo", "/work/demo", human)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestChanges_PublishesAppends(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := e.Changes(ctx)

	_, err := e.InitProject(ctx, "demo", "/work/demo", human)
	require.NoError(t, err)

	select {
	case msg := <-ch:
		require.Equal(t, "demo", msg.Payload.ProjectID)
		require.Equal(t, event.KindProjectInitialized, msg.Payload.Kind)
		require.Equal(t, uint64(1), msg.Payload.Seq)
	case <-time.After(time.Second):
		t.Fatal("expected a change notification")
	}
}

func TestProjects_ListsInitialized(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.InitProject(ctx, "alpha", "/w/a", human)
	require.NoError(t, err)
	_, err = e.InitProject(ctx, "beta", "/w/b", human)
	require.NoError(t, err)

	ids, err := e.Projects(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"alpha", "beta"}, ids)
}

func TestIngestContext_DedupAndResolve(t *testing.T) {
	root := t.TempDir()
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.InitProject(ctx, "demo", root, human)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.md"), []byte("alpha"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "copy.md"), []byte("alpha"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "other.md"), []byte("beta"), 0600))

	item1, s, err := e.IngestContext(ctx, "demo", VersionAny, human, "notes.md")
	require.NoError(t, err)
	require.NotEmpty(t, item1.Digest)
	require.Len(t, s.ContextItems, 1)

	// Same content under another name: no new event, original item returned.
	item2, s, err := e.IngestContext(ctx, "demo", VersionAny, human, "copy.md")
	require.NoError(t, err)
	require.Equal(t, item1.Digest, item2.Digest)
	require.Equal(t, "notes.md", item2.Path)
	require.Len(t, s.ContextItems, 1)

	_, s, err = e.IngestContext(ctx, "demo", VersionAny, human, "other.md")
	require.NoError(t, err)
	require.Len(t, s.ContextItems, 2)

	_, _, err = e.IngestContext(ctx, "demo", VersionAny, human, "missing.md")
	require.True(t, IsNotFound(err))
}
