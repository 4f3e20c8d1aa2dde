package tracing

// Span attribute keys for engine tracing. These constants define the
// semantic conventions used across all engine spans.
const (
	// Project attributes
	AttrProjectID = "project.id"
	AttrPhase     = "project.phase"
	AttrRevision  = "project.revision"
	AttrVersion   = "project.version"

	// Event attributes
	AttrEventKind = "event.kind"
	AttrEventSeq  = "event.seq"

	// Assignment attributes
	AttrTaskID   = "task.id"
	AttrRole     = "task.role"
	AttrWorkerID = "worker.id"
	AttrAttempt  = "task.attempt"

	// Review attributes
	AttrVerdict      = "review.verdict"
	AttrReviewerKind = "review.reviewer_kind"

	// Context attributes
	AttrContextPath   = "context.path"
	AttrContextDigest = "context.digest"

	// Error attributes
	AttrErrorMessage = "error.message"
	AttrErrorType    = "error.type"
)

// Span name prefixes for consistent naming.
const (
	SpanPrefixEngine = "engine."
	SpanPrefixLog    = "log."
	SpanPrefixSnap   = "snapshot."
)

// Event names for span events.
const (
	EventAppended         = "event.appended"
	EventStateRebuilt     = "state.rebuilt"
	EventSnapshotSaved    = "snapshot.saved"
	EventGateEvaluated    = "gate.evaluated"
	EventRetryScheduled   = "retry.scheduled"
	EventEscalationRaised = "escalation.raised"
)
