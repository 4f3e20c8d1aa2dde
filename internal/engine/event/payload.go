package event

// Payload field accessors. Payloads are stored as map[string]any so the
// persisted format and the wire shape stay identical; these helpers keep
// the fold code free of repeated type assertions.

// StringField returns the string value for key, or "" when absent or not a
// string.
func StringField(p map[string]any, key string) string {
	if p == nil {
		return ""
	}
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// IntField returns the integer value for key. JSON round-trips store numbers
// as float64, so both representations are accepted.
func IntField(p map[string]any, key string) int {
	if p == nil {
		return 0
	}
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// BoolField returns the boolean value for key, or false when absent.
func BoolField(p map[string]any, key string) bool {
	if p == nil {
		return false
	}
	if v, ok := p[key].(bool); ok {
		return v
	}
	return false
}

// Payload keys shared between the engine (which writes them) and the
// projector (which folds them). Kept here so both sides agree on spelling.
const (
	FieldRootPath  = "root_path"
	FieldTaskID    = "task_id"
	FieldRole      = "role"
	FieldTitle     = "title"
	FieldWorkerID  = "worker_id"
	FieldOutcome   = "outcome"
	FieldReason    = "reason"
	FieldAttempt   = "attempt"
	FieldRetry     = "retry"
	FieldPath      = "path"
	FieldDigest    = "digest"
	FieldReviewer  = "reviewer_kind"
	FieldVerdict   = "verdict"
	FieldRationale = "rationale"
	FieldRevision  = "revision"
)
