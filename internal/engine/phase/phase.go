// Package phase defines the project workflow phases and the edge table
// governing legal transitions between them.
package phase

import "slices"

// Phase is the current workflow stage of a project. Exactly one phase is
// current per project at any time, derived by folding the event log.
type Phase string

const (
	Init            Phase = "init"
	Planning        Phase = "planning"
	PendingApproval Phase = "pending_approval"
	Executing       Phase = "executing"
	Review          Phase = "review"
	Done            Phase = "done"
	Failed          Phase = "failed"
)

// ValidTransitions defines the allowed state machine transitions.
// Map key is the "from" phase, value is a slice of valid "to" phases.
// Failed is reachable from any non-terminal phase via explicit abort or
// retry exhaustion and is therefore handled in IsValidTransition rather
// than listed on every edge.
var ValidTransitions = map[Phase][]Phase{
	Init:            {Planning},
	Planning:        {PendingApproval},
	PendingApproval: {Executing, Planning},
	Executing:       {Review},
	Review:          {Done, Planning},
}

// IsValidTransition checks if transitioning from one phase to another is valid.
func IsValidTransition(from, to Phase) bool {
	if to == Failed {
		return !IsTerminal(from)
	}
	validTos, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	return slices.Contains(validTos, to)
}

// IsTerminal reports whether the phase admits no further transitions.
func IsTerminal(p Phase) bool {
	return p == Done || p == Failed
}

// IsGate reports whether the phase requires an explicit approval or
// rejection event to leave. The machine never auto-advances out of a gate.
func IsGate(p Phase) bool {
	return p == PendingApproval || p == Review
}

// Known reports whether p is one of the defined phases.
func Known(p Phase) bool {
	switch p {
	case Init, Planning, PendingApproval, Executing, Review, Done, Failed:
		return true
	}
	return false
}
