package session

import "github.com/anthropics/midstream/internal/domain"

// validTransitions defines the legal session state transitions.
// Each key is a source state, and the value is the set of valid target states.
// Terminal states have no outgoing transitions and are omitted.
var validTransitions = map[domain.SessionState]map[domain.SessionState]bool{
	domain.StateStreaming: {
		domain.StateExecuting: true,
		domain.StateDone:      true,
		domain.StateAborted:   true,
	},
	domain.StateExecuting: {
		domain.StateResuming:       true,
		domain.StateBudgetExceeded: true,
		domain.StateAborted:        true,
	},
	domain.StateResuming: {
		domain.StateStreaming: true,
		domain.StateAborted:   true,
	},
}

// IsValidTransition checks if a session state transition is legal.
func IsValidTransition(from, to domain.SessionState) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}
