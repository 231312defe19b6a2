package workflows

// StateMachine enforces forward-only status transitions
type StateMachine struct {
	allowedTransitions map[string][]string
}

// NewStateMachine creates a state machine from an allowed transition table.
// States mapped to an empty slice are terminal.
func NewStateMachine(transitions map[string][]string) *StateMachine {
	return &StateMachine{allowedTransitions: transitions}
}

// NewSubmissionStateMachine returns the energy submission lifecycle.
func NewSubmissionStateMachine() *StateMachine {
	return NewStateMachine(map[string][]string{
		"pending":  {"approved", "rejected"},
		"approved": {"minted"},
		"rejected": {},
		"minted":   {},
	})
}

// NewListingStateMachine returns the marketplace listing lifecycle.
func NewListingStateMachine() *StateMachine {
	return NewStateMachine(map[string][]string{
		"available": {"sold", "cancelled"},
		"sold":      {},
		"cancelled": {},
	})
}

// CanTransition checks if a status transition is allowed
func (sm *StateMachine) CanTransition(from, to string) bool {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return false
	}
	for _, allowedTo := range allowed {
		if allowedTo == to {
			return true
		}
	}
	return false
}

// GetAllowedTransitions returns the allowed next statuses for a given status
func (sm *StateMachine) GetAllowedTransitions(from string) []string {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return []string{}
	}
	return allowed
}

// IsTerminal reports whether no transition leaves the given status.
func (sm *StateMachine) IsTerminal(state string) bool {
	allowed, exists := sm.allowedTransitions[state]
	return exists && len(allowed) == 0
}

// IsKnown reports whether the status belongs to this lifecycle.
func (sm *StateMachine) IsKnown(state string) bool {
	_, exists := sm.allowedTransitions[state]
	return exists
}
