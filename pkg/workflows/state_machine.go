package workflows

// StateMachine enforces status transitions for approval records
type StateMachine struct {
	allowedTransitions map[string][]string
}

// New creates a state machine from an allowed-transition table
func New(allowedTransitions map[string][]string) *StateMachine {
	return &StateMachine{allowedTransitions: allowedTransitions}
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

// WorkflowStatuses returns the machine for workflow-level status.
// approved, rejected and cancelled are terminal.
func WorkflowStatuses() *StateMachine {
	return New(map[string][]string{
		"pending":   {"in_review", "cancelled"},
		"in_review": {"approved", "rejected", "cancelled", "escalated"},
		"escalated": {"in_review", "approved", "rejected", "cancelled", "escalated"},
		"approved":  {},
		"rejected":  {},
		"cancelled": {},
	})
}

// StageStatuses returns the machine for per-stage sub-records.
func StageStatuses() *StateMachine {
	return New(map[string][]string{
		"pending":       {"in_progress", "skipped", "auto_approved"},
		"in_progress":   {"approved", "rejected"},
		"approved":      {},
		"rejected":      {},
		"skipped":       {},
		"auto_approved": {},
	})
}

// QueueStatuses returns the machine for queue items.
func QueueStatuses() *StateMachine {
	return New(map[string][]string{
		"pending":     {"in_progress", "completed", "skipped", "cancelled"},
		"in_progress": {"completed", "cancelled"},
		"completed":   {},
		"skipped":     {},
		"cancelled":   {},
	})
}
