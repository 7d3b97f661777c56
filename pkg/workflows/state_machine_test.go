package workflows

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkflowStatuses(t *testing.T) {
	sm := WorkflowStatuses()

	cases := []struct {
		from, to string
		want     bool
	}{
		{"pending", "in_review", true},
		{"pending", "cancelled", true},
		{"pending", "approved", false},
		{"in_review", "approved", true},
		{"in_review", "rejected", true},
		{"in_review", "escalated", true},
		{"escalated", "in_review", true},
		{"escalated", "escalated", true},
		{"escalated", "approved", true},
		{"approved", "in_review", false},
		{"rejected", "in_review", false},
		{"cancelled", "in_review", false},
		{"approved", "cancelled", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, sm.CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	sm := WorkflowStatuses()
	for _, status := range []string{"approved", "rejected", "cancelled"} {
		assert.Empty(t, sm.GetAllowedTransitions(status), status)
	}
}

func TestStageStatuses(t *testing.T) {
	sm := StageStatuses()

	assert.True(t, sm.CanTransition("pending", "in_progress"))
	assert.True(t, sm.CanTransition("pending", "skipped"))
	assert.True(t, sm.CanTransition("pending", "auto_approved"))
	assert.True(t, sm.CanTransition("in_progress", "approved"))
	assert.True(t, sm.CanTransition("in_progress", "rejected"))
	assert.False(t, sm.CanTransition("skipped", "in_progress"))
	assert.False(t, sm.CanTransition("approved", "rejected"))
}

func TestQueueStatuses(t *testing.T) {
	sm := QueueStatuses()

	assert.True(t, sm.CanTransition("pending", "completed"))
	assert.True(t, sm.CanTransition("pending", "cancelled"))
	assert.True(t, sm.CanTransition("in_progress", "completed"))
	assert.False(t, sm.CanTransition("completed", "pending"))
	assert.False(t, sm.CanTransition("cancelled", "completed"))
}

func TestUnknownStatusNeverTransitions(t *testing.T) {
	sm := WorkflowStatuses()

	assert.False(t, sm.CanTransition("archived", "approved"))
	assert.Empty(t, sm.GetAllowedTransitions("archived"))
}
