package approval

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriorityRanking(t *testing.T) {
	assert.True(t, PriorityCritical.Rank() > PriorityUrgent.Rank())
	assert.True(t, PriorityUrgent.Rank() > PriorityHigh.Rank())
	assert.True(t, PriorityHigh.Rank() > PriorityNormal.Rank())
	assert.True(t, PriorityNormal.Rank() > PriorityLow.Rank())

	assert.False(t, PriorityLevel("severe").Valid())
	assert.Equal(t, 0, PriorityLevel("severe").Rank())
}

func TestStageConfigurationAutoApproves(t *testing.T) {
	cases := []struct {
		name     string
		rules    string
		priority PriorityLevel
		want     bool
	}{
		{"no rules", "", PriorityLow, false},
		{"empty object", "{}", PriorityLow, false},
		{"at most low, low", `{"priority_at_most":"low"}`, PriorityLow, true},
		{"at most low, normal", `{"priority_at_most":"low"}`, PriorityNormal, false},
		{"at most high, normal", `{"priority_at_most":"high"}`, PriorityNormal, true},
		{"at most high, critical", `{"priority_at_most":"high"}`, PriorityCritical, false},
		{"unknown threshold", `{"priority_at_most":"severe"}`, PriorityLow, false},
		{"malformed json", `{"priority_at_most"`, PriorityLow, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := StageConfiguration{}
			if tc.rules != "" {
				cfg.AutoApprovalRules = json.RawMessage(tc.rules)
			}
			assert.Equal(t, tc.want, cfg.AutoApproves(tc.priority))
		})
	}
}

func TestWorkflowStatusTerminal(t *testing.T) {
	for status, terminal := range map[WorkflowStatus]bool{
		WorkflowPending:   false,
		WorkflowInReview:  false,
		WorkflowEscalated: false,
		WorkflowApproved:  true,
		WorkflowRejected:  true,
		WorkflowCancelled: true,
	} {
		assert.Equal(t, terminal, status.Terminal(), string(status))
	}
}
