package approval

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contractor-hub/contractor-portal/contractor-portal-backend/internal/notifications"
)

func TestSweepEscalatesOverdueWorkflow(t *testing.T) {
	env := newTestEnv(t)
	wf := env.initiate(t, InitiateRequest{})

	// Stage 1 SLA is 24h; cross it.
	env.clock.Advance(25 * time.Hour)
	result, err := env.sweeper.EscalateOverdueApprovals(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.EscalatedCount)
	require.Len(t, result.NewAssignments, 1)
	assert.Equal(t, wf.WorkflowID, result.NewAssignments[0].WorkflowID)
	assert.Equal(t, 1, result.NewAssignments[0].Stage)
	assert.Equal(t, env.escalation[1], result.NewAssignments[0].ApproverID)

	stored, err := env.repo.GetWorkflow(context.Background(), wf.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, WorkflowEscalated, stored.Status)
	assert.Equal(t, 1, stored.EscalationLevel)
	assert.True(t, stored.IsOverdue)
	require.NotNil(t, stored.EscalationReason)
	assert.Contains(t, *stored.EscalationReason, "stage 1")
	require.NotNil(t, stored.CurrentApproverID)
	assert.Equal(t, env.escalation[1], *stored.CurrentApproverID)

	// The original approver's claim is superseded by the escalation target's.
	pending := env.repo.pendingItems(wf.WorkflowID)
	require.Len(t, pending, 1)
	assert.Equal(t, env.escalation[1], pending[0].ApproverID)

	entries := env.repo.historyFor(wf.WorkflowID, ActionEscalate)
	require.Len(t, entries, 1)
	assert.Equal(t, SystemActor, entries[0].ActorID)
	assert.False(t, entries[0].IsWithinSLA)
	assert.Equal(t, WorkflowInReview, entries[0].PreviousStatus)

	notified := env.dispatcher.byEvent(notifications.EventEscalated)
	require.Len(t, notified, 1)
	assert.Equal(t, env.escalation[1], notified[0].ApproverID)
}

func TestSweepIsIdempotentWithinThresholdWindow(t *testing.T) {
	env := newTestEnv(t)
	wf := env.initiate(t, InitiateRequest{})

	env.clock.Advance(25 * time.Hour)
	first, err := env.sweeper.EscalateOverdueApprovals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.EscalatedCount)

	// Stage 1's escalation threshold is 4h. One hour later, still inside the
	// level-1 window: nothing new fires.
	env.clock.Advance(time.Hour)
	second, err := env.sweeper.EscalateOverdueApprovals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.EscalatedCount)

	stored, err := env.repo.GetWorkflow(context.Background(), wf.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.EscalationLevel)
	assert.Len(t, env.repo.historyFor(wf.WorkflowID, ActionEscalate), 1)
	assert.Len(t, env.repo.pendingItems(wf.WorkflowID), 1)
}

func TestSweepEscalatesAgainPastNextThreshold(t *testing.T) {
	env := newTestEnv(t)
	wf := env.initiate(t, InitiateRequest{})

	env.clock.Advance(25 * time.Hour)
	_, err := env.sweeper.EscalateOverdueApprovals(context.Background())
	require.NoError(t, err)

	// Past sla_due_date + 1 * 4h: level 2 fires.
	env.clock.Advance(4 * time.Hour)
	result, err := env.sweeper.EscalateOverdueApprovals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.EscalatedCount)

	stored, err := env.repo.GetWorkflow(context.Background(), wf.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.EscalationLevel)
	assert.Len(t, env.repo.historyFor(wf.WorkflowID, ActionEscalate), 2)
}

func TestSweepOverdueFlagOnlyInsideWindow(t *testing.T) {
	env := newTestEnv(t)

	// Zero threshold on every stage: after the initial breach there is no
	// further level to reach.
	stages := DefaultStages(testDocType)
	for i := range stages {
		stages[i].EscalationThresholdHours = 0
	}
	env.config.Set(testDocType, stages)
	wf := env.initiate(t, InitiateRequest{})

	env.clock.Advance(25 * time.Hour)
	first, err := env.sweeper.EscalateOverdueApprovals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.EscalatedCount)

	env.clock.Advance(1000 * time.Hour)
	second, err := env.sweeper.EscalateOverdueApprovals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.EscalatedCount)

	stored, err := env.repo.GetWorkflow(context.Background(), wf.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.EscalationLevel)
}

func TestSweepWithoutEscalationTarget(t *testing.T) {
	env := newTestEnv(t)
	wf := env.initiate(t, InitiateRequest{})
	delete(env.directory.Escalations, StageKey{testDocType, 1})

	env.clock.Advance(25 * time.Hour)
	result, err := env.sweeper.EscalateOverdueApprovals(context.Background())
	require.NoError(t, err)

	// The workflow still escalates, but nobody new is assigned and the
	// original approver keeps the claim.
	assert.Equal(t, 1, result.EscalatedCount)
	assert.Empty(t, result.NewAssignments)
	assert.Empty(t, result.NotifiedApprovers)

	stored, err := env.repo.GetWorkflow(context.Background(), wf.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, WorkflowEscalated, stored.Status)

	pending := env.repo.pendingItems(wf.WorkflowID)
	require.Len(t, pending, 1)
	assert.Equal(t, env.approvers[1], pending[0].ApproverID)
}

func TestSweepSkipsWorkflowsWithinSLA(t *testing.T) {
	env := newTestEnv(t)
	env.initiate(t, InitiateRequest{})

	env.clock.Advance(time.Hour)
	result, err := env.sweeper.EscalateOverdueApprovals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.EscalatedCount)
}

func TestSweepIsolatesPerWorkflowFailures(t *testing.T) {
	env := newTestEnv(t)

	healthy := env.initiate(t, InitiateRequest{})

	// A second workflow whose document type loses its configuration before
	// the sweep runs: it must be skipped, not sink the batch.
	brokenType := DocumentType("PERMIT")
	env.config.Set(brokenType, DefaultStages(brokenType))
	for stage := 1; stage <= 4; stage++ {
		env.directory.Defaults[StageKey{brokenType, stage}] = uuid.New()
	}
	brokenDoc := uuid.New()
	env.docs[brokenDoc] = true
	broken, err := env.engine.InitiateWorkflow(context.Background(), InitiateRequest{
		DocumentID:   brokenDoc,
		DocumentType: brokenType,
	})
	require.NoError(t, err)
	env.config.Set(brokenType, nil)

	env.clock.Advance(25 * time.Hour)
	result, err := env.sweeper.EscalateOverdueApprovals(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.EscalatedCount)

	escalated, err := env.repo.GetWorkflow(context.Background(), healthy.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, WorkflowEscalated, escalated.Status)

	skipped, err := env.repo.GetWorkflow(context.Background(), broken.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, WorkflowInReview, skipped.Status)
	assert.Equal(t, 0, skipped.EscalationLevel)
}

func TestEscalatedWorkflowRemainsDecidable(t *testing.T) {
	env := newTestEnv(t)
	wf := env.initiate(t, InitiateRequest{})

	env.clock.Advance(25 * time.Hour)
	_, err := env.sweeper.EscalateOverdueApprovals(context.Background())
	require.NoError(t, err)

	// The escalation target holds the claim now and can approve the stage.
	result, err := env.engine.ProcessApproval(context.Background(), wf.WorkflowID, env.escalation[1], DecisionRequest{Decision: DecisionApprove})
	require.NoError(t, err)
	assert.Equal(t, 2, result.CurrentStage)
	assert.Equal(t, WorkflowInReview, result.Status)
	assert.False(t, result.IsWithinSLA)

	// The superseded approver no longer has a claim.
	_, err = env.engine.ProcessApproval(context.Background(), wf.WorkflowID, env.approvers[1], DecisionRequest{Decision: DecisionApprove})
	assert.Equal(t, KindUnauthorized, KindOf(err))
}

func TestThresholdCrossed(t *testing.T) {
	due := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		name      string
		level     int
		threshold int
		at        time.Time
		want      bool
	}{
		{"before due date", 0, 4, due.Add(-time.Minute), false},
		{"just past due date", 0, 4, due.Add(time.Minute), true},
		{"level one inside window", 1, 4, due.Add(3 * time.Hour), false},
		{"level one past window", 1, 4, due.Add(4*time.Hour + time.Minute), true},
		{"zero threshold first breach", 0, 0, due.Add(time.Minute), true},
		{"zero threshold after first", 1, 0, due.Add(100 * time.Hour), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wf := &Workflow{SLADueDate: due, EscalationLevel: tc.level}
			assert.Equal(t, tc.want, thresholdCrossed(wf, tc.threshold, tc.at))
		})
	}
}
