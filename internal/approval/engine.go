package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"contractor-hub/contractor-portal/contractor-portal-backend/internal/notifications"
	"contractor-hub/contractor-portal/contractor-portal-backend/pkg/workflows"
)

// SystemActor identifies engine-originated history entries.
const SystemActor = "system"

var workflowStatusMachine = workflows.WorkflowStatuses()

// Engine orchestrates the approval pipeline: it owns every write to workflow
// and queue state and appends history as a side effect of each transition.
type Engine struct {
	repo      Repository
	config    ConfigStore
	documents DocumentDirectory
	approvers ApproverDirectory
	notifier  notifications.Dispatcher
	logger    *zap.Logger
	now       func() time.Time
}

func NewEngine(
	repo Repository,
	config ConfigStore,
	docs DocumentDirectory,
	approvers ApproverDirectory,
	notifier notifications.Dispatcher,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		repo:      repo,
		config:    config,
		documents: docs,
		approvers: approvers,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
	}
}

// InitiateRequest configures a new workflow for a document.
type InitiateRequest struct {
	DocumentID              uuid.UUID
	DocumentType            DocumentType
	Priority                PriorityLevel
	CustomSLAHours          *int
	SkipStages              []int
	AssignSpecificApprovers map[int]uuid.UUID
}

type InitiateResult struct {
	WorkflowID     uuid.UUID      `json:"workflow_id"`
	CurrentStage   int            `json:"current_stage"`
	Status         WorkflowStatus `json:"status"`
	NextApproverID *uuid.UUID     `json:"next_approver_id,omitempty"`
	SLADueDate     time.Time      `json:"sla_due_date"`
}

// InitiateWorkflow creates the workflow at stage 1 and assigns the first
// actionable stage. At most one non-terminal workflow may exist per document.
func (e *Engine) InitiateWorkflow(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	if req.Priority == "" {
		req.Priority = PriorityNormal
	}
	if !req.Priority.Valid() {
		return nil, errValidationDetails(
			map[string]any{"allowed": PriorityLevels()},
			"invalid priority level %q", req.Priority)
	}
	if req.CustomSLAHours != nil && *req.CustomSLAHours <= 0 {
		return nil, errValidation("customSlaHours must be positive")
	}

	exists, err := e.documents.Exists(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errNotFound("document %s not found", req.DocumentID)
	}

	if active, err := e.repo.GetActiveWorkflowByDocument(ctx, req.DocumentID); err != nil {
		return nil, err
	} else if active != nil {
		return nil, errConflict(map[string]any{
			"workflow_id":   active.ID,
			"current_stage": active.CurrentStage,
			"status":        active.Status,
		}, "document %s already has an active workflow", req.DocumentID)
	}

	configs, err := e.config.Stages(ctx, req.DocumentType)
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		return nil, errConfigMissing(req.DocumentType)
	}

	skip, err := resolveSkips(configs, req.SkipStages)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	slaHours := configs[0].StandardSLAHours
	if req.CustomSLAHours != nil {
		slaHours = *req.CustomSLAHours
	}

	wf := &Workflow{
		ID:           uuid.New(),
		DocumentID:   req.DocumentID,
		DocumentType: req.DocumentType,
		Priority:     req.Priority,
		CurrentStage: 1,
		Status:       WorkflowInReview,
		SLADueDate:   now.Add(time.Duration(slaHours) * time.Hour),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	stages := make([]WorkflowStage, 0, len(configs))
	for _, cfg := range configs {
		stage := WorkflowStage{
			ID:           uuid.New(),
			WorkflowID:   wf.ID,
			StageNumber:  cfg.StageNumber,
			StageName:    cfg.StageName,
			RequiredRole: cfg.RequiredRole,
			Status:       StagePending,
		}
		if skip[cfg.StageNumber] {
			stage.Status = StageSkipped
			completed := now
			stage.CompletedAt = &completed
		}
		stages = append(stages, stage)
	}

	var events []notifications.Event
	var result InitiateResult
	err = e.repo.InTx(ctx, func(tx Repository) error {
		if err := tx.CreateWorkflow(ctx, wf, stages); err != nil {
			return err
		}

		adv, err := e.advance(ctx, tx, wf, stages, configs, 1, req.AssignSpecificApprovers, now)
		if err != nil {
			return err
		}
		if err := tx.UpdateWorkflow(ctx, wf); err != nil {
			return err
		}

		entry := e.newHistoryEntry(wf, ActionInitiate, 1, SystemActor, SystemActor, now)
		entry.PreviousStatus = WorkflowPending
		entry.IsWithinSLA = true
		if err := appendEntries(ctx, tx, entry, adv.entries); err != nil {
			return err
		}

		result = InitiateResult{
			WorkflowID:     wf.ID,
			CurrentStage:   wf.CurrentStage,
			Status:         wf.Status,
			NextApproverID: adv.approverID,
			SLADueDate:     wf.SLADueDate,
		}
		events = adv.events
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.dispatch(ctx, events)
	return &result, nil
}

// resolveSkips validates skipStages against configuration: only stages with
// can_skip may be skipped; naming a required stage is a validation error.
func resolveSkips(configs []StageConfiguration, skipStages []int) (map[int]bool, error) {
	byNumber := make(map[int]StageConfiguration, len(configs))
	for _, cfg := range configs {
		byNumber[cfg.StageNumber] = cfg
	}
	skip := make(map[int]bool, len(skipStages))
	for _, n := range skipStages {
		cfg, ok := byNumber[n]
		if !ok {
			return nil, errValidation("skipStages names unknown stage %d", n)
		}
		if !cfg.CanSkip {
			return nil, errValidation("stage %d (%s) is required and cannot be skipped", n, cfg.StageName)
		}
		skip[n] = true
	}
	return skip, nil
}

type DecisionType string

const (
	DecisionApprove  DecisionType = "approve"
	DecisionReject   DecisionType = "reject"
	DecisionReassign DecisionType = "reassign"
)

type DecisionRequest struct {
	Decision         DecisionType
	Comments         string
	RejectionReason  string
	ReassignTo       *uuid.UUID
	TimeSpentMinutes *int
}

type DecisionResult struct {
	WorkflowID          uuid.UUID      `json:"workflow_id"`
	Status              WorkflowStatus `json:"status"`
	CurrentStage        int            `json:"current_stage"`
	IsComplete          bool           `json:"is_complete"`
	NextApproverID      *uuid.UUID     `json:"next_approver_id,omitempty"`
	NextStageUnassigned bool           `json:"next_stage_unassigned,omitempty"`
	IsWithinSLA         bool           `json:"is_within_sla"`
}

// ProcessApproval applies one approver's decision to the current stage. The
// pending queue item is the authorization and idempotency guard: completing
// it is a conditional update, so of two concurrent decisions exactly one wins
// and the loser observes Unauthorized.
func (e *Engine) ProcessApproval(ctx context.Context, workflowID, approverID uuid.UUID, dec DecisionRequest) (*DecisionResult, error) {
	switch dec.Decision {
	case DecisionApprove:
	case DecisionReject:
		if dec.RejectionReason == "" {
			return nil, errValidation("rejectionReason is required when rejecting")
		}
	case DecisionReassign:
		if dec.ReassignTo == nil {
			return nil, errValidation("reassignTo is required when reassigning")
		}
	default:
		return nil, errValidationDetails(
			map[string]any{"allowed": []DecisionType{DecisionApprove, DecisionReject, DecisionReassign}},
			"invalid decision %q", dec.Decision)
	}

	now := e.now().UTC()
	var events []notifications.Event
	var result DecisionResult

	err := e.repo.InTx(ctx, func(tx Repository) error {
		wf, err := tx.GetWorkflow(ctx, workflowID)
		if err != nil {
			return err
		}
		if wf == nil {
			return errNotFound("workflow %s not found", workflowID)
		}
		if wf.Status.Terminal() {
			return errConflict(map[string]any{"status": wf.Status},
				"workflow %s is already %s", workflowID, wf.Status)
		}

		claimStatus := QueueCompleted
		if dec.Decision == DecisionReassign {
			claimStatus = QueueCancelled
		}
		claimed, err := tx.CompletePendingQueueItem(ctx, workflowID, approverID, claimStatus, now)
		if err != nil {
			return err
		}
		if !claimed {
			return errUnauthorized("approver %s has no pending claim on workflow %s", approverID, workflowID)
		}

		stages, err := tx.ListStages(ctx, workflowID)
		if err != nil {
			return err
		}
		current := findStage(stages, wf.CurrentStage)
		if current == nil {
			return errStorage("load current stage", fmt.Errorf("workflow %s has no stage %d", workflowID, wf.CurrentStage))
		}

		withinSLA := !now.After(wf.SLADueDate)
		prevStatus := wf.Status

		switch dec.Decision {
		case DecisionReassign:
			target := *dec.ReassignTo
			item := e.newQueueItem(wf, target, estimatedMinutesFor(nil), now)
			if err := tx.CreateQueueItem(ctx, item); err != nil {
				return err
			}
			wf.CurrentApproverID = &target
			wf.UpdatedAt = now
			if err := tx.UpdateWorkflow(ctx, wf); err != nil {
				return err
			}
			entry := e.newHistoryEntry(wf, ActionReassign, wf.CurrentStage, approverID.String(), current.RequiredRole, now)
			entry.PreviousStatus = prevStatus
			entry.Comments = optString(dec.Comments)
			entry.TimeSpentMinutes = dec.TimeSpentMinutes
			entry.IsWithinSLA = withinSLA
			if err := tx.AppendHistory(ctx, entry); err != nil {
				return err
			}
			events = append(events, notifications.Event{WorkflowID: wf.ID, ApproverID: target, Event: notifications.EventStageAssigned})
			result = DecisionResult{
				WorkflowID:     wf.ID,
				Status:         wf.Status,
				CurrentStage:   wf.CurrentStage,
				NextApproverID: &target,
				IsWithinSLA:    withinSLA,
			}
			return nil

		case DecisionReject:
			approver := approverID
			current.Status = StageRejected
			current.ApproverID = &approver
			completed := now
			current.CompletedAt = &completed
			if err := tx.UpdateStage(ctx, current); err != nil {
				return err
			}

			if err := ensureTransition(prevStatus, WorkflowRejected); err != nil {
				return err
			}
			wf.Status = WorkflowRejected
			wf.RejectionReason = optString(dec.RejectionReason)
			wf.CurrentApproverID = nil
			wf.UpdatedAt = now
			if err := tx.UpdateWorkflow(ctx, wf); err != nil {
				return err
			}

			entry := e.newHistoryEntry(wf, ActionReject, wf.CurrentStage, approverID.String(), current.RequiredRole, now)
			entry.PreviousStatus = prevStatus
			entry.Decision = optString(string(DecisionReject))
			entry.Comments = optString(dec.Comments)
			entry.RejectionReason = optString(dec.RejectionReason)
			entry.TimeSpentMinutes = dec.TimeSpentMinutes
			entry.IsWithinSLA = withinSLA
			if err := tx.AppendHistory(ctx, entry); err != nil {
				return err
			}

			events = append(events, notifications.Event{WorkflowID: wf.ID, ApproverID: approverID, Event: notifications.EventWorkflowRejected})
			result = DecisionResult{
				WorkflowID:   wf.ID,
				Status:       WorkflowRejected,
				CurrentStage: wf.CurrentStage,
				IsComplete:   true,
				IsWithinSLA:  withinSLA,
			}
			return nil
		}

		// Approve path.
		approver := approverID
		current.Status = StageApproved
		current.ApproverID = &approver
		completed := now
		current.CompletedAt = &completed
		if err := tx.UpdateStage(ctx, current); err != nil {
			return err
		}

		configs, err := e.config.Stages(ctx, wf.DocumentType)
		if err != nil {
			return err
		}
		if len(configs) == 0 {
			return errConfigMissing(wf.DocumentType)
		}

		decidedStage := wf.CurrentStage
		adv, err := e.advance(ctx, tx, wf, stages, configs, decidedStage+1, nil, now)
		if err != nil {
			return err
		}
		if wf.Status != prevStatus {
			if err := ensureTransition(prevStatus, wf.Status); err != nil {
				return err
			}
		}
		wf.UpdatedAt = now
		if err := tx.UpdateWorkflow(ctx, wf); err != nil {
			return err
		}

		entry := e.newHistoryEntry(wf, ActionApprove, decidedStage, approverID.String(), current.RequiredRole, now)
		entry.PreviousStatus = prevStatus
		entry.Decision = optString(string(DecisionApprove))
		entry.Comments = optString(dec.Comments)
		entry.TimeSpentMinutes = dec.TimeSpentMinutes
		entry.IsWithinSLA = withinSLA
		// The deciding approval is appended ahead of any auto-approval entries
		// the advancement produced, so the ledger reads in causal order.
		if err := appendEntries(ctx, tx, entry, adv.entries); err != nil {
			return err
		}

		events = append(events, adv.events...)
		if wf.Status == WorkflowApproved {
			events = append(events, notifications.Event{WorkflowID: wf.ID, ApproverID: approverID, Event: notifications.EventWorkflowApproved})
		}

		result = DecisionResult{
			WorkflowID:          wf.ID,
			Status:              wf.Status,
			CurrentStage:        wf.CurrentStage,
			IsComplete:          wf.Status == WorkflowApproved,
			NextApproverID:      adv.approverID,
			NextStageUnassigned: adv.unassigned,
			IsWithinSLA:         withinSLA,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.dispatch(ctx, events)
	return &result, nil
}

// advanceOutcome reports where an advancement pass landed.
type advanceOutcome struct {
	approverID *uuid.UUID
	unassigned bool
	events     []notifications.Event
	entries    []*HistoryEntry
}

func appendEntries(ctx context.Context, tx Repository, first *HistoryEntry, rest []*HistoryEntry) error {
	if err := tx.AppendHistory(ctx, first); err != nil {
		return err
	}
	for _, entry := range rest {
		if err := tx.AppendHistory(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// advance walks stage records starting at fromStage, consuming skipped and
// auto-approved stages, until it reaches a stage needing a human decision
// (which it assigns) or runs out of stages (workflow approved). The
// workflow's current stage, status and approver pointer are updated in
// place; the caller persists the workflow row.
func (e *Engine) advance(
	ctx context.Context,
	tx Repository,
	wf *Workflow,
	stages []WorkflowStage,
	configs []StageConfiguration,
	fromStage int,
	explicit map[int]uuid.UUID,
	now time.Time,
) (*advanceOutcome, error) {
	cfgByNumber := make(map[int]StageConfiguration, len(configs))
	maxStage := 0
	for _, cfg := range configs {
		cfgByNumber[cfg.StageNumber] = cfg
		if cfg.StageNumber > maxStage {
			maxStage = cfg.StageNumber
		}
	}

	out := &advanceOutcome{}
	lastDecided := wf.CurrentStage
	for n := fromStage; n <= maxStage; n++ {
		stage := findStage(stages, n)
		cfg, ok := cfgByNumber[n]
		if stage == nil || !ok {
			return nil, errStorage("advance workflow", fmt.Errorf("workflow %s missing stage %d", wf.ID, n))
		}
		if stage.Status == StageSkipped {
			lastDecided = n
			continue
		}
		if cfg.AutoApproves(wf.Priority) {
			stage.Status = StageAutoApproved
			completed := now
			stage.CompletedAt = &completed
			if err := tx.UpdateStage(ctx, stage); err != nil {
				return nil, err
			}
			entry := e.newHistoryEntry(wf, ActionApprove, n, SystemActor, SystemActor, now)
			entry.PreviousStatus = wf.Status
			entry.Decision = optString(string(StageAutoApproved))
			entry.IsWithinSLA = !now.After(wf.SLADueDate)
			out.entries = append(out.entries, entry)
			lastDecided = n
			continue
		}

		// Found the next actionable stage.
		wf.CurrentStage = n
		wf.Status = WorkflowInReview
		stage.Status = StageInProgress
		if err := tx.UpdateStage(ctx, stage); err != nil {
			return nil, err
		}

		approver, resolved, err := e.resolveApprover(ctx, wf, n, explicit)
		if err != nil {
			return nil, err
		}
		if !resolved {
			// Unassigned stage: surfaced to the caller rather than stalling
			// silently. The sweeper or a reassignment fills it later.
			wf.CurrentApproverID = nil
			out.unassigned = true
			return out, nil
		}

		item := e.newQueueItem(wf, approver, estimatedMinutesFor(&cfg), now)
		if err := tx.CreateQueueItem(ctx, item); err != nil {
			return nil, err
		}
		wf.CurrentApproverID = &approver
		out.approverID = &approver
		out.events = append(out.events, notifications.Event{WorkflowID: wf.ID, ApproverID: approver, Event: notifications.EventStageAssigned})
		return out, nil
	}

	// Every remaining stage was skipped or auto-approved.
	wf.Status = WorkflowApproved
	wf.CurrentStage = lastDecided
	wf.CurrentApproverID = nil
	return out, nil
}

func (e *Engine) resolveApprover(ctx context.Context, wf *Workflow, stage int, explicit map[int]uuid.UUID) (uuid.UUID, bool, error) {
	if explicit != nil {
		if id, ok := explicit[stage]; ok {
			return id, true, nil
		}
	}
	return e.approvers.ResolveDefault(ctx, wf.DocumentType, stage)
}

func (e *Engine) newQueueItem(wf *Workflow, approver uuid.UUID, estimatedMinutes int, now time.Time) *QueueItem {
	return &QueueItem{
		ID:                     uuid.New(),
		WorkflowID:             wf.ID,
		ApproverID:             approver,
		Priority:               wf.Priority,
		Status:                 QueuePending,
		AssignedAt:             now,
		EstimatedReviewMinutes: estimatedMinutes,
	}
}

func (e *Engine) newHistoryEntry(wf *Workflow, action HistoryAction, stage int, actorID, actorRole string, now time.Time) *HistoryEntry {
	return &HistoryEntry{
		ID:          uuid.New(),
		WorkflowID:  wf.ID,
		Action:      action,
		StageNumber: stage,
		ActorID:     actorID,
		ActorRole:   actorRole,
		NewStatus:   wf.Status,
		CreatedAt:   now,
	}
}

func (e *Engine) dispatch(ctx context.Context, events []notifications.Event) {
	for _, ev := range events {
		if err := e.notifier.Dispatch(ctx, ev); err != nil {
			e.logger.Warn("notification dispatch failed",
				zap.String("workflow_id", ev.WorkflowID.String()),
				zap.String("event", ev.Event),
				zap.Error(err))
		}
	}
}

// StageView is one row of the per-stage breakdown in a status response.
type StageView struct {
	StageNumber int         `json:"stage_number"`
	StageName   string      `json:"stage_name"`
	Status      StageStatus `json:"status"`
	ApproverID  *uuid.UUID  `json:"approver_id,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	IsCurrent   bool        `json:"is_current"`
}

type WorkflowStatusResult struct {
	Workflow *Workflow      `json:"workflow"`
	Stages   []StageView    `json:"stages"`
	History  []HistoryEntry `json:"history,omitempty"`
}

// GetWorkflowStatus returns the workflow, its stage breakdown, and
// optionally the ordered history ledger.
func (e *Engine) GetWorkflowStatus(ctx context.Context, workflowID uuid.UUID, includeHistory bool) (*WorkflowStatusResult, error) {
	wf, err := e.repo.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, errNotFound("workflow %s not found", workflowID)
	}

	stages, err := e.repo.ListStages(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	result := &WorkflowStatusResult{Workflow: wf, Stages: make([]StageView, 0, len(stages))}
	for _, stage := range stages {
		result.Stages = append(result.Stages, StageView{
			StageNumber: stage.StageNumber,
			StageName:   stage.StageName,
			Status:      stage.Status,
			ApproverID:  stage.ApproverID,
			CompletedAt: stage.CompletedAt,
			IsCurrent: stage.StageNumber == wf.CurrentStage &&
				stage.Status != StageApproved && stage.Status != StageRejected,
		})
	}

	if includeHistory {
		history, err := e.repo.ListHistory(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		result.History = history
	}
	return result, nil
}

// CancelWorkflow is an administrative terminal transition, not a concurrency
// primitive: pending queue items are cancelled and the reason is retained.
func (e *Engine) CancelWorkflow(ctx context.Context, workflowID, adminID uuid.UUID, reason string) (*Workflow, error) {
	if reason == "" {
		return nil, errValidation("cancelReason is required")
	}

	now := e.now().UTC()
	var cancelled *Workflow
	err := e.repo.InTx(ctx, func(tx Repository) error {
		wf, err := tx.GetWorkflow(ctx, workflowID)
		if err != nil {
			return err
		}
		if wf == nil {
			return errNotFound("workflow %s not found", workflowID)
		}
		if wf.Status.Terminal() {
			return errConflict(map[string]any{"status": wf.Status},
				"workflow %s is already %s", workflowID, wf.Status)
		}

		prevStatus := wf.Status
		if err := ensureTransition(prevStatus, WorkflowCancelled); err != nil {
			return err
		}

		if _, err := tx.CancelPendingQueueItems(ctx, workflowID, now); err != nil {
			return err
		}

		wf.Status = WorkflowCancelled
		wf.RejectionReason = optString(reason)
		wf.CurrentApproverID = nil
		wf.UpdatedAt = now
		if err := tx.UpdateWorkflow(ctx, wf); err != nil {
			return err
		}

		entry := e.newHistoryEntry(wf, ActionCancel, wf.CurrentStage, adminID.String(), "admin", now)
		entry.PreviousStatus = prevStatus
		entry.RejectionReason = optString(reason)
		entry.IsWithinSLA = !now.After(wf.SLADueDate)
		if err := tx.AppendHistory(ctx, entry); err != nil {
			return err
		}

		cancelled = wf
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.dispatch(ctx, []notifications.Event{{WorkflowID: cancelled.ID, ApproverID: adminID, Event: notifications.EventWorkflowCancelled}})
	return cancelled, nil
}

func ensureTransition(from, to WorkflowStatus) error {
	if from == to {
		return nil
	}
	if !workflowStatusMachine.CanTransition(string(from), string(to)) {
		return errConflict(map[string]any{"from": from, "to": to},
			"illegal workflow transition %s -> %s", from, to)
	}
	return nil
}

func findStage(stages []WorkflowStage, number int) *WorkflowStage {
	for i := range stages {
		if stages[i].StageNumber == number {
			return &stages[i]
		}
	}
	return nil
}

func estimatedMinutesFor(cfg *StageConfiguration) int {
	if cfg == nil {
		return 60
	}
	return cfg.StandardSLAHours * 60
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
