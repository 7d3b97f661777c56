package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"contractor-hub/contractor-portal/contractor-portal-backend/internal/notifications"
)

// EscalationSweeper scans for SLA-breached workflows and escalates them.
// It is stateless and invoked on a fixed interval by an external scheduler.
type EscalationSweeper struct {
	repo      Repository
	config    ConfigStore
	approvers ApproverDirectory
	notifier  notifications.Dispatcher
	logger    *zap.Logger
	now       func() time.Time
}

func NewEscalationSweeper(
	repo Repository,
	config ConfigStore,
	approvers ApproverDirectory,
	notifier notifications.Dispatcher,
	logger *zap.Logger,
) *EscalationSweeper {
	return &EscalationSweeper{
		repo:      repo,
		config:    config,
		approvers: approvers,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
	}
}

// Reassignment records a queue handoff performed by a sweep.
type Reassignment struct {
	WorkflowID uuid.UUID `json:"workflow_id"`
	Stage      int       `json:"stage"`
	ApproverID uuid.UUID `json:"approver_id"`
}

type SweepResult struct {
	EscalatedCount    int            `json:"escalated_count"`
	NotifiedApprovers []uuid.UUID    `json:"notified_approvers"`
	NewAssignments    []Reassignment `json:"new_assignments"`
}

// EscalateOverdueApprovals runs one sweep. Failures are isolated per
// workflow: a broken row is logged and skipped, never fatal to the batch.
func (s *EscalationSweeper) EscalateOverdueApprovals(ctx context.Context) (*SweepResult, error) {
	now := s.now().UTC()
	overdue, err := s.repo.ListOverdueWorkflows(ctx, now)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{
		NotifiedApprovers: []uuid.UUID{},
		NewAssignments:    []Reassignment{},
	}
	for i := range overdue {
		wf := overdue[i]
		escalated, target, err := s.escalateOne(ctx, &wf, now)
		if err != nil {
			s.logger.Warn("escalation skipped",
				zap.String("workflow_id", wf.ID.String()),
				zap.String("kind", string(KindOf(err))),
				zap.Error(err))
			continue
		}
		if !escalated {
			continue
		}
		result.EscalatedCount++
		if target != nil {
			result.NotifiedApprovers = append(result.NotifiedApprovers, *target)
			result.NewAssignments = append(result.NewAssignments, Reassignment{
				WorkflowID: wf.ID,
				Stage:      wf.CurrentStage,
				ApproverID: *target,
			})
			ev := notifications.Event{WorkflowID: wf.ID, ApproverID: *target, Event: notifications.EventEscalated}
			if err := s.notifier.Dispatch(ctx, ev); err != nil {
				s.logger.Warn("escalation notification failed",
					zap.String("workflow_id", wf.ID.String()), zap.Error(err))
			}
		}
	}

	s.logger.Info("escalation sweep finished",
		zap.Int("overdue", len(overdue)),
		zap.Int("escalated", result.EscalatedCount))
	return result, nil
}

// escalateOne escalates a single overdue workflow if a new breach threshold
// has been crossed since its last escalation. Re-running a sweep inside the
// current threshold window only refreshes the overdue flag.
func (s *EscalationSweeper) escalateOne(ctx context.Context, wf *Workflow, now time.Time) (bool, *uuid.UUID, error) {
	configs, err := s.config.Stages(ctx, wf.DocumentType)
	if err != nil {
		return false, nil, err
	}
	var stageCfg *StageConfiguration
	for i := range configs {
		if configs[i].StageNumber == wf.CurrentStage {
			stageCfg = &configs[i]
			break
		}
	}
	if stageCfg == nil {
		return false, nil, errConfigMissing(wf.DocumentType)
	}

	if !thresholdCrossed(wf, stageCfg.EscalationThresholdHours, now) {
		if wf.IsOverdue {
			return false, nil, nil
		}
		// Past due but inside the current escalation window: flag only.
		err := s.repo.InTx(ctx, func(tx Repository) error {
			wf.IsOverdue = true
			wf.UpdatedAt = now
			return tx.UpdateWorkflow(ctx, wf)
		})
		return false, nil, err
	}

	var target *uuid.UUID
	err = s.repo.InTx(ctx, func(tx Repository) error {
		prevStatus := wf.Status
		if err := ensureTransition(prevStatus, WorkflowEscalated); err != nil {
			return err
		}

		wf.IsOverdue = true
		wf.EscalationLevel++
		wf.Status = WorkflowEscalated
		reason := fmt.Sprintf("SLA breached at stage %d; escalation level %d", wf.CurrentStage, wf.EscalationLevel)
		wf.EscalationReason = &reason
		wf.UpdatedAt = now

		resolved, ok, err := s.approvers.ResolveEscalationTarget(ctx, wf.DocumentType, wf.CurrentStage, wf.EscalationLevel)
		if err != nil {
			return err
		}
		if ok {
			// Supersede the pending claim and hand the stage to the target.
			if _, err := tx.CancelPendingQueueItems(ctx, wf.ID, now); err != nil {
				return err
			}
			item := &QueueItem{
				ID:                     uuid.New(),
				WorkflowID:             wf.ID,
				ApproverID:             resolved,
				Priority:               wf.Priority,
				Status:                 QueuePending,
				AssignedAt:             now,
				EstimatedReviewMinutes: estimatedMinutesFor(stageCfg),
			}
			if err := tx.CreateQueueItem(ctx, item); err != nil {
				return err
			}
			wf.CurrentApproverID = &resolved
			target = &resolved
		}

		if err := tx.UpdateWorkflow(ctx, wf); err != nil {
			return err
		}

		entry := &HistoryEntry{
			ID:             uuid.New(),
			WorkflowID:     wf.ID,
			Action:         ActionEscalate,
			StageNumber:    wf.CurrentStage,
			ActorID:        SystemActor,
			ActorRole:      SystemActor,
			Comments:       &reason,
			PreviousStatus: prevStatus,
			NewStatus:      wf.Status,
			IsWithinSLA:    false,
			CreatedAt:      now,
		}
		return tx.AppendHistory(ctx, entry)
	})
	if err != nil {
		return false, nil, err
	}
	return true, target, nil
}

// thresholdCrossed reports whether the next escalation threshold is behind
// now. Level n fires once now passes slaDueDate + n * threshold; a
// non-positive threshold allows only the initial breach escalation.
func thresholdCrossed(wf *Workflow, thresholdHours int, now time.Time) bool {
	if thresholdHours <= 0 {
		return wf.EscalationLevel == 0 && now.After(wf.SLADueDate)
	}
	next := wf.SLADueDate.Add(time.Duration(wf.EscalationLevel*thresholdHours) * time.Hour)
	return now.After(next)
}
