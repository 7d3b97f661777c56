package approval

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowInReview  WorkflowStatus = "in_review"
	WorkflowApproved  WorkflowStatus = "approved"
	WorkflowRejected  WorkflowStatus = "rejected"
	WorkflowCancelled WorkflowStatus = "cancelled"
	WorkflowEscalated WorkflowStatus = "escalated"
)

// Terminal reports whether no further stage mutation is permitted.
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowApproved || s == WorkflowRejected || s == WorkflowCancelled
}

type StageStatus string

const (
	StagePending      StageStatus = "pending"
	StageInProgress   StageStatus = "in_progress"
	StageApproved     StageStatus = "approved"
	StageRejected     StageStatus = "rejected"
	StageSkipped      StageStatus = "skipped"
	StageAutoApproved StageStatus = "auto_approved"
)

type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueInProgress QueueStatus = "in_progress"
	QueueCompleted  QueueStatus = "completed"
	QueueSkipped    QueueStatus = "skipped"
	QueueCancelled  QueueStatus = "cancelled"
)

type PriorityLevel string

const (
	PriorityLow      PriorityLevel = "low"
	PriorityNormal   PriorityLevel = "normal"
	PriorityHigh     PriorityLevel = "high"
	PriorityUrgent   PriorityLevel = "urgent"
	PriorityCritical PriorityLevel = "critical"
)

var priorityRank = map[PriorityLevel]int{
	PriorityLow:      1,
	PriorityNormal:   2,
	PriorityHigh:     3,
	PriorityUrgent:   4,
	PriorityCritical: 5,
}

func (p PriorityLevel) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// Rank orders priorities low < normal < high < urgent < critical.
func (p PriorityLevel) Rank() int {
	return priorityRank[p]
}

// PriorityLevels lists the accepted values, for validation messages.
func PriorityLevels() []PriorityLevel {
	return []PriorityLevel{PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent, PriorityCritical}
}

type HistoryAction string

const (
	ActionInitiate HistoryAction = "initiate"
	ActionApprove  HistoryAction = "approve"
	ActionReject   HistoryAction = "reject"
	ActionEscalate HistoryAction = "escalate"
	ActionReassign HistoryAction = "reassign"
	ActionCancel   HistoryAction = "cancel"
	ActionComment  HistoryAction = "comment"
)

// DocumentType is data-driven: any value with a configured stage set is valid.
type DocumentType string

// StageConfiguration describes one ordered step of a document type's
// approval sequence. Immutable at engine runtime.
type StageConfiguration struct {
	DocumentType             DocumentType    `json:"document_type" db:"document_type"`
	StageNumber              int             `json:"stage_number" db:"stage_number"`
	StageName                string          `json:"stage_name" db:"stage_name"`
	RequiredRole             string          `json:"required_role" db:"required_role"`
	AllowedRoles             pq.StringArray  `json:"allowed_roles" db:"allowed_roles"`
	StandardSLAHours         int             `json:"standard_sla_hours" db:"standard_sla_hours"`
	EscalationThresholdHours int             `json:"escalation_threshold_hours" db:"escalation_threshold_hours"`
	IsRequired               bool            `json:"is_required" db:"is_required"`
	CanSkip                  bool            `json:"can_skip" db:"can_skip"`
	AutoApprovalRules        json.RawMessage `json:"auto_approval_rules,omitempty" db:"auto_approval_rules"`
	IsParallel               bool            `json:"is_parallel" db:"is_parallel"`
}

type autoApprovalRule struct {
	PriorityAtMost PriorityLevel `json:"priority_at_most"`
}

// AutoApproves reports whether the stage's auto-approval rules fire for a
// workflow at the given priority.
func (c StageConfiguration) AutoApproves(priority PriorityLevel) bool {
	if len(c.AutoApprovalRules) == 0 {
		return false
	}
	var rule autoApprovalRule
	if err := json.Unmarshal(c.AutoApprovalRules, &rule); err != nil {
		return false
	}
	if !rule.PriorityAtMost.Valid() {
		return false
	}
	return priority.Rank() <= rule.PriorityAtMost.Rank()
}

// Workflow is the per-document approval instance.
type Workflow struct {
	ID                uuid.UUID      `json:"id" db:"id"`
	DocumentID        uuid.UUID      `json:"document_id" db:"document_id"`
	DocumentType      DocumentType   `json:"document_type" db:"document_type"`
	Priority          PriorityLevel  `json:"priority" db:"priority"`
	CurrentStage      int            `json:"current_stage" db:"current_stage"`
	Status            WorkflowStatus `json:"status" db:"status"`
	SLADueDate        time.Time      `json:"sla_due_date" db:"sla_due_date"`
	IsOverdue         bool           `json:"is_overdue" db:"is_overdue"`
	EscalationLevel   int            `json:"escalation_level" db:"escalation_level"`
	EscalationReason  *string        `json:"escalation_reason,omitempty" db:"escalation_reason"`
	RejectionReason   *string        `json:"rejection_reason,omitempty" db:"rejection_reason"`
	ResubmissionCount int            `json:"resubmission_count" db:"resubmission_count"`
	CurrentApproverID *uuid.UUID     `json:"current_approver_id,omitempty" db:"current_approver_id"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at" db:"updated_at"`
}

// WorkflowStage is the per-stage sub-record of a workflow, one row per
// configured stage number.
type WorkflowStage struct {
	ID           uuid.UUID   `json:"id" db:"id"`
	WorkflowID   uuid.UUID   `json:"workflow_id" db:"workflow_id"`
	StageNumber  int         `json:"stage_number" db:"stage_number"`
	StageName    string      `json:"stage_name" db:"stage_name"`
	RequiredRole string      `json:"required_role" db:"required_role"`
	Status       StageStatus `json:"status" db:"status"`
	ApproverID   *uuid.UUID  `json:"approver_id,omitempty" db:"approver_id"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty" db:"completed_at"`
}

// QueueItem is the unit of assigned, actionable work for a single approver
// on a single workflow stage. At most one pending item exists per workflow.
type QueueItem struct {
	ID                     uuid.UUID     `json:"id" db:"id"`
	WorkflowID             uuid.UUID     `json:"workflow_id" db:"workflow_id"`
	ApproverID             uuid.UUID     `json:"approver_id" db:"approver_id"`
	Priority               PriorityLevel `json:"priority" db:"priority"`
	Status                 QueueStatus   `json:"status" db:"status"`
	AssignedAt             time.Time     `json:"assigned_at" db:"assigned_at"`
	StartedAt              *time.Time    `json:"started_at,omitempty" db:"started_at"`
	CompletedAt            *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
	EstimatedReviewMinutes int           `json:"estimated_review_minutes" db:"estimated_review_minutes"`
}

// HistoryEntry is one row of the append-only workflow ledger. Ordering by
// CreatedAt is the canonical timeline; entries are never mutated.
type HistoryEntry struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	WorkflowID       uuid.UUID       `json:"workflow_id" db:"workflow_id"`
	Action           HistoryAction   `json:"action" db:"action"`
	StageNumber      int             `json:"stage_number" db:"stage_number"`
	ActorID          string          `json:"actor_id" db:"actor_id"`
	ActorRole        string          `json:"actor_role" db:"actor_role"`
	Decision         *string         `json:"decision,omitempty" db:"decision"`
	Comments         *string         `json:"comments,omitempty" db:"comments"`
	RejectionReason  *string         `json:"rejection_reason,omitempty" db:"rejection_reason"`
	PreviousStatus   WorkflowStatus  `json:"previous_status" db:"previous_status"`
	NewStatus        WorkflowStatus  `json:"new_status" db:"new_status"`
	TimeSpentMinutes *int            `json:"time_spent_minutes,omitempty" db:"time_spent_minutes"`
	IsWithinSLA      bool            `json:"is_within_sla" db:"is_within_sla"`
	Metadata         json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// QueueEntry is a queue item joined with its workflow and document summary,
// as returned by the approval-queue listing.
type QueueEntry struct {
	QueueItem
	DocumentID      uuid.UUID      `json:"document_id" db:"document_id"`
	DocumentType    DocumentType   `json:"document_type" db:"document_type"`
	DocumentName    *string        `json:"document_name,omitempty" db:"document_name"`
	WorkflowStatus  WorkflowStatus `json:"workflow_status" db:"workflow_status"`
	CurrentStage    int            `json:"current_stage" db:"current_stage"`
	SLADueDate      time.Time      `json:"sla_due_date" db:"sla_due_date"`
	IsOverdue       bool           `json:"is_overdue" db:"is_overdue"`
	EscalationLevel int            `json:"escalation_level" db:"escalation_level"`
}

// QueueStatistics aggregates the pending queue for a dashboard header.
type QueueStatistics struct {
	Total      int                   `json:"total"`
	Overdue    int                   `json:"overdue"`
	Urgent     int                   `json:"urgent"`
	DueToday   int                   `json:"due_today"`
	ByPriority map[PriorityLevel]int `json:"by_priority"`
	ByStage    map[int]int           `json:"by_stage"`
}
