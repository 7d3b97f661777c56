package approval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// QueueSortKey selects the ordering of the approval queue. Keys are
// whitelisted; anything else is rejected before a query is built.
type QueueSortKey string

const (
	SortByDueDate      QueueSortKey = "due_date"
	SortByPriority     QueueSortKey = "priority"
	SortByAssignedDate QueueSortKey = "assigned_date"
)

func (k QueueSortKey) Valid() bool {
	switch k {
	case SortByDueDate, SortByPriority, SortByAssignedDate:
		return true
	}
	return false
}

// QueueQuery narrows the pending queue. Now anchors the overdue/urgent/
// due-today windows so listing and statistics agree on a single instant.
type QueueQuery struct {
	ApproverID   *uuid.UUID
	Priority     *PriorityLevel
	DocumentType *DocumentType
	OverdueOnly  bool
	SortBy       QueueSortKey
	Limit        int
	Offset       int
	Now          time.Time
}

// Repository is the engine's storage contract. Implementations must make
// InTx atomic: every state transition (workflow row, stage sub-records,
// queue items, history append) commits or rolls back as one unit.
type Repository interface {
	InTx(ctx context.Context, fn func(Repository) error) error

	CreateWorkflow(ctx context.Context, wf *Workflow, stages []WorkflowStage) error
	GetWorkflow(ctx context.Context, id uuid.UUID) (*Workflow, error)
	GetActiveWorkflowByDocument(ctx context.Context, documentID uuid.UUID) (*Workflow, error)
	UpdateWorkflow(ctx context.Context, wf *Workflow) error

	ListStages(ctx context.Context, workflowID uuid.UUID) ([]WorkflowStage, error)
	UpdateStage(ctx context.Context, stage *WorkflowStage) error

	CreateQueueItem(ctx context.Context, item *QueueItem) error
	// CompletePendingQueueItem is the concurrency gate for decisions: a
	// conditional update from pending to the given terminal status, keyed by
	// workflow and approver. Returns false when no pending claim matched.
	CompletePendingQueueItem(ctx context.Context, workflowID, approverID uuid.UUID, status QueueStatus, completedAt time.Time) (bool, error)
	CancelPendingQueueItems(ctx context.Context, workflowID uuid.UUID, completedAt time.Time) (int, error)
	ListQueueItems(ctx context.Context, q QueueQuery) ([]QueueEntry, error)
	CountQueueItems(ctx context.Context, q QueueQuery) (int, error)
	GetQueueStatistics(ctx context.Context, q QueueQuery) (*QueueStatistics, error)

	AppendHistory(ctx context.Context, entry *HistoryEntry) error
	ListHistory(ctx context.Context, workflowID uuid.UUID) ([]HistoryEntry, error)

	ListOverdueWorkflows(ctx context.Context, now time.Time) ([]Workflow, error)
}

type postgresRepository struct {
	db  *sqlx.DB
	ext sqlx.ExtContext
}

// NewRepository creates the Postgres-backed repository.
func NewRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db, ext: db}
}

func (r *postgresRepository) InTx(ctx context.Context, fn func(Repository) error) error {
	if _, inTx := r.ext.(*sqlx.Tx); inTx {
		return fn(r)
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errStorage("begin transaction", err)
	}
	txRepo := &postgresRepository{db: r.db, ext: tx}
	if err := fn(txRepo); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errStorage("commit transaction", err)
	}
	return nil
}

func (r *postgresRepository) CreateWorkflow(ctx context.Context, wf *Workflow, stages []WorkflowStage) error {
	const query = `
		INSERT INTO approval_workflows (
			id, document_id, document_type, priority, current_stage, status,
			sla_due_date, is_overdue, escalation_level, escalation_reason,
			rejection_reason, resubmission_count, current_approver_id,
			created_at, updated_at
		) VALUES (
			:id, :document_id, :document_type, :priority, :current_stage, :status,
			:sla_due_date, :is_overdue, :escalation_level, :escalation_reason,
			:rejection_reason, :resubmission_count, :current_approver_id,
			:created_at, :updated_at
		)`
	if _, err := sqlx.NamedExecContext(ctx, r.ext, query, wf); err != nil {
		return errStorage("insert workflow", err)
	}

	const stageQuery = `
		INSERT INTO approval_workflow_stages (
			id, workflow_id, stage_number, stage_name, required_role,
			status, approver_id, completed_at
		) VALUES (
			:id, :workflow_id, :stage_number, :stage_name, :required_role,
			:status, :approver_id, :completed_at
		)`
	for i := range stages {
		if _, err := sqlx.NamedExecContext(ctx, r.ext, stageQuery, &stages[i]); err != nil {
			return errStorage("insert workflow stage", err)
		}
	}
	return nil
}

func (r *postgresRepository) GetWorkflow(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	var wf Workflow
	err := sqlx.GetContext(ctx, r.ext, &wf, "SELECT * FROM approval_workflows WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errStorage("get workflow", err)
	}
	return &wf, nil
}

func (r *postgresRepository) GetActiveWorkflowByDocument(ctx context.Context, documentID uuid.UUID) (*Workflow, error) {
	var wf Workflow
	err := sqlx.GetContext(ctx, r.ext, &wf, `
		SELECT * FROM approval_workflows
		WHERE document_id = $1 AND status NOT IN ('approved', 'rejected', 'cancelled')
		ORDER BY created_at DESC LIMIT 1`, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errStorage("get active workflow", err)
	}
	return &wf, nil
}

func (r *postgresRepository) UpdateWorkflow(ctx context.Context, wf *Workflow) error {
	const query = `
		UPDATE approval_workflows SET
			current_stage = :current_stage,
			status = :status,
			sla_due_date = :sla_due_date,
			is_overdue = :is_overdue,
			escalation_level = :escalation_level,
			escalation_reason = :escalation_reason,
			rejection_reason = :rejection_reason,
			resubmission_count = :resubmission_count,
			current_approver_id = :current_approver_id,
			updated_at = :updated_at
		WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, r.ext, query, wf); err != nil {
		return errStorage("update workflow", err)
	}
	return nil
}

func (r *postgresRepository) ListStages(ctx context.Context, workflowID uuid.UUID) ([]WorkflowStage, error) {
	var stages []WorkflowStage
	err := sqlx.SelectContext(ctx, r.ext, &stages,
		"SELECT * FROM approval_workflow_stages WHERE workflow_id = $1 ORDER BY stage_number", workflowID)
	if err != nil {
		return nil, errStorage("list workflow stages", err)
	}
	return stages, nil
}

func (r *postgresRepository) UpdateStage(ctx context.Context, stage *WorkflowStage) error {
	const query = `
		UPDATE approval_workflow_stages SET
			status = :status,
			approver_id = :approver_id,
			completed_at = :completed_at
		WHERE workflow_id = :workflow_id AND stage_number = :stage_number`
	if _, err := sqlx.NamedExecContext(ctx, r.ext, query, stage); err != nil {
		return errStorage("update workflow stage", err)
	}
	return nil
}

func (r *postgresRepository) CreateQueueItem(ctx context.Context, item *QueueItem) error {
	const query = `
		INSERT INTO approval_queue_items (
			id, workflow_id, approver_id, priority, status,
			assigned_at, started_at, completed_at, estimated_review_minutes
		) VALUES (
			:id, :workflow_id, :approver_id, :priority, :status,
			:assigned_at, :started_at, :completed_at, :estimated_review_minutes
		)`
	if _, err := sqlx.NamedExecContext(ctx, r.ext, query, item); err != nil {
		return errStorage("insert queue item", err)
	}
	return nil
}

func (r *postgresRepository) CompletePendingQueueItem(ctx context.Context, workflowID, approverID uuid.UUID, status QueueStatus, completedAt time.Time) (bool, error) {
	res, err := r.ext.ExecContext(ctx, `
		UPDATE approval_queue_items
		SET status = $1, completed_at = $2
		WHERE workflow_id = $3 AND approver_id = $4 AND status = 'pending'`,
		status, completedAt, workflowID, approverID)
	if err != nil {
		return false, errStorage("complete queue item", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errStorage("complete queue item", err)
	}
	return n > 0, nil
}

func (r *postgresRepository) CancelPendingQueueItems(ctx context.Context, workflowID uuid.UUID, completedAt time.Time) (int, error) {
	res, err := r.ext.ExecContext(ctx, `
		UPDATE approval_queue_items
		SET status = 'cancelled', completed_at = $1
		WHERE workflow_id = $2 AND status = 'pending'`,
		completedAt, workflowID)
	if err != nil {
		return 0, errStorage("cancel queue items", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errStorage("cancel queue items", err)
	}
	return int(n), nil
}

// queueFilter builds the shared WHERE clause for queue queries. Filters are
// appended as numbered placeholders with bound args only; no user input is
// ever concatenated into SQL text.
func queueFilter(q QueueQuery) (string, []any) {
	where := []string{"qi.status = 'pending'"}
	var args []any

	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if q.ApproverID != nil {
		add("qi.approver_id = $%d", *q.ApproverID)
	}
	if q.Priority != nil {
		add("qi.priority = $%d", *q.Priority)
	}
	if q.DocumentType != nil {
		add("w.document_type = $%d", *q.DocumentType)
	}
	if q.OverdueOnly {
		add("w.sla_due_date < $%d", q.Now)
	}
	return strings.Join(where, " AND "), args
}

// priorityOrderExpr ranks priorities in SQL; values are fixed literals, not
// caller input.
const priorityOrderExpr = `CASE qi.priority
	WHEN 'critical' THEN 5 WHEN 'urgent' THEN 4 WHEN 'high' THEN 3
	WHEN 'normal' THEN 2 ELSE 1 END`

func queueOrder(key QueueSortKey) string {
	switch key {
	case SortByPriority:
		return priorityOrderExpr + " DESC, w.sla_due_date ASC"
	case SortByAssignedDate:
		return "qi.assigned_at ASC"
	default:
		return "w.sla_due_date ASC"
	}
}

const queueSelectColumns = `
	qi.id, qi.workflow_id, qi.approver_id, qi.priority, qi.status,
	qi.assigned_at, qi.started_at, qi.completed_at, qi.estimated_review_minutes,
	w.document_id, w.document_type, d.name AS document_name,
	w.status AS workflow_status, w.current_stage, w.sla_due_date,
	w.is_overdue, w.escalation_level`

const queueFromClause = `
	FROM approval_queue_items qi
	JOIN approval_workflows w ON w.id = qi.workflow_id
	LEFT JOIN documents d ON d.id = w.document_id`

func (r *postgresRepository) ListQueueItems(ctx context.Context, q QueueQuery) ([]QueueEntry, error) {
	where, args := queueFilter(q)
	query := fmt.Sprintf("SELECT %s %s WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d",
		queueSelectColumns, queueFromClause, where, queueOrder(q.SortBy), len(args)+1, len(args)+2)
	args = append(args, q.Limit, q.Offset)

	var entries []QueueEntry
	if err := sqlx.SelectContext(ctx, r.ext, &entries, query, args...); err != nil {
		return nil, errStorage("list queue items", err)
	}
	return entries, nil
}

func (r *postgresRepository) CountQueueItems(ctx context.Context, q QueueQuery) (int, error) {
	where, args := queueFilter(q)
	query := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", queueFromClause, where)

	var count int
	if err := sqlx.GetContext(ctx, r.ext, &count, query, args...); err != nil {
		return 0, errStorage("count queue items", err)
	}
	return count, nil
}

func (r *postgresRepository) GetQueueStatistics(ctx context.Context, q QueueQuery) (*QueueStatistics, error) {
	where, args := queueFilter(q)

	urgentCutoff := q.Now.Add(2 * time.Hour)
	dayStart := time.Date(q.Now.Year(), q.Now.Month(), q.Now.Day(), 0, 0, 0, 0, q.Now.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	totalsQuery := fmt.Sprintf(`
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE w.sla_due_date < $%d) AS overdue,
			COUNT(*) FILTER (WHERE w.sla_due_date >= $%d AND w.sla_due_date <= $%d) AS urgent,
			COUNT(*) FILTER (WHERE w.sla_due_date >= $%d AND w.sla_due_date < $%d) AS due_today
		%s WHERE %s`,
		len(args)+1, len(args)+1, len(args)+2, len(args)+3, len(args)+4,
		queueFromClause, where)
	totalsArgs := append(append([]any{}, args...), q.Now, urgentCutoff, dayStart, dayEnd)

	var totals struct {
		Total    int `db:"total"`
		Overdue  int `db:"overdue"`
		Urgent   int `db:"urgent"`
		DueToday int `db:"due_today"`
	}
	if err := sqlx.GetContext(ctx, r.ext, &totals, totalsQuery, totalsArgs...); err != nil {
		return nil, errStorage("queue statistics totals", err)
	}

	stats := &QueueStatistics{
		Total:      totals.Total,
		Overdue:    totals.Overdue,
		Urgent:     totals.Urgent,
		DueToday:   totals.DueToday,
		ByPriority: make(map[PriorityLevel]int),
		ByStage:    make(map[int]int),
	}

	priorityQuery := fmt.Sprintf("SELECT qi.priority AS key, COUNT(*) AS count %s WHERE %s GROUP BY qi.priority", queueFromClause, where)
	var priorityRows []struct {
		Key   PriorityLevel `db:"key"`
		Count int           `db:"count"`
	}
	if err := sqlx.SelectContext(ctx, r.ext, &priorityRows, priorityQuery, args...); err != nil {
		return nil, errStorage("queue statistics by priority", err)
	}
	for _, row := range priorityRows {
		stats.ByPriority[row.Key] = row.Count
	}

	stageQuery := fmt.Sprintf("SELECT w.current_stage AS key, COUNT(*) AS count %s WHERE %s GROUP BY w.current_stage", queueFromClause, where)
	var stageRows []struct {
		Key   int `db:"key"`
		Count int `db:"count"`
	}
	if err := sqlx.SelectContext(ctx, r.ext, &stageRows, stageQuery, args...); err != nil {
		return nil, errStorage("queue statistics by stage", err)
	}
	for _, row := range stageRows {
		stats.ByStage[row.Key] = row.Count
	}

	return stats, nil
}

func (r *postgresRepository) AppendHistory(ctx context.Context, entry *HistoryEntry) error {
	const query = `
		INSERT INTO approval_history (
			id, workflow_id, action, stage_number, actor_id, actor_role,
			decision, comments, rejection_reason, previous_status, new_status,
			time_spent_minutes, is_within_sla, metadata, created_at
		) VALUES (
			:id, :workflow_id, :action, :stage_number, :actor_id, :actor_role,
			:decision, :comments, :rejection_reason, :previous_status, :new_status,
			:time_spent_minutes, :is_within_sla, :metadata, :created_at
		)`
	if _, err := sqlx.NamedExecContext(ctx, r.ext, query, entry); err != nil {
		return errStorage("append history", err)
	}
	return nil
}

func (r *postgresRepository) ListHistory(ctx context.Context, workflowID uuid.UUID) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	err := sqlx.SelectContext(ctx, r.ext, &entries,
		"SELECT * FROM approval_history WHERE workflow_id = $1 ORDER BY created_at, id", workflowID)
	if err != nil {
		return nil, errStorage("list history", err)
	}
	return entries, nil
}

func (r *postgresRepository) ListOverdueWorkflows(ctx context.Context, now time.Time) ([]Workflow, error) {
	var workflows []Workflow
	err := sqlx.SelectContext(ctx, r.ext, &workflows, `
		SELECT * FROM approval_workflows
		WHERE status NOT IN ('approved', 'rejected', 'cancelled') AND sla_due_date < $1
		ORDER BY sla_due_date`, now)
	if err != nil {
		return nil, errStorage("list overdue workflows", err)
	}
	return workflows, nil
}
