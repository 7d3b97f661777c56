package approval

import (
	"context"

	"github.com/google/uuid"
)

const (
	defaultQueueLimit = 20
	maxQueueLimit     = 100
)

// QueueRequest selects a slice of the pending approval queue. Admins may
// query across approvers; everyone else must name themselves.
type QueueRequest struct {
	ApproverID   *uuid.UUID
	IsAdmin      bool
	Priority     *PriorityLevel
	DocumentType *DocumentType
	OverdueOnly  bool
	SortBy       QueueSortKey
	Limit        int
	Offset       int
}

type Pagination struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type QueuePage struct {
	Items      []QueueEntry     `json:"items"`
	Pagination Pagination       `json:"pagination"`
	Statistics *QueueStatistics `json:"statistics"`
}

// GetApprovalQueue returns pending queue items joined with workflow and
// document summaries, plus aggregate statistics over the same filter.
func (e *Engine) GetApprovalQueue(ctx context.Context, req QueueRequest) (*QueuePage, error) {
	if !req.IsAdmin && req.ApproverID == nil {
		return nil, errValidation("approverUserId is required for non-admin queue queries")
	}
	if req.Priority != nil && !req.Priority.Valid() {
		return nil, errValidationDetails(
			map[string]any{"allowed": PriorityLevels()},
			"invalid priority level %q", *req.Priority)
	}
	if req.SortBy == "" {
		req.SortBy = SortByDueDate
	}
	if !req.SortBy.Valid() {
		return nil, errValidationDetails(
			map[string]any{"allowed": []QueueSortKey{SortByDueDate, SortByPriority, SortByAssignedDate}},
			"invalid sort key %q", req.SortBy)
	}
	if req.Limit <= 0 {
		req.Limit = defaultQueueLimit
	}
	if req.Limit > maxQueueLimit {
		req.Limit = maxQueueLimit
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	// Admins see the whole queue unless they name an approver to narrow it.
	query := QueueQuery{
		ApproverID:   req.ApproverID,
		Priority:     req.Priority,
		DocumentType: req.DocumentType,
		OverdueOnly:  req.OverdueOnly,
		SortBy:       req.SortBy,
		Limit:        req.Limit,
		Offset:       req.Offset,
		Now:          e.now().UTC(),
	}

	items, err := e.repo.ListQueueItems(ctx, query)
	if err != nil {
		return nil, err
	}
	total, err := e.repo.CountQueueItems(ctx, query)
	if err != nil {
		return nil, err
	}
	stats, err := e.repo.GetQueueStatistics(ctx, query)
	if err != nil {
		return nil, err
	}

	return &QueuePage{
		Items:      items,
		Pagination: Pagination{Total: total, Limit: req.Limit, Offset: req.Offset},
		Statistics: stats,
	}, nil
}
