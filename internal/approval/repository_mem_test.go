package approval

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryRepository implements Repository with the same conditional-update
// semantics as the Postgres implementation, so engine and sweeper tests can
// run whole scenarios without a database.
type memoryRepository struct {
	mu        sync.Mutex
	workflows map[uuid.UUID]*Workflow
	stages    map[uuid.UUID][]WorkflowStage
	queue     []*QueueItem
	history   []*HistoryEntry
	docNames  map[uuid.UUID]string
	failWith  error
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		workflows: make(map[uuid.UUID]*Workflow),
		stages:    make(map[uuid.UUID][]WorkflowStage),
		docNames:  make(map[uuid.UUID]string),
	}
}

func (m *memoryRepository) InTx(_ context.Context, fn func(Repository) error) error {
	return fn(m)
}

func (m *memoryRepository) CreateWorkflow(_ context.Context, wf *Workflow, stages []WorkflowStage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	copied := *wf
	m.workflows[wf.ID] = &copied
	m.stages[wf.ID] = append([]WorkflowStage(nil), stages...)
	return nil
}

func (m *memoryRepository) GetWorkflow(_ context.Context, id uuid.UUID) (*Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	wf, ok := m.workflows[id]
	if !ok {
		return nil, nil
	}
	copied := *wf
	return &copied, nil
}

func (m *memoryRepository) GetActiveWorkflowByDocument(_ context.Context, documentID uuid.UUID) (*Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	for _, wf := range m.workflows {
		if wf.DocumentID == documentID && !wf.Status.Terminal() {
			copied := *wf
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memoryRepository) UpdateWorkflow(_ context.Context, wf *Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	copied := *wf
	m.workflows[wf.ID] = &copied
	return nil
}

func (m *memoryRepository) ListStages(_ context.Context, workflowID uuid.UUID) ([]WorkflowStage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	return append([]WorkflowStage(nil), m.stages[workflowID]...), nil
}

func (m *memoryRepository) UpdateStage(_ context.Context, stage *WorkflowStage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	stages := m.stages[stage.WorkflowID]
	for i := range stages {
		if stages[i].StageNumber == stage.StageNumber {
			stages[i] = *stage
			return nil
		}
	}
	return nil
}

func (m *memoryRepository) CreateQueueItem(_ context.Context, item *QueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	copied := *item
	m.queue = append(m.queue, &copied)
	return nil
}

func (m *memoryRepository) CompletePendingQueueItem(_ context.Context, workflowID, approverID uuid.UUID, status QueueStatus, completedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return false, m.failWith
	}
	for _, item := range m.queue {
		if item.WorkflowID == workflowID && item.ApproverID == approverID && item.Status == QueuePending {
			item.Status = status
			done := completedAt
			item.CompletedAt = &done
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryRepository) CancelPendingQueueItems(_ context.Context, workflowID uuid.UUID, completedAt time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return 0, m.failWith
	}
	count := 0
	for _, item := range m.queue {
		if item.WorkflowID == workflowID && item.Status == QueuePending {
			item.Status = QueueCancelled
			done := completedAt
			item.CompletedAt = &done
			count++
		}
	}
	return count, nil
}

func (m *memoryRepository) matchingEntries(q QueueQuery) []QueueEntry {
	var entries []QueueEntry
	for _, item := range m.queue {
		if item.Status != QueuePending {
			continue
		}
		wf := m.workflows[item.WorkflowID]
		if wf == nil {
			continue
		}
		if q.ApproverID != nil && item.ApproverID != *q.ApproverID {
			continue
		}
		if q.Priority != nil && item.Priority != *q.Priority {
			continue
		}
		if q.DocumentType != nil && wf.DocumentType != *q.DocumentType {
			continue
		}
		if q.OverdueOnly && !wf.SLADueDate.Before(q.Now) {
			continue
		}
		entry := QueueEntry{
			QueueItem:       *item,
			DocumentID:      wf.DocumentID,
			DocumentType:    wf.DocumentType,
			WorkflowStatus:  wf.Status,
			CurrentStage:    wf.CurrentStage,
			SLADueDate:      wf.SLADueDate,
			IsOverdue:       wf.IsOverdue,
			EscalationLevel: wf.EscalationLevel,
		}
		if name, ok := m.docNames[wf.DocumentID]; ok {
			entry.DocumentName = &name
		}
		entries = append(entries, entry)
	}
	return entries
}

func (m *memoryRepository) ListQueueItems(_ context.Context, q QueueQuery) ([]QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	entries := m.matchingEntries(q)
	sort.SliceStable(entries, func(i, j int) bool {
		switch q.SortBy {
		case SortByPriority:
			ri, rj := entries[i].Priority.Rank(), entries[j].Priority.Rank()
			if ri != rj {
				return ri > rj
			}
			return entries[i].SLADueDate.Before(entries[j].SLADueDate)
		case SortByAssignedDate:
			return entries[i].AssignedAt.Before(entries[j].AssignedAt)
		default:
			return entries[i].SLADueDate.Before(entries[j].SLADueDate)
		}
	})
	if q.Offset > len(entries) {
		return nil, nil
	}
	entries = entries[q.Offset:]
	if q.Limit > 0 && q.Limit < len(entries) {
		entries = entries[:q.Limit]
	}
	return entries, nil
}

func (m *memoryRepository) CountQueueItems(_ context.Context, q QueueQuery) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return 0, m.failWith
	}
	return len(m.matchingEntries(q)), nil
}

func (m *memoryRepository) GetQueueStatistics(_ context.Context, q QueueQuery) (*QueueStatistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	stats := &QueueStatistics{
		ByPriority: make(map[PriorityLevel]int),
		ByStage:    make(map[int]int),
	}
	dayStart := time.Date(q.Now.Year(), q.Now.Month(), q.Now.Day(), 0, 0, 0, 0, q.Now.Location())
	dayEnd := dayStart.Add(24 * time.Hour)
	for _, entry := range m.matchingEntries(q) {
		stats.Total++
		if entry.SLADueDate.Before(q.Now) {
			stats.Overdue++
		} else if !entry.SLADueDate.After(q.Now.Add(2 * time.Hour)) {
			stats.Urgent++
		}
		if !entry.SLADueDate.Before(dayStart) && entry.SLADueDate.Before(dayEnd) {
			stats.DueToday++
		}
		stats.ByPriority[entry.Priority]++
		stats.ByStage[entry.CurrentStage]++
	}
	return stats, nil
}

func (m *memoryRepository) AppendHistory(_ context.Context, entry *HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	copied := *entry
	m.history = append(m.history, &copied)
	return nil
}

func (m *memoryRepository) ListHistory(_ context.Context, workflowID uuid.UUID) ([]HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	var entries []HistoryEntry
	for _, entry := range m.history {
		if entry.WorkflowID == workflowID {
			entries = append(entries, *entry)
		}
	}
	return entries, nil
}

func (m *memoryRepository) ListOverdueWorkflows(_ context.Context, now time.Time) ([]Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	var overdue []Workflow
	for _, wf := range m.workflows {
		if !wf.Status.Terminal() && wf.SLADueDate.Before(now) {
			overdue = append(overdue, *wf)
		}
	}
	sort.Slice(overdue, func(i, j int) bool { return overdue[i].SLADueDate.Before(overdue[j].SLADueDate) })
	return overdue, nil
}

// pendingItems returns the live pending queue for invariant assertions.
func (m *memoryRepository) pendingItems(workflowID uuid.UUID) []QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []QueueItem
	for _, item := range m.queue {
		if item.WorkflowID == workflowID && item.Status == QueuePending {
			pending = append(pending, *item)
		}
	}
	return pending
}

func (m *memoryRepository) itemsFor(workflowID uuid.UUID) []QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []QueueItem
	for _, item := range m.queue {
		if item.WorkflowID == workflowID {
			items = append(items, *item)
		}
	}
	return items
}

func (m *memoryRepository) historyFor(workflowID uuid.UUID, action HistoryAction) []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []HistoryEntry
	for _, entry := range m.history {
		if entry.WorkflowID == workflowID && entry.Action == action {
			entries = append(entries, *entry)
		}
	}
	return entries
}
