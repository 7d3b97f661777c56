package notifications

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event names mirror the workflow actions that trigger a notification.
const (
	EventStageAssigned     = "stage_assigned"
	EventWorkflowApproved  = "workflow_approved"
	EventWorkflowRejected  = "workflow_rejected"
	EventWorkflowCancelled = "workflow_cancelled"
	EventEscalated         = "escalated"
)

// Event is the trigger payload handed to the delivery layer. Delivery
// mechanics (email, websocket, SMS) live outside this service.
type Event struct {
	WorkflowID uuid.UUID `json:"workflow_id"`
	ApproverID uuid.UUID `json:"approver_id"`
	Event      string    `json:"event"`
}

// Dispatcher receives workflow events for delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
}

// LogDispatcher records events to the application log. Used where no
// delivery backend is wired, and as the development default.
type LogDispatcher struct {
	logger *zap.Logger
}

func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Dispatch(_ context.Context, ev Event) error {
	d.logger.Info("notification event",
		zap.String("workflow_id", ev.WorkflowID.String()),
		zap.String("approver_id", ev.ApproverID.String()),
		zap.String("event", ev.Event))
	return nil
}
