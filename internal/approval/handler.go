package approval

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// documentIDPattern rejects malformed document ids before any persistence
// access. Stricter than uuid.Parse, which also accepts braced and urn forms.
var documentIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

type Handler struct {
	engine *Engine
	logger *zap.Logger
}

func NewHandler(engine *Engine, logger *zap.Logger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/approval-workflow", h.Initiate)
	rg.PUT("/approval-workflow", h.Decide)
	rg.GET("/approval-workflow", h.Status)
	rg.DELETE("/approval-workflow", h.Cancel)
	rg.GET("/approval-queue", h.Queue)
}

type initiateRequest struct {
	DocumentID              string            `json:"documentId" binding:"required"`
	DocumentType            string            `json:"documentType" binding:"required"`
	PriorityLevel           string            `json:"priorityLevel"`
	CustomSLAHours          *int              `json:"customSlaHours"`
	SkipStages              []int             `json:"skipStages"`
	AssignSpecificApprovers map[string]string `json:"assignSpecificApprovers"`
}

func (h *Handler) Initiate(c *gin.Context) {
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, errValidation("invalid request body: %v", err))
		return
	}

	if !documentIDPattern.MatchString(req.DocumentID) {
		h.respondError(c, errValidation("documentId must be a UUID"))
		return
	}
	documentID, err := uuid.Parse(req.DocumentID)
	if err != nil {
		h.respondError(c, errValidation("documentId must be a UUID"))
		return
	}

	assignments, err := parseStageAssignments(req.AssignSpecificApprovers)
	if err != nil {
		h.respondError(c, err)
		return
	}

	result, err := h.engine.InitiateWorkflow(c.Request.Context(), InitiateRequest{
		DocumentID:              documentID,
		DocumentType:            DocumentType(req.DocumentType),
		Priority:                PriorityLevel(req.PriorityLevel),
		CustomSLAHours:          req.CustomSLAHours,
		SkipStages:              req.SkipStages,
		AssignSpecificApprovers: assignments,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

func parseStageAssignments(raw map[string]string) (map[int]uuid.UUID, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	assignments := make(map[int]uuid.UUID, len(raw))
	for stageStr, approverStr := range raw {
		stage, err := strconv.Atoi(stageStr)
		if err != nil || stage < 1 {
			return nil, errValidation("assignSpecificApprovers keys must be stage numbers, got %q", stageStr)
		}
		approver, err := uuid.Parse(approverStr)
		if err != nil {
			return nil, errValidation("assignSpecificApprovers[%d] must be an approver UUID", stage)
		}
		assignments[stage] = approver
	}
	return assignments, nil
}

type decisionRequest struct {
	WorkflowID       string `json:"workflowId" binding:"required"`
	ApproverUserID   string `json:"approverUserId" binding:"required"`
	Decision         string `json:"decision" binding:"required"`
	Comments         string `json:"comments"`
	RejectionReason  string `json:"rejectionReason"`
	ReassignTo       string `json:"reassignTo"`
	TimeSpentMinutes *int   `json:"timeSpentMinutes"`
}

func (h *Handler) Decide(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, errValidation("invalid request body: %v", err))
		return
	}

	workflowID, err := uuid.Parse(req.WorkflowID)
	if err != nil {
		h.respondError(c, errValidation("workflowId must be a UUID"))
		return
	}
	approverID, err := uuid.Parse(req.ApproverUserID)
	if err != nil {
		h.respondError(c, errValidation("approverUserId must be a UUID"))
		return
	}

	decision := DecisionRequest{
		Decision:         DecisionType(req.Decision),
		Comments:         req.Comments,
		RejectionReason:  req.RejectionReason,
		TimeSpentMinutes: req.TimeSpentMinutes,
	}
	if req.ReassignTo != "" {
		target, err := uuid.Parse(req.ReassignTo)
		if err != nil {
			h.respondError(c, errValidation("reassignTo must be a UUID"))
			return
		}
		decision.ReassignTo = &target
	}

	result, err := h.engine.ProcessApproval(c.Request.Context(), workflowID, approverID, decision)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) Status(c *gin.Context) {
	workflowIDStr := c.Query("workflowId")
	if workflowIDStr == "" {
		h.respondError(c, errValidation("workflowId query parameter is required"))
		return
	}
	workflowID, err := uuid.Parse(workflowIDStr)
	if err != nil {
		h.respondError(c, errValidation("workflowId must be a UUID"))
		return
	}
	includeHistory := c.Query("includeHistory") == "true"

	result, err := h.engine.GetWorkflowStatus(c.Request.Context(), workflowID, includeHistory)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type cancelRequest struct {
	WorkflowID   string `json:"workflowId" binding:"required"`
	AdminUserID  string `json:"adminUserId" binding:"required"`
	CancelReason string `json:"cancelReason"`
}

func (h *Handler) Cancel(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, errValidation("invalid request body: %v", err))
		return
	}

	workflowID, err := uuid.Parse(req.WorkflowID)
	if err != nil {
		h.respondError(c, errValidation("workflowId must be a UUID"))
		return
	}
	adminID, err := uuid.Parse(req.AdminUserID)
	if err != nil {
		h.respondError(c, errValidation("adminUserId must be a UUID"))
		return
	}

	wf, err := h.engine.CancelWorkflow(c.Request.Context(), workflowID, adminID, req.CancelReason)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, wf)
}

func (h *Handler) Queue(c *gin.Context) {
	req := QueueRequest{
		IsAdmin: c.Query("isAdmin") == "true",
		SortBy:  QueueSortKey(c.Query("sortBy")),
	}

	if approverStr := c.Query("approverUserId"); approverStr != "" {
		approverID, err := uuid.Parse(approverStr)
		if err != nil {
			h.respondError(c, errValidation("approverUserId must be a UUID"))
			return
		}
		req.ApproverID = &approverID
	}
	if priorityStr := c.Query("priorityLevel"); priorityStr != "" {
		priority := PriorityLevel(priorityStr)
		req.Priority = &priority
	}
	if docTypeStr := c.Query("documentType"); docTypeStr != "" {
		docType := DocumentType(docTypeStr)
		req.DocumentType = &docType
	}
	req.OverdueOnly = c.Query("overdue") == "true"

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			h.respondError(c, errValidation("limit must be an integer"))
			return
		}
		req.Limit = limit
	}
	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			h.respondError(c, errValidation("offset must be an integer"))
			return
		}
		req.Offset = offset
	}

	page, err := h.engine.GetApprovalQueue(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

func (h *Handler) respondError(c *gin.Context, err error) {
	var apErr *Error
	if !errors.As(err, &apErr) {
		h.logger.Error("unhandled error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "internal server error"})
		return
	}

	status := http.StatusInternalServerError
	message := apErr.Message
	switch apErr.Kind {
	case KindValidation:
		status = http.StatusBadRequest
	case KindNotFound:
		status = http.StatusNotFound
	case KindConflict:
		status = http.StatusConflict
	case KindUnauthorized:
		status = http.StatusForbidden
	case KindConfigurationMissing:
		status = http.StatusUnprocessableEntity
	case KindStorageFailure:
		// Raw storage errors stay in the logs.
		h.logger.Error("storage failure", zap.Error(apErr))
		message = "a storage error prevented the operation"
	}

	body := gin.H{"error": apErr.Kind, "message": message}
	if len(apErr.Details) > 0 {
		body["details"] = apErr.Details
	}
	c.JSON(status, body)
}
