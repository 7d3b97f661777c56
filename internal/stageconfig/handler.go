package stageconfig

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"contractor-hub/contractor-portal/contractor-portal-backend/internal/approval"
)

type Handler struct {
	service *Service
	logger  *zap.Logger
}

func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/stage-configurations/types", h.ListTypes)
	rg.GET("/stage-configurations", h.GetStages)
	rg.PUT("/stage-configurations", h.ReplaceStages)
}

func (h *Handler) ListTypes(c *gin.Context) {
	types, err := h.service.ListTypes(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document_types": types})
}

func (h *Handler) GetStages(c *gin.Context) {
	docType := c.Query("documentType")
	if docType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "documentType query parameter is required"})
		return
	}
	stages, err := h.service.GetStages(c.Request.Context(), approval.DocumentType(docType))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document_type": docType, "stages": stages})
}

type replaceRequest struct {
	DocumentType string                        `json:"documentType" binding:"required"`
	Stages       []approval.StageConfiguration `json:"stages" binding:"required"`
}

func (h *Handler) ReplaceStages(c *gin.Context) {
	var req replaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid request body: " + err.Error()})
		return
	}

	err := h.service.ReplaceStages(c.Request.Context(), approval.DocumentType(req.DocumentType), req.Stages)
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "stage configuration rejected",
			"details": gin.H{"problems": vErr.Problems},
		})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document_type": req.DocumentType, "stages": len(req.Stages)})
}

func (h *Handler) fail(c *gin.Context, err error) {
	h.logger.Error("stage configuration request failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_failure", "message": "a storage error prevented the operation"})
}
