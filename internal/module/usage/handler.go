package usage

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mailvet/server/internal/utils/middleware"
)

// Handler handles HTTP requests for usage tracking.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new usage handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers the usage routes under the billing group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	billing := r.Group("/billing")
	{
		billing.GET("/usage", h.GetUsage)
		billing.GET("/allowance", h.GetAllowance)
		billing.POST("/usage", h.RecordAnalysis)
	}
}

// RecordAnalysisRequest represents an analysis event to record.
type RecordAnalysisRequest struct {
	MemberEmail string   `json:"member_email" binding:"required,email"`
	Verdict     string   `json:"verdict" binding:"required,oneof=clean suspicious malicious"`
	Findings    []string `json:"findings"`
	LatencyMS   int      `json:"latency_ms" binding:"min=0"`
}

// GetUsage returns analysis statistics for the current billing period.
func (h *Handler) GetUsage(c *gin.Context) {
	accountID := middleware.GetAccountID(c)
	if accountID == uuid.Nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	stats, err := h.service.GetStats(c.Request.Context(), accountID)
	if err != nil {
		h.logger.Error("usage stats failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetAllowance returns the allowance status for the current billing period.
func (h *Handler) GetAllowance(c *gin.Context) {
	accountID := middleware.GetAccountID(c)
	if accountID == uuid.Nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	status, err := h.service.GetAllowanceStatus(c.Request.Context(), accountID)
	if err != nil {
		h.logger.Error("allowance status failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// RecordAnalysis stores a completed analysis event.
func (h *Handler) RecordAnalysis(c *gin.Context) {
	accountID := middleware.GetAccountID(c)
	if accountID == uuid.Nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req RecordAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := h.service.RecordAnalysis(c.Request.Context(), accountID, RecordInput{
		MemberEmail: req.MemberEmail,
		Verdict:     req.Verdict,
		Findings:    req.Findings,
		LatencyMS:   req.LatencyMS,
	})
	if err != nil {
		h.logger.Error("record analysis failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusCreated, record)
}
