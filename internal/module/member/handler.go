package member

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mailvet/server/internal/module/billing"
	"github.com/mailvet/server/internal/utils/middleware"
)

// Handler handles HTTP requests for member management.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new member handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers the member routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	members := r.Group("/members")
	{
		members.GET("", h.ListMembers)
		members.POST("", h.AddMember)
		members.DELETE("/:id", h.RemoveMember)
		members.POST("/enforce", h.EnforceSeatLimits)
		members.GET("/authorization", h.CheckAuthorization)
	}
}

// ListMembers returns the account's members in seniority order.
func (h *Handler) ListMembers(c *gin.Context) {
	accountID := middleware.GetAccountID(c)
	if accountID == uuid.Nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	members, err := h.service.ListMembers(c.Request.Context(), accountID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	responses := make([]*MemberResponse, len(members))
	for i, m := range members {
		responses[i] = m.ToResponse()
	}
	c.JSON(http.StatusOK, ListMembersResponse{Members: responses, Total: len(responses)})
}

// AddMember adds a member to the account's subscription.
func (h *Handler) AddMember(c *gin.Context) {
	accountID := middleware.GetAccountID(c)
	if accountID == uuid.Nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m, err := h.service.AddMember(c.Request.Context(), accountID, req.Email, req.Label, accountID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m.ToResponse())
}

// RemoveMember deletes a member.
func (h *Handler) RemoveMember(c *gin.Context) {
	accountID := middleware.GetAccountID(c)
	if accountID == uuid.Nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	memberID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid member id"})
		return
	}

	if err := h.service.RemoveMember(c.Request.Context(), accountID, memberID); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}

// EnforceSeatLimits runs a seat enforcement pass for the account.
func (h *Handler) EnforceSeatLimits(c *gin.Context) {
	accountID := middleware.GetAccountID(c)
	if accountID == uuid.Nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	report, err := h.service.EnforceSeatLimits(c.Request.Context(), accountID)
	if err != nil {
		var partial *PartialEnforcementError
		if errors.As(err, &partial) {
			// Report what was attempted alongside the failure so the caller
			// can decide whether to retry now or let the next pass catch up.
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":  "enforcement_incomplete",
				"detail": partial.Error(),
				"report": report,
			})
			return
		}
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// CheckAuthorization reports whether an email holds a usable seat.
// Errors answer "not authorized": a broken lookup never grants access.
func (h *Handler) CheckAuthorization(c *gin.Context) {
	accountID := middleware.GetAccountID(c)
	if accountID == uuid.Nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	email := c.Query("email")
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email query parameter required"})
		return
	}

	result, err := h.service.IsAuthorized(c.Request.Context(), accountID, email)
	if err != nil {
		h.logger.Warn("authorization check failed",
			zap.String("account_id", accountID.String()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, AuthorizationResult{Authorized: false, Reason: "system-error"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) handleError(c *gin.Context, err error) {
	var seatErr *SeatLimitError
	switch {
	case errors.As(err, &seatErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "seat_limit_exceeded",
			"current": seatErr.Current,
			"max":     seatErr.Max,
		})
	case errors.Is(err, ErrDuplicateMember):
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate_member"})
	case errors.Is(err, ErrMemberNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "member_not_found"})
	case errors.Is(err, ErrInvalidEmail):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_email"})
	case errors.Is(err, billing.ErrSubscriptionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "subscription_not_found"})
	default:
		h.logger.Error("member request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
