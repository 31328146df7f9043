package billing

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mailvet/server/internal/module/billing/provider"
	"github.com/mailvet/server/internal/utils/middleware"
)

// WebhookParser verifies and parses raw provider webhook payloads.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*provider.WebhookEvent, error)
}

// Handler handles HTTP requests for billing.
type Handler struct {
	service *Service
	webhook WebhookParser
	logger  *zap.Logger
}

// NewHandler creates a new billing handler.
func NewHandler(service *Service, webhook WebhookParser, logger *zap.Logger) *Handler {
	return &Handler{service: service, webhook: webhook, logger: logger}
}

// RegisterRoutes registers the authenticated billing routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	billing := r.Group("/billing")
	{
		billing.GET("/plans", h.ListPlans)
		billing.GET("/subscription", h.GetSubscription)
		billing.POST("/subscription/reconcile", h.ReconcileSubscription)
		billing.POST("/subscription/cancel", h.CancelSubscription)
	}
}

// RegisterWebhookRoutes registers the unauthenticated webhook endpoint.
// Signature verification is the authentication.
func (h *Handler) RegisterWebhookRoutes(r *gin.RouterGroup) {
	r.POST("/billing/webhook", h.HandleWebhook)
}

// ListPlans returns the plan catalog.
func (h *Handler) ListPlans(c *gin.Context) {
	plans := h.service.ListPlans()
	responses := make([]*PlanResponse, len(plans))
	for i := range plans {
		responses[i] = plans[i].ToResponse()
	}
	c.JSON(http.StatusOK, GetPlansResponse{Plans: responses})
}

// GetSubscription returns the account's subscription.
func (h *Handler) GetSubscription(c *gin.Context) {
	accountID := middleware.GetAccountID(c)
	if accountID == uuid.Nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sub, err := h.service.GetSubscription(c.Request.Context(), accountID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub.ToResponse())
}

// ReconcileSubscription runs a reconciliation pass for the account.
func (h *Handler) ReconcileSubscription(c *gin.Context) {
	accountID := middleware.GetAccountID(c)
	if accountID == uuid.Nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		req.ForceImmediate = false
	}

	report, err := h.service.Reconcile(c.Request.Context(), accountID, ReconcileOptions{
		ForceImmediate: req.ForceImmediate,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// CancelSubscription cancels the account's subscription.
func (h *Handler) CancelSubscription(c *gin.Context) {
	accountID := middleware.GetAccountID(c)
	if accountID == uuid.Nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req CancelSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, err := h.service.CancelSubscription(c.Request.Context(), accountID, CancelRequest{
		Mode:     CancelMode(req.Mode),
		Reason:   req.Reason,
		Feedback: req.Feedback,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub.ToResponse())
}

// HandleWebhook verifies a provider webhook and reconciles the affected
// account. Always acknowledges verified events; the provider retries on 5xx
// and reconciliation is idempotent, so a failed pass is just deferred work.
func (h *Handler) HandleWebhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable payload"})
		return
	}

	event, err := h.webhook.ParseWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	if event.CustomerRef == "" {
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	if _, err := h.service.ReconcileByCustomerRef(c.Request.Context(), event.CustomerRef); err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			// Customer not provisioned locally yet. Ack so the provider
			// does not retry forever.
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}
		h.logger.Error("webhook reconciliation failed",
			zap.String("event_type", event.Type),
			zap.String("customer_ref", event.CustomerRef),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconciliation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrSubscriptionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "subscription_not_found"})
	case errors.Is(err, ErrNoBillingAttachment):
		c.JSON(http.StatusBadRequest, gin.H{"error": "no_billing_attachment"})
	case errors.Is(err, ErrInvalidCancelMode):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cancel_mode"})
	case errors.Is(err, ErrDowngradeIncomplete):
		// Provider side done, local write pending. 409 tells the client to
		// re-run reconciliation rather than retry the cancel.
		c.JSON(http.StatusConflict, gin.H{"error": "downgrade_incomplete"})
	case provider.IsTransient(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "billing_provider_unavailable"})
	default:
		h.logger.Error("billing request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
