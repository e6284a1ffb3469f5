package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/custodia-forensics/custodia/internal/webhooks"
)

// Dispatcher fans custody activity out to webhook subscribers.
// *webhooks.Service satisfies it; handlers treat a nil dispatcher as "off".
type Dispatcher interface {
	Dispatch(eventType string, payload map[string]string)
}

// WebhookHandler exposes webhook subscription management.
type WebhookHandler struct {
	svc    *webhooks.Service
	logger *zap.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(svc *webhooks.Service, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{svc: svc, logger: logger}
}

// Register mounts the webhook routes on the given router group.
func (h *WebhookHandler) Register(rg *gin.RouterGroup) {
	wh := rg.Group("/webhooks")
	{
		wh.POST("", h.CreateSubscription)
		wh.GET("", h.ListSubscriptions)
		wh.DELETE("/:id", h.DeleteSubscription)
	}
}

// CreateSubscription handles POST /webhooks.
func (h *WebhookHandler) CreateSubscription(c *gin.Context) {
	var req webhooks.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, err := h.svc.Subscribe(c.Request.Context(), actorFrom(c).ID, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	// The secret is returned once so the subscriber can verify signatures.
	c.JSON(http.StatusCreated, gin.H{
		"subscription": sub,
		"secret":       sub.Secret,
		"note":         "Store the secret securely. It will not be shown again.",
	})
}

// ListSubscriptions handles GET /webhooks — the caller's subscriptions.
func (h *WebhookHandler) ListSubscriptions(c *gin.Context) {
	subs, err := h.svc.ListByOwner(c.Request.Context(), actorFrom(c).ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if subs == nil {
		subs = []*webhooks.Subscription{}
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs, "count": len(subs)})
}

// DeleteSubscription handles DELETE /webhooks/:id.
func (h *WebhookHandler) DeleteSubscription(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subscription id must be a UUID"})
		return
	}

	if err := h.svc.Unsubscribe(c.Request.Context(), actorFrom(c).ID, id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
