package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/custodia-forensics/custodia/internal/custody/model"
	"github.com/custodia-forensics/custodia/internal/custody/transfer"
	"github.com/custodia-forensics/custodia/internal/webhooks"
)

// TransferHandler exposes the transfer request workflow endpoints.
type TransferHandler struct {
	svc    *transfer.Service
	hooks  Dispatcher
	logger *zap.Logger
}

// NewTransferHandler creates a new TransferHandler.
func NewTransferHandler(svc *transfer.Service, logger *zap.Logger) *TransferHandler {
	return &TransferHandler{svc: svc, logger: logger}
}

// SetDispatcher enables webhook notifications for transfer decisions.
func (h *TransferHandler) SetDispatcher(d Dispatcher) { h.hooks = d }

// Register mounts the transfer routes on the given router group.
func (h *TransferHandler) Register(rg *gin.RouterGroup) {
	t := rg.Group("/transfers")
	{
		t.POST("", h.Create)
		t.GET("/:id", h.Get)
		t.POST("/:id/approve", h.Approve)
		t.POST("/:id/reject", h.Reject)
		t.POST("/:id/cancel", h.Cancel)
	}
	rg.GET("/evidence/:id/transfers", h.ListByEvidence)
}

func (h *TransferHandler) requestID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request id must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}

// Create handles POST /transfers.
func (h *TransferHandler) Create(c *gin.Context) {
	var req model.CreateTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tr, err := h.svc.Create(c.Request.Context(), &req, actorFrom(c).ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, tr)
}

// Get handles GET /transfers/:id.
func (h *TransferHandler) Get(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}
	tr, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, tr)
}

// Approve handles POST /transfers/:id/approve. On success the response carries
// both the decided request and the custody event the approval appended.
func (h *TransferHandler) Approve(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}

	tr, event, err := h.svc.Approve(c.Request.Context(), id, actorFrom(c).ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	transferDecisionsTotal.WithLabelValues("approved").Inc()
	custodyEventsTotal.WithLabelValues(string(event.Action)).Inc()
	if h.hooks != nil {
		h.hooks.Dispatch(webhooks.EventTransferApproved, map[string]string{
			"request_id":  tr.ID.String(),
			"evidence_id": tr.EvidenceID,
			"recipient":   tr.Recipient,
			"decided_by":  tr.DecidedBy,
			"sequence":    strconv.Itoa(event.Sequence),
		})
	}
	c.JSON(http.StatusOK, gin.H{"request": tr, "event": event})
}

// Reject handles POST /transfers/:id/reject.
func (h *TransferHandler) Reject(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}

	var req model.DecideTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tr, err := h.svc.Reject(c.Request.Context(), id, actorFrom(c).ID, req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	transferDecisionsTotal.WithLabelValues("rejected").Inc()
	if h.hooks != nil {
		h.hooks.Dispatch(webhooks.EventTransferRejected, map[string]string{
			"request_id":  tr.ID.String(),
			"evidence_id": tr.EvidenceID,
			"recipient":   tr.Recipient,
			"decided_by":  tr.DecidedBy,
		})
	}
	c.JSON(http.StatusOK, tr)
}

// Cancel handles POST /transfers/:id/cancel.
func (h *TransferHandler) Cancel(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}

	tr, err := h.svc.Cancel(c.Request.Context(), id, actorFrom(c).ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	transferDecisionsTotal.WithLabelValues("cancelled").Inc()
	c.JSON(http.StatusOK, tr)
}

// ListByEvidence handles GET /evidence/:id/transfers.
func (h *TransferHandler) ListByEvidence(c *gin.Context) {
	requests, err := h.svc.ListByEvidence(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"evidence_id": c.Param("id"), "requests": requests, "count": len(requests)})
}
