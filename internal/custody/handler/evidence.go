package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/custodia-forensics/custodia/internal/custody/ledger"
	"github.com/custodia-forensics/custodia/internal/custody/model"
	"github.com/custodia-forensics/custodia/internal/webhooks"
)

// EvidenceHandler exposes evidence registration and custody ledger endpoints.
type EvidenceHandler struct {
	ledger ledger.Ledger
	hooks  Dispatcher
	logger *zap.Logger
}

// NewEvidenceHandler creates a new EvidenceHandler.
func NewEvidenceHandler(l ledger.Ledger, logger *zap.Logger) *EvidenceHandler {
	return &EvidenceHandler{ledger: l, logger: logger}
}

// SetDispatcher enables webhook notifications for recorded events.
func (h *EvidenceHandler) SetDispatcher(d Dispatcher) { h.hooks = d }

// Register mounts the evidence routes on the given router group.
func (h *EvidenceHandler) Register(rg *gin.RouterGroup) {
	e := rg.Group("/evidence")
	{
		e.POST("", h.RegisterEvidence)
		e.GET("", h.ListEvidence)
		e.POST("/:id/events", h.AppendEvent)
		e.GET("/:id/history", h.History)
		e.GET("/:id/head", h.Head)
	}
}

// RegisterEvidence handles POST /evidence — registers a new evidence item.
// Registration must precede any custody event for the id.
func (h *EvidenceHandler) RegisterEvidence(c *gin.Context) {
	var req model.RegisterEvidenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item := &model.EvidenceItem{
		ID:           req.EvidenceID,
		CaseID:       req.CaseID,
		EvidenceType: req.EvidenceType,
		Description:  req.Description,
	}
	if err := h.ledger.Register(c.Request.Context(), item); err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("evidence registered",
		zap.String("evidence_id", item.ID),
		zap.String("case_id", item.CaseID),
		zap.String("actor_id", actorFrom(c).ID),
	)
	c.JSON(http.StatusCreated, item)
}

// ListEvidence handles GET /evidence — all registered items.
func (h *EvidenceHandler) ListEvidence(c *gin.Context) {
	items, err := h.ledger.Items(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"evidence": items, "count": len(items)})
}

// AppendEvent handles POST /evidence/:id/events — appends a custody event.
// The acting identity comes from the request context, never from the body.
func (h *EvidenceHandler) AppendEvent(c *gin.Context) {
	var req model.AppendEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	action, err := model.ParseAction(req.Action)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	event, err := h.ledger.Append(c.Request.Context(), c.Param("id"), action, actorFrom(c).ID, req.Location, time.Time{})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	custodyEventsTotal.WithLabelValues(string(event.Action)).Inc()
	if h.hooks != nil {
		h.hooks.Dispatch(webhooks.EventCustodyRecorded, map[string]string{
			"evidence_id": event.EvidenceID,
			"sequence":    strconv.Itoa(event.Sequence),
			"action":      string(event.Action),
			"actor_id":    event.ActorID,
			"location":    event.Location,
		})
	}
	c.JSON(http.StatusCreated, event)
}

// History handles GET /evidence/:id/history — the full custody timeline.
func (h *EvidenceHandler) History(c *gin.Context) {
	events, err := h.ledger.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"evidence_id": c.Param("id"), "events": events, "count": len(events)})
}

// Head handles GET /evidence/:id/head — the chain tip.
func (h *EvidenceHandler) Head(c *gin.Context) {
	head, err := h.ledger.Head(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if head == nil {
		c.JSON(http.StatusOK, gin.H{"evidence_id": c.Param("id"), "head": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"evidence_id": c.Param("id"), "head": head})
}
