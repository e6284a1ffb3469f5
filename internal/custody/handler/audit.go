package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/custodia-forensics/custodia/internal/custody/audit"
	"github.com/custodia-forensics/custodia/internal/custody/query"
	"github.com/custodia-forensics/custodia/internal/webhooks"
)

// AuditHandler exposes chain verification and cross-case correlation.
type AuditHandler struct {
	verifier  *audit.Verifier
	projector *query.Projector
	hooks     Dispatcher
	logger    *zap.Logger
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(v *audit.Verifier, p *query.Projector, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{verifier: v, projector: p, logger: logger}
}

// SetDispatcher enables webhook notifications when a verification finds a break.
func (h *AuditHandler) SetDispatcher(d Dispatcher) { h.hooks = d }

// Register mounts the audit routes on the given router group.
func (h *AuditHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/evidence/:id/verify", h.Verify)
	rg.GET("/correlate", h.Correlate)
}

// Verify handles GET /evidence/:id/verify — walks the item's chain and reports
// integrity. A broken chain is still a successful verification read: the break
// is the result, not an error.
func (h *AuditHandler) Verify(c *gin.Context) {
	result, err := h.verifier.Verify(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	outcome := "intact"
	if !result.Intact {
		outcome = "broken"
		if h.hooks != nil && result.BrokenAt != nil {
			h.hooks.Dispatch(webhooks.EventChainBroken, map[string]string{
				"evidence_id": result.EvidenceID,
				"broken_at":   strconv.Itoa(*result.BrokenAt),
				"break_kind":  string(result.Kind),
			})
		}
	}
	verificationsTotal.WithLabelValues(outcome).Inc()
	c.JSON(http.StatusOK, result)
}

// Correlate handles GET /correlate — best-effort cross-case candidate matches.
// Query params: type=true, location=<pattern>, within=<duration>, e.g.
// /correlate?type=true&within=48h.
func (h *AuditHandler) Correlate(c *gin.Context) {
	m := query.Matchers{
		EvidenceType:    c.Query("type") == "true",
		LocationPattern: c.Query("location"),
	}
	if within := c.Query("within"); within != "" {
		d, err := time.ParseDuration(within)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "within must be a positive duration like 48h"})
			return
		}
		m.TimeWindow = d
	}

	matches, err := h.projector.CorrelateCases(c.Request.Context(), m)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches, "count": len(matches)})
}
