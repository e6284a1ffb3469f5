package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/custodia-forensics/custodia/internal/custody/model"
)

// respondError maps the domain error taxonomy onto HTTP statuses.
// Not-found and conflict classes are recoverable client errors; anything
// unclassified is a 500 and gets logged.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	var vErr *model.ErrValidation
	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Msg})
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrConflict), errors.Is(err, model.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
