package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/custodia-forensics/custodia/internal/custody/model"
	"github.com/custodia-forensics/custodia/internal/identity"
)

// actorKey is the gin context key the actor claims are stored under.
const actorKey = "custodia.actor"

// actorHeader carries the caller identity when token verification is off.
const actorHeader = "X-Actor-ID"

// RequireActor returns middleware that resolves the acting identity for every
// mutating request. With a verifier configured it demands a valid bearer token
// from the external auth service. With a nil verifier (development and tests)
// it trusts the X-Actor-ID header instead.
func RequireActor(verifier *identity.Verifier, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if verifier == nil {
			id := strings.TrimSpace(c.GetHeader(actorHeader))
			if id == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "X-Actor-ID header required"})
				return
			}
			c.Set(actorKey, &model.Actor{ID: id})
			c.Next()
			return
		}

		auth := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bearer token required"})
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			logger.Debug("actor token rejected", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid actor token"})
			return
		}
		c.Set(actorKey, &model.Actor{
			ID:          claims.ActorID,
			DisplayName: claims.DisplayName,
			Role:        claims.Role,
		})
		c.Next()
	}
}

// actorFrom returns the actor resolved by RequireActor.
func actorFrom(c *gin.Context) *model.Actor {
	if v, ok := c.Get(actorKey); ok {
		if a, ok := v.(*model.Actor); ok {
			return a
		}
	}
	return &model.Actor{}
}
