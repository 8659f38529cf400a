package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/escuela-app/enrollment-api/internal/middleware"
	"github.com/escuela-app/enrollment-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// actorFromContext derives the acting identity from the JWT claims. Requests
// without claims act as GUEST.
func actorFromContext(c *gin.Context) models.Actor {
	claims := claimsFromContext(c)
	if claims == nil {
		return models.Actor{Role: models.RoleGuest}
	}
	return models.Actor{UserID: claims.UserID, Role: claims.Role}
}
