package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tripnest/backend/internal/auth"
	"github.com/tripnest/backend/internal/models"
	"github.com/tripnest/backend/pkg/response"
)

const (
	// ContextUserID is the key for user ID in gin context.
	ContextUserID = "user_id"
	// ContextUserRole is the key for user role in gin context.
	ContextUserRole = "user_role"
	// ContextUserEmail is the key for user email in gin context.
	ContextUserEmail = "user_email"
)

// JWT returns a middleware that validates JWT and sets user claims in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserRole, claims.Role)
		c.Set(ContextUserEmail, claims.Email)
		c.Next()
	}
}

// Actor returns the caller identity set by JWT. ok is false on unauthenticated routes.
func Actor(c *gin.Context) (actor models.Actor, ok bool) {
	idVal, exists := c.Get(ContextUserID)
	if !exists {
		return models.Actor{}, false
	}
	id, isUUID := idVal.(uuid.UUID)
	if !isUUID {
		return models.Actor{}, false
	}
	role, _ := c.Get(ContextUserRole)
	roleStr, _ := role.(string)
	return models.Actor{UserID: id, Role: models.Role(roleStr)}, true
}
