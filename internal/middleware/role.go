package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/aura-quiz/backend/internal/models"
	"github.com/aura-quiz/backend/pkg/response"
)

// Role returns the authenticated participant's role, or "" when JWT has not run.
func Role(c *gin.Context) models.Role {
	v, _ := c.Get(ContextRole)
	role, _ := v.(models.Role)
	return role
}

// RequireRole lets through only participants holding one of roles.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := Role(c)
		if role == "" {
			response.Unauthorized(c, "missing participant context")
			c.Abort()
			return
		}
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		response.Forbidden(c, "this action needs the "+string(roles[0])+" role")
		c.Abort()
	}
}

// AdminOnly guards quiz catalogue and championship administration.
func AdminOnly() gin.HandlerFunc { return RequireRole(models.RoleAdmin) }
