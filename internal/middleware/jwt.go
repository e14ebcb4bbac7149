package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aura-quiz/backend/internal/auth"
	"github.com/aura-quiz/backend/pkg/response"
)

const (
	// ContextParticipantID is the key for the participant ID in gin context.
	ContextParticipantID = auth.ContextParticipantID
	// ContextRole is the key for the participant role in gin context.
	ContextRole = "role"
	// ContextDisplayName is the key for the participant display name in gin context.
	ContextDisplayName = "display_name"
)

// JWT returns a middleware that validates JWT and sets participant claims in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(token)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextParticipantID, claims.ParticipantID)
		c.Set(ContextRole, claims.Role)
		c.Set(ContextDisplayName, claims.Name)
		c.Next()
	}
}

// bearerToken reads the Authorization header, falling back to the token
// query parameter for websocket upgrades where browsers cannot set headers.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return c.Query("token")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

// ParticipantID returns the authenticated participant ID, or "" if unset.
func ParticipantID(c *gin.Context) string {
	return c.GetString(ContextParticipantID)
}
