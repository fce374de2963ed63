package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"lorekeeper-platform/internal/auth"
	"lorekeeper-platform/utils"
)

// SessionAuthMiddleware validates a bearer session token when one is
// configured. With no token service the platform runs open, which is
// the default for local single-user deployments.
func SessionAuthMiddleware(tokens *auth.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokens == nil {
			c.Next()
			return
		}
		if c.FullPath() == "/health" || c.FullPath() == "/health/ready" {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			utils.RespondWithUnauthorized(c, "Session token required")
			c.Abort()
			return
		}

		claims, err := tokens.ParseSessionToken(c.Request.Context(), strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			utils.RespondWithUnauthorized(c, "Invalid or expired session token")
			c.Abort()
			return
		}

		c.Set("session_id", claims.SessionID)
		c.Next()
	}
}

// GetSessionID retrieves the authenticated session ID, if any.
func GetSessionID(c *gin.Context) string {
	if id, exists := c.Get("session_id"); exists {
		if str, ok := id.(string); ok {
			return str
		}
	}
	return ""
}
