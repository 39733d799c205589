package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"proctor-stream/internal/auth"
)

const userIDContextKey = "userID"

func UserIDFromContext(c *gin.Context) (string, bool) {
	userID, ok := c.Get(userIDContextKey)
	if !ok {
		return "", false
	}
	value, ok := userID.(string)
	return value, ok && value != ""
}

// RequireAuth accepts bearer access tokens. Stream tokens are only valid on
// the stream endpoint.
func RequireAuth(cfg auth.TokenConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}

		claims, err := auth.VerifyToken(strings.TrimSpace(parts[1]), cfg)
		if err != nil || claims.Kind != auth.KindAccess {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}

		c.Set(userIDContextKey, claims.UserID)
		c.Next()
	}
}

// RequireSelf must run after RequireAuth; the :param path value has to match
// the authenticated user.
func RequireSelf(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := UserIDFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}
		if c.Param(param) != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "Not authorized for this user"})
			c.Abort()
			return
		}
		c.Next()
	}
}
