package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/vpnpay/core/pkg/jwt"
)

// AdminAuthMiddleware requires a valid admin bearer token. The admin
// surface has a single account, so there's no role matrix to check:
// a validated token is sufficient authorization.
func AdminAuthMiddleware(manager *jwt.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   gin.H{"code": "UNAUTHORIZED", "message": "missing authentication token"},
			})
			c.Abort()
			return
		}

		claims, err := manager.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   gin.H{"code": "UNAUTHORIZED", "message": "invalid or expired token"},
			})
			c.Abort()
			return
		}

		c.Set("admin_user_id", claims.UserID)
		c.Next()
	}
}

// extractToken extracts the bearer token from the Authorization header.
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}
	return ""
}
