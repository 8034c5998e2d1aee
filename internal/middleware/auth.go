package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/venuerec/internal/services"
)

const (
	ContextUserID   = "user_id"
	ContextUserTier = "user_tier"
	ContextEmail    = "email"
)

func Auth(authService *services.AuthService, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Extract token from Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abort(c, http.StatusUnauthorized, "MISSING_AUTHORIZATION", "Authorization header is required")
			return
		}

		// Check for Bearer token format
		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
			abort(c, http.StatusUnauthorized, "INVALID_AUTHORIZATION_FORMAT",
				"Authorization header must be in format 'Bearer <token>'")
			return
		}

		claims, err := authService.ValidateToken(c.Request.Context(), tokenParts[1])
		if err != nil {
			logger.WithError(err).Warn("Invalid JWT token")
			abort(c, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token")
			return
		}

		// Set user context
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserTier, claims.UserTier)
		c.Set(ContextEmail, claims.Email)
		c.Next()
	}
}

// RequireAdmin must run after Auth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if tier := c.GetString(ContextUserTier); tier != services.TierAdmin {
			abort(c, http.StatusForbidden, "FORBIDDEN", "Administrator access required")
			return
		}
		c.Next()
	}
}

// GetUserFromContext returns the authenticated user id and tier; ok is false on public routes.
func GetUserFromContext(c *gin.Context) (userID int64, userTier string, ok bool) {
	v, exists := c.Get(ContextUserID)
	if !exists {
		return 0, "", false
	}
	userID, ok = v.(int64)
	return userID, c.GetString(ContextUserTier), ok
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}
