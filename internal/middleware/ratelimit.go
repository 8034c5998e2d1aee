package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/venuerec/internal/services"
)

// RateLimit keys authenticated requests by user and anonymous ones by client IP.
func RateLimit(rateLimitService *services.RateLimitService, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientKey := "ip:" + c.ClientIP()
		userTier := services.TierFree
		if userID, tier, ok := GetUserFromContext(c); ok {
			clientKey = "user:" + strconv.FormatInt(userID, 10)
			userTier = tier
		}

		allowed, info, err := rateLimitService.IsAllowed(c.Request.Context(), clientKey, userTier)
		if err != nil {
			// Fail open
			logger.WithError(err).Error("Failed to check rate limit")
			c.Next()
			return
		}

		// Set rate limit headers
		c.Header("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime, 10))

		if !allowed {
			logger.WithFields(logrus.Fields{
				"client":    clientKey,
				"user_tier": userTier,
				"limit":     info.Limit,
			}).Warn("Rate limit exceeded")

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":    "RATE_LIMIT_EXCEEDED",
					"message": "Rate limit exceeded. Please try again later.",
				},
				"rate_limit": info,
			})
			return
		}

		c.Next()
	}
}
