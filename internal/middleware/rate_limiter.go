package middleware

import (
	"math"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/neftit/taskgate/internal/discord"
	"github.com/neftit/taskgate/internal/logger"
)

// DiscordRateLimit limits membership checks per client IP. Rejected requests
// are counted on health and answered with a retryAfter hint in seconds.
func DiscordRateLimit(limiter *discord.Limiter, health *discord.Health) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		allowed, wait := limiter.Allow(ip)
		if !allowed {
			if health != nil {
				health.RecordRateLimited()
			}
			retryAfter := int(math.Ceil(wait.Seconds()))
			logger.Warn("discord verification rate limit hit",
				zap.String("client_ip", ip),
				zap.Int("retry_after", retryAfter))

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success":    false,
				"message":    "Too many Discord verification requests. Please try again later.",
				"retryAfter": retryAfter,
			})
			return
		}

		c.Next()
	}
}
