package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/neftit/taskgate/internal/logger"
)

// APIKeyHeader carries the partner key
const APIKeyHeader = "x-api-key"

// APIKeyAuth rejects requests whose x-api-key does not match key. An empty
// key rejects everything, so an unconfigured partner endpoint stays closed.
func APIKeyAuth(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader(APIKeyHeader)

		if key == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
			logger.Warn("partner request rejected",
				zap.String("client_ip", c.ClientIP()),
				zap.Bool("key_present", provided != ""))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		c.Next()
	}
}
