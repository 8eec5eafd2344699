package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// APIKeyConfig holds the configuration for API key authentication
type APIKeyConfig struct {
	HeaderName  string
	ValidAPIKey string
}

// APIKeyMiddleware validates the API key header on every request in the
// group.
func APIKeyMiddleware(config APIKeyConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := strings.TrimSpace(c.GetHeader(config.HeaderName))

		if apiKey == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Missing API key",
			})
			c.Abort()
			return
		}

		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(config.ValidAPIKey)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid API key",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
