package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// HeaderAPIKey carries the operator key on ingestion and settings routes.
const HeaderAPIKey = "X-API-KEY"

// RequireAPIKey admits requests whose X-API-KEY matches key. An empty key
// rejects every request with 500 since the operator has not configured one.
func RequireAPIKey(key string) gin.HandlerFunc {
	key = strings.TrimSpace(key)
	return func(c *gin.Context) {
		if key == "" {
			log.Error("operator api key (INGESTION_API_KEY) is not configured")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "operator api key is not configured"})
			return
		}
		provided := strings.TrimSpace(c.GetHeader(HeaderAPIKey))
		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		c.Next()
	}
}
