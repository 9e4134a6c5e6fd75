package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/raevmood/devicefinder/internal/apperr"
	log "github.com/sirupsen/logrus"
)

// ContextUserID is the gin context key holding the authenticated user id.
const ContextUserID = "userID"

// ContextUsername is the gin context key holding the authenticated username.
const ContextUsername = "username"

// respondError writes err using the shared status mapping. Server-side
// failures are logged with their full cause; clients only see the public
// message.
func respondError(c *gin.Context, err error) {
	status := apperr.StatusCode(err)
	var rl *apperr.RateLimitError
	if errors.As(err, &rl) {
		for key, values := range rl.Headers() {
			for _, value := range values {
				c.Header(key, value)
			}
		}
	}
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithFields(log.Fields{
			"path":   c.FullPath(),
			"status": status,
		}).Error("request failed")
	}
	c.JSON(status, gin.H{"error": apperr.PublicMessage(err)})
}

// userID returns the authenticated user id, 0 when absent.
func userID(c *gin.Context) uint64 {
	return c.GetUint64(ContextUserID)
}
