package api

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/raevmood/devicefinder/internal/http/api/handlers"
	"github.com/raevmood/devicefinder/internal/metrics"
	log "github.com/sirupsen/logrus"
)

const (
	headerRequestID  = "X-Request-ID"
	contextRequestID = "requestID"
	maxRequestIDLen  = 128
)

// requestIDMiddleware keeps a caller supplied request id or assigns one.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerRequestID))
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		c.Set(contextRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

// accessLogMiddleware logs one line per request and counts it.
func accessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		if route == "/metrics" || route == "/healthz" {
			return
		}

		entry := log.WithFields(log.Fields{
			"request_id": c.GetString(contextRequestID),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"latency":    time.Since(start).String(),
			"client_ip":  c.ClientIP(),
		})
		if id := c.GetUint64(handlers.ContextUserID); id != 0 {
			entry = entry.WithField("user_id", id)
		}
		switch {
		case status >= 500:
			entry.Error("request")
		case status >= 400:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	}
}
