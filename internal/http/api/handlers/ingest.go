package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/raevmood/devicefinder/internal/ingest"
	log "github.com/sirupsen/logrus"
)

// IngestRunner starts and reports catalog refreshes.
type IngestRunner interface {
	Trigger() bool
	Running() bool
	LastSummary() (ingest.Summary, bool)
	CatalogCounts(ctx context.Context) (map[string]int64, error)
}

// IngestHandler starts catalog refreshes. Routes are expected behind
// RequireAPIKey.
type IngestHandler struct {
	runner IngestRunner
}

// NewIngestHandler constructs an IngestHandler.
func NewIngestHandler(runner IngestRunner) *IngestHandler {
	return &IngestHandler{runner: runner}
}

// Trigger starts a background refresh and returns immediately.
func (h *IngestHandler) Trigger(c *gin.Context) {
	alreadyRunning := h.runner.Trigger()
	message := "ingestion started"
	if alreadyRunning {
		message = "ingestion already running"
	}
	log.WithField("already_running", alreadyRunning).Info("ingest: trigger accepted")
	c.JSON(http.StatusAccepted, gin.H{
		"status":          "accepted",
		"message":         message,
		"already_running": alreadyRunning,
	})
}

// Status reports whether a refresh is running, the last finished run and
// the stored entries per category.
func (h *IngestHandler) Status(c *gin.Context) {
	counts, errCount := h.runner.CatalogCounts(c.Request.Context())
	if errCount != nil {
		log.WithError(errCount).Error("ingest: count catalog failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count catalog failed"})
		return
	}
	out := gin.H{"running": h.runner.Running(), "catalog": counts}
	if summary, ok := h.runner.LastSummary(); ok {
		out["last_run"] = summary
	}
	c.JSON(http.StatusOK, out)
}
