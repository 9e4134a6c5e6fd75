package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/raevmood/devicefinder/internal/agent"
)

// maxRequestBody bounds recommendation and chat request bodies.
const maxRequestBody = 64 << 10

// Recommender answers recommendation requests for one category.
type Recommender interface {
	Category() agent.Category
	Recommend(ctx context.Context, userID uint64, req agent.Request) (*agent.Response, error)
}

// AgentHandler exposes one recommendation agent.
type AgentHandler struct {
	agent Recommender
}

// NewAgentHandler constructs an AgentHandler.
func NewAgentHandler(recommender Recommender) *AgentHandler {
	return &AgentHandler{agent: recommender}
}

// Recommend validates the body against the category's filters and returns
// ranked recommendations.
func (h *AgentHandler) Recommend(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	req, errParse := agent.ParseRequest(h.agent.Category(), body)
	if errParse != nil {
		respondError(c, errParse)
		return
	}
	resp, errRecommend := h.agent.Recommend(c.Request.Context(), userID(c), req)
	if errRecommend != nil {
		respondError(c, errRecommend)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Categories lists the recommendation routes and their filters.
func Categories(c *gin.Context) {
	out := make([]gin.H, 0, len(agent.Categories))
	for _, category := range agent.Categories {
		filters := make([]string, 0, len(category.Filters))
		for _, f := range category.Filters {
			filters = append(filters, f.Name)
		}
		out = append(out, gin.H{
			"category": category.Key,
			"route":    category.Route,
			"label":    category.Label,
			"filters":  filters,
		})
	}
	c.JSON(http.StatusOK, gin.H{"categories": out})
}

// readBody reads a bounded request body, answering the client on failure.
func readBody(c *gin.Context) ([]byte, bool) {
	body, errRead := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBody))
	if errRead != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(errRead, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return nil, false
	}
	return body, true
}
