package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/raevmood/devicefinder/internal/chat"
	"github.com/raevmood/devicefinder/internal/memory"
)

// ChatService runs chat turns and manages stored history.
type ChatService interface {
	Chat(ctx context.Context, userID uint64, message string) (chat.Reply, error)
	History(ctx context.Context, userID uint64) ([]memory.Message, error)
	ClearHistory(ctx context.Context, userID uint64) error
	MaxMessages() int
}

// ChatHandler exposes the chatbot.
type ChatHandler struct {
	bot ChatService
}

// NewChatHandler constructs a ChatHandler.
func NewChatHandler(bot ChatService) *ChatHandler {
	return &ChatHandler{bot: bot}
}

// chatRequest defines the request body for a chat turn.
type chatRequest struct {
	Message string `json:"message"`
}

// Chat runs one conversation turn for the authenticated user.
func (h *ChatHandler) Chat(c *gin.Context) {
	raw, ok := readBody(c)
	if !ok {
		return
	}
	var body chatRequest
	if errBind := json.Unmarshal(raw, &body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	reply, errChat := h.bot.Chat(c.Request.Context(), userID(c), body.Message)
	if errChat != nil {
		respondError(c, errChat)
		return
	}
	c.JSON(http.StatusOK, reply)
}

// History returns the stored conversation, oldest first, with the retention
// cap.
func (h *ChatHandler) History(c *gin.Context) {
	messages, errHistory := h.bot.History(c.Request.Context(), userID(c))
	if errHistory != nil {
		respondError(c, errHistory)
		return
	}
	if messages == nil {
		messages = []memory.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages, "max_messages": h.bot.MaxMessages()})
}

// ClearHistory deletes the stored conversation. Clearing an empty history
// succeeds.
func (h *ChatHandler) ClearHistory(c *gin.Context) {
	if errClear := h.bot.ClearHistory(c.Request.Context(), userID(c)); errClear != nil {
		respondError(c, errClear)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "conversation history cleared"})
}
