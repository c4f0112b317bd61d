package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"schat-service/internal/telemetry"
)

// MessagePurger deletes messages for administrative cleanup.
type MessagePurger interface {
	DeleteMessagesOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteChatMessages(ctx context.Context, chatID int) (int64, error)
}

// AdminHandler serves message cleanup endpoints.
type AdminHandler struct {
	messages MessagePurger
	audit    *telemetry.AuditEmitter
	now      func() time.Time
}

// NewAdminHandler builds an AdminHandler. audit may be nil.
func NewAdminHandler(messages MessagePurger, audit *telemetry.AuditEmitter) *AdminHandler {
	return &AdminHandler{messages: messages, audit: audit, now: time.Now}
}

// DeleteOldMessages removes messages older than ?older_than_days=N.
func (h *AdminHandler) DeleteOldMessages(c *gin.Context) {
	days, err := strconv.Atoi(c.Query("older_than_days"))
	if err != nil || days < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "older_than_days must be a positive integer"})
		return
	}

	cutoff := h.now().AddDate(0, 0, -days)
	deleted, err := h.messages.DeleteMessagesOlderThan(c.Request.Context(), cutoff)
	if err != nil {
		log.Error().Err(err).Time("cutoff", cutoff).Msg("purge old messages failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete messages"})
		return
	}

	h.audit.Emit(c.Request.Context(), telemetry.AuditEntry{
		Action:    "delete_old_messages",
		Text:      "deleted messages older than " + strconv.Itoa(days) + " days",
		RequestID: requestIDFromContext(c),
		UserID:    userIDFromContext(c),
		Details:   map[string]any{"older_than_days": days, "deleted": deleted},
	})
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// DeleteChatMessages removes every message of a chat.
func (h *AdminHandler) DeleteChatMessages(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}

	deleted, err := h.messages.DeleteChatMessages(c.Request.Context(), chatID)
	if err != nil {
		log.Error().Err(err).Int("chat_id", chatID).Msg("purge chat messages failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete messages"})
		return
	}

	h.audit.Emit(c.Request.Context(), telemetry.AuditEntry{
		Action:    "delete_chat_messages",
		Text:      "deleted messages of chat " + strconv.Itoa(chatID),
		RequestID: requestIDFromContext(c),
		UserID:    userIDFromContext(c),
		Details:   map[string]any{"chat_id": chatID, "deleted": deleted},
	})
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
