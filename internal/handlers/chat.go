package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"schat-service/internal/delivery"
	"schat-service/internal/models"
	"schat-service/internal/repositories"
)

// Messenger is the delivery surface shared with the websocket path.
type Messenger interface {
	Submit(ctx context.Context, senderID int, out models.Outgoing) (models.MessageWithSender, error)
	MarkRead(ctx context.Context, userID, chatID int) ([]models.Message, error)
	AIUserID() int
}

// ChatHandler serves the REST fallback for chats and messages.
type ChatHandler struct {
	userRepo    repositories.UserRepository
	chatRepo    repositories.ChatRepository
	messageRepo repositories.MessageRepository
	messenger   Messenger
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(userRepo repositories.UserRepository, chatRepo repositories.ChatRepository, messageRepo repositories.MessageRepository, messenger Messenger) *ChatHandler {
	return &ChatHandler{
		userRepo:    userRepo,
		chatRepo:    chatRepo,
		messageRepo: messageRepo,
		messenger:   messenger,
	}
}

// ListChats returns the chats of the authenticated user, newest activity first.
func (h *ChatHandler) ListChats(c *gin.Context) {
	userID := c.GetInt("userID")

	chats, err := h.chatRepo.ListChats(c.Request.Context(), userID)
	if err != nil {
		log.Error().Err(err).Int("user_id", userID).Msg("list chats failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chats"})
		return
	}

	visible := make([]models.ChatSummary, 0, len(chats))
	for _, chat := range chats {
		if chat.FriendID == userID {
			continue
		}
		visible = append(visible, chat)
	}
	c.JSON(http.StatusOK, gin.H{"chats": visible})
}

// StartChat resolves the other user by handle or id and returns their chat,
// creating it on first contact.
func (h *ChatHandler) StartChat(c *gin.Context) {
	var req struct {
		Handle string `json:"handle"`
		UserID int    `json:"userId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var (
		other models.User
		err   error
	)
	switch {
	case strings.TrimSpace(req.Handle) != "":
		other, err = h.userRepo.GetUserByHandle(c.Request.Context(), req.Handle)
	case req.UserID > 0:
		other, err = h.userRepo.GetUser(c.Request.Context(), req.UserID)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "handle or userId is required"})
		return
	}
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to look up user"})
		return
	}

	userID := c.GetInt("userID")
	if other.ID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot chat with yourself"})
		return
	}

	chat, err := h.chatRepo.GetOrCreateChat(c.Request.Context(), userID, other.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create chat"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chatId": chat.ID, "user": other})
}

// AIChat returns the caller's chat with the assistant.
func (h *ChatHandler) AIChat(c *gin.Context) {
	aiID := h.messenger.AIUserID()
	if aiID == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "AI assistant is not available"})
		return
	}

	ai, err := h.userRepo.GetUser(c.Request.Context(), aiID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load AI user"})
		return
	}
	chat, err := h.chatRepo.GetOrCreateChat(c.Request.Context(), c.GetInt("userID"), aiID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create chat"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chatId": chat.ID, "user": ai})
}

// GetChatMessages returns the chat history and marks the caller's unread
// messages as read.
func (h *ChatHandler) GetChatMessages(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	if _, ok := h.requireParticipant(c, chatID, userID); !ok {
		return
	}

	if _, err := h.messenger.MarkRead(c.Request.Context(), userID, chatID); err != nil {
		log.Warn().Err(err).Int("chat_id", chatID).Int("user_id", userID).Msg("implicit mark read failed")
	}

	msgs, err := h.messageRepo.GetChatMessages(c.Request.Context(), chatID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if msgs == nil {
		msgs = []models.MessageWithSender{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostChatMessage submits a message to an existing chat.
func (h *ChatHandler) PostChatMessage(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}

	var out models.Outgoing
	if err := c.ShouldBindJSON(&out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out.ChatID = chatID
	out.RecipientID = 0
	h.submit(c, out)
}

// PostMessage submits a message by recipient, creating the chat on first contact.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	var out models.Outgoing
	if err := c.ShouldBindJSON(&out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if out.RecipientID <= 0 && out.ChatID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipientId is required"})
		return
	}
	h.submit(c, out)
}

func (h *ChatHandler) submit(c *gin.Context, out models.Outgoing) {
	msg, err := h.messenger.Submit(c.Request.Context(), c.GetInt("userID"), out)
	if err != nil {
		status, text := submitError(err)
		if status == http.StatusInternalServerError {
			log.Error().Err(err).Int("user_id", c.GetInt("userID")).Msg("submit failed")
		}
		c.JSON(status, gin.H{"error": text})
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *ChatHandler) requireParticipant(c *gin.Context, chatID, userID int) (models.Chat, bool) {
	chat, err := h.chatRepo.GetChat(c.Request.Context(), chatID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrChatNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "chat not found"})
		return models.Chat{}, false
	}
	if !chat.HasParticipant(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat member"})
		return models.Chat{}, false
	}
	return chat, true
}

func submitError(err error) (int, string) {
	switch {
	case errors.Is(err, delivery.ErrInvalidPayload):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, delivery.ErrSelfChat):
		return http.StatusBadRequest, "cannot chat with yourself"
	case errors.Is(err, delivery.ErrNotParticipant):
		return http.StatusForbidden, "not a chat member"
	case errors.Is(err, repositories.ErrChatNotFound):
		return http.StatusNotFound, "chat not found"
	case errors.Is(err, repositories.ErrUserNotFound):
		return http.StatusNotFound, "user not found"
	default:
		return http.StatusInternalServerError, "failed to store message"
	}
}

func chatIDParam(c *gin.Context) (int, bool) {
	chatID, err := strconv.Atoi(c.Param("chat_id"))
	if err != nil || chatID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return 0, false
	}
	return chatID, true
}
