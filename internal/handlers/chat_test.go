package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"schat-service/internal/delivery"
	"schat-service/internal/mocks"
	"schat-service/internal/models"
	"schat-service/internal/repositories"
)

type chatDeps struct {
	users     *mocks.UserRepositoryMock
	chats     *mocks.ChatRepositoryMock
	messages  *mocks.MessageRepositoryMock
	messenger *mocks.MessengerMock
}

func (d chatDeps) assert(t *testing.T) {
	d.users.AssertExpectations(t)
	d.chats.AssertExpectations(t)
	d.messages.AssertExpectations(t)
	d.messenger.AssertExpectations(t)
}

func setupChatRouter() (*gin.Engine, chatDeps) {
	gin.SetMode(gin.TestMode)
	deps := chatDeps{
		users:     new(mocks.UserRepositoryMock),
		chats:     new(mocks.ChatRepositoryMock),
		messages:  new(mocks.MessageRepositoryMock),
		messenger: new(mocks.MessengerMock),
	}
	handler := NewChatHandler(deps.users, deps.chats, deps.messages, deps.messenger)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	r.GET("/chats", handler.ListChats)
	r.POST("/chats/start", handler.StartChat)
	r.GET("/chats/:chat_id/messages", handler.GetChatMessages)
	r.POST("/chats/:chat_id/messages", handler.PostChatMessage)
	r.POST("/messages", handler.PostMessage)
	r.GET("/ai/chat", handler.AIChat)
	return r, deps
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestListChatsFiltersSelfChats(t *testing.T) {
	router, deps := setupChatRouter()
	deps.chats.On("ListChats", mock.Anything, 1).Return([]models.ChatSummary{
		{ChatID: 3, FriendID: 2, FriendName: "Bob"},
		{ChatID: 4, FriendID: 1, FriendName: "Me"},
	}, nil).Once()

	rec := do(router, http.MethodGet, "/chats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Chats []models.ChatSummary `json:"chats"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Chats, 1)
	assert.Equal(t, 3, resp.Chats[0].ChatID)
	deps.assert(t)
}

func TestListChatsRepoError(t *testing.T) {
	router, deps := setupChatRouter()
	deps.chats.On("ListChats", mock.Anything, 1).Return(([]models.ChatSummary)(nil), assert.AnError).Once()

	rec := do(router, http.MethodGet, "/chats", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	deps.assert(t)
}

func TestStartChatByHandle(t *testing.T) {
	router, deps := setupChatRouter()
	deps.users.On("GetUserByHandle", mock.Anything, "SCHAT_bob").Return(models.User{ID: 2, Handle: "SCHAT_bob"}, nil).Once()
	deps.chats.On("GetOrCreateChat", mock.Anything, 1, 2).Return(models.Chat{ID: 10, User1ID: 1, User2ID: 2}, nil).Once()

	rec := do(router, http.MethodPost, "/chats/start", `{"handle":"SCHAT_bob"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.EqualValues(t, 10, resp["chatId"])
	deps.assert(t)
}

func TestStartChatUnknownHandle(t *testing.T) {
	router, deps := setupChatRouter()
	deps.users.On("GetUserByHandle", mock.Anything, "SCHAT_ghost").Return(nil, repositories.ErrUserNotFound).Once()

	rec := do(router, http.MethodPost, "/chats/start", `{"handle":"SCHAT_ghost"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	deps.assert(t)
}

func TestStartChatWithSelf(t *testing.T) {
	router, deps := setupChatRouter()
	deps.users.On("GetUser", mock.Anything, 1).Return(models.User{ID: 1}, nil).Once()

	rec := do(router, http.MethodPost, "/chats/start", `{"userId":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	deps.assert(t)
}

func TestStartChatRequiresTarget(t *testing.T) {
	router, deps := setupChatRouter()
	rec := do(router, http.MethodPost, "/chats/start", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	deps.assert(t)
}

func TestGetChatMessagesMarksRead(t *testing.T) {
	router, deps := setupChatRouter()
	deps.chats.On("GetChat", mock.Anything, 5).Return(models.Chat{ID: 5, User1ID: 1, User2ID: 2}, nil).Once()
	deps.messenger.On("MarkRead", mock.Anything, 1, 5).Return([]models.Message{{ID: 7}}, nil).Once()
	deps.messages.On("GetChatMessages", mock.Anything, 5).Return([]models.MessageWithSender{
		{Message: models.Message{ID: 7, ChatID: 5, SenderID: 2, Status: models.StatusRead}, SenderName: "Bob"},
	}, nil).Once()

	rec := do(router, http.MethodGet, "/chats/5/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Messages []models.MessageWithSender `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, models.StatusRead, resp.Messages[0].Status)
	deps.assert(t)
}

func TestGetChatMessagesForbidden(t *testing.T) {
	router, deps := setupChatRouter()
	deps.chats.On("GetChat", mock.Anything, 5).Return(models.Chat{ID: 5, User1ID: 2, User2ID: 3}, nil).Once()

	rec := do(router, http.MethodGet, "/chats/5/messages", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	deps.assert(t)
}

func TestGetChatMessagesMissingChat(t *testing.T) {
	router, deps := setupChatRouter()
	deps.chats.On("GetChat", mock.Anything, 8).Return(nil, repositories.ErrChatNotFound).Once()

	rec := do(router, http.MethodGet, "/chats/8/messages", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	deps.assert(t)
}

func TestPostChatMessageSubmits(t *testing.T) {
	router, deps := setupChatRouter()
	out := models.Outgoing{ChatID: 5, Content: "hi"}
	deps.messenger.On("Submit", mock.Anything, 1, out).Return(models.MessageWithSender{
		Message: models.Message{ID: 11, ChatID: 5, SenderID: 1, Content: "hi", Status: models.StatusDelivered},
	}, nil).Once()

	rec := do(router, http.MethodPost, "/chats/5/messages", `{"content":"hi","recipientId":42}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var msg models.MessageWithSender
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&msg))
	assert.Equal(t, 11, msg.ID)
	assert.Equal(t, models.StatusDelivered, msg.Status)
	deps.assert(t)
}

func TestPostChatMessageErrors(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{delivery.ErrInvalidPayload, http.StatusBadRequest},
		{delivery.ErrNotParticipant, http.StatusForbidden},
		{repositories.ErrChatNotFound, http.StatusNotFound},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		router, deps := setupChatRouter()
		deps.messenger.On("Submit", mock.Anything, 1, mock.Anything).Return(nil, tc.err).Once()

		rec := do(router, http.MethodPost, "/chats/5/messages", `{"content":"x"}`)
		assert.Equal(t, tc.code, rec.Code, tc.err.Error())
		deps.assert(t)
	}
}

func TestPostMessageFirstContact(t *testing.T) {
	router, deps := setupChatRouter()
	deps.messenger.On("Submit", mock.Anything, 1, models.Outgoing{RecipientID: 2, Content: "hello"}).
		Return(models.MessageWithSender{Message: models.Message{ID: 1, ChatID: 9}}, nil).Once()

	rec := do(router, http.MethodPost, "/messages", `{"recipientId":2,"content":"hello"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	deps.assert(t)
}

func TestPostMessageRequiresRecipient(t *testing.T) {
	router, deps := setupChatRouter()
	rec := do(router, http.MethodPost, "/messages", `{"content":"hello"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	deps.assert(t)
}

func TestAIChat(t *testing.T) {
	router, deps := setupChatRouter()
	deps.messenger.On("AIUserID").Return(99).Once()
	deps.users.On("GetUser", mock.Anything, 99).Return(models.User{ID: 99, DisplayName: "Super AI", IsAI: true}, nil).Once()
	deps.chats.On("GetOrCreateChat", mock.Anything, 1, 99).Return(models.Chat{ID: 12, User1ID: 1, User2ID: 99}, nil).Once()

	rec := do(router, http.MethodGet, "/ai/chat", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ChatID int         `json:"chatId"`
		User   models.User `json:"user"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 12, resp.ChatID)
	assert.True(t, resp.User.IsAI)
	deps.assert(t)
}

func TestAIChatDisabled(t *testing.T) {
	router, deps := setupChatRouter()
	deps.messenger.On("AIUserID").Return(0).Once()

	rec := do(router, http.MethodGet, "/ai/chat", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	deps.assert(t)
}
