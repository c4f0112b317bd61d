package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"schat-service/internal/mocks"
	"schat-service/internal/telemetry"
)

func setupAdminRouter(now time.Time) (*gin.Engine, *mocks.MessageRepositoryMock, *mocks.PublisherMock) {
	gin.SetMode(gin.TestMode)
	messages := new(mocks.MessageRepositoryMock)
	pub := new(mocks.PublisherMock)
	handler := NewAdminHandler(messages, telemetry.NewAuditEmitter(pub, "audit.schat", "schat-service", "test"))
	handler.now = func() time.Time { return now }

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 7)
		c.Next()
	})
	r.DELETE("/admin/messages", handler.DeleteOldMessages)
	r.DELETE("/admin/chats/:chat_id/messages", handler.DeleteChatMessages)
	RegisterDebugRoutes(r, telemetry.NewAuditEmitter(pub, "audit.schat", "schat-service", "test"), true)
	return r, messages, pub
}

func TestDeleteOldMessages(t *testing.T) {
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	router, messages, pub := setupAdminRouter(now)
	messages.On("DeleteMessagesOlderThan", mock.Anything, now.AddDate(0, 0, -30)).Return(int64(4), nil).Once()
	pub.On("Publish", mock.Anything, "audit.schat", mock.MatchedBy(func(ev telemetry.AuditEnvelope) bool {
		return ev.Payload.Action == "delete_old_messages" && ev.UserID != nil && *ev.UserID == "7"
	}), mock.Anything).Return(nil).Once()

	rec := do(router, http.MethodDelete, "/admin/messages?older_than_days=30", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.EqualValues(t, 4, resp["deleted"])
	messages.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestDeleteOldMessagesValidatesDays(t *testing.T) {
	router, messages, pub := setupAdminRouter(time.Now())
	for _, q := range []string{"", "?older_than_days=0", "?older_than_days=abc"} {
		rec := do(router, http.MethodDelete, "/admin/messages"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
	messages.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestDeleteChatMessages(t *testing.T) {
	router, messages, pub := setupAdminRouter(time.Now())
	messages.On("DeleteChatMessages", mock.Anything, 5).Return(int64(2), nil).Once()
	pub.On("Publish", mock.Anything, "audit.schat", mock.Anything, mock.Anything).Return(nil).Once()

	rec := do(router, http.MethodDelete, "/admin/chats/5/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	messages.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestDeleteChatMessagesStoreError(t *testing.T) {
	router, messages, pub := setupAdminRouter(time.Now())
	messages.On("DeleteChatMessages", mock.Anything, 5).Return(int64(0), assert.AnError).Once()

	rec := do(router, http.MethodDelete, "/admin/chats/5/messages", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	messages.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestDebugAuditRoute(t *testing.T) {
	router, _, pub := setupAdminRouter(time.Now())
	pub.On("Publish", mock.Anything, "audit.schat", mock.Anything, mock.MatchedBy(func(h map[string]string) bool {
		return h["x-request-id"] == "rid-42"
	})).Return(nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil)
	req.Header.Set("X-Request-ID", "rid-42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	pub.AssertExpectations(t)
}
