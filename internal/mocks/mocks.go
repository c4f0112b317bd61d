package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"schat-service/internal/models"
)

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) GetUser(ctx context.Context, userID int) (models.User, error) {
	args := m.Called(ctx, userID)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) GetUserByHandle(ctx context.Context, handle string) (models.User, error) {
	args := m.Called(ctx, handle)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) GetAIUser(ctx context.Context) (models.User, error) {
	args := m.Called(ctx)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) UpdateUserOnlineStatus(ctx context.Context, userID int, online bool) error {
	args := m.Called(ctx, userID, online)
	return args.Error(0)
}

func (m *UserRepositoryMock) EnsureAIUser(ctx context.Context, displayName, handle string) (models.User, error) {
	args := m.Called(ctx, displayName, handle)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

type ChatRepositoryMock struct {
	mock.Mock
}

func (m *ChatRepositoryMock) GetOrCreateChat(ctx context.Context, userID int, otherID int) (models.Chat, error) {
	args := m.Called(ctx, userID, otherID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) GetChat(ctx context.Context, chatID int) (models.Chat, error) {
	args := m.Called(ctx, chatID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) ListChats(ctx context.Context, userID int) ([]models.ChatSummary, error) {
	args := m.Called(ctx, userID)
	var list []models.ChatSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ChatSummary)
	}
	return list, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, msg models.NewMessage) (models.Message, error) {
	args := m.Called(ctx, msg)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) GetChatMessages(ctx context.Context, chatID int) ([]models.MessageWithSender, error) {
	args := m.Called(ctx, chatID)
	var msgs []models.MessageWithSender
	if val := args.Get(0); val != nil {
		msgs = val.([]models.MessageWithSender)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) ListRecentMessages(ctx context.Context, chatID int, limit int) ([]models.Message, error) {
	args := m.Called(ctx, chatID, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) UpdateMessageStatus(ctx context.Context, messageID int, status models.MessageStatus) (bool, error) {
	args := m.Called(ctx, messageID, status)
	return args.Bool(0), args.Error(1)
}

func (m *MessageRepositoryMock) MarkChatRead(ctx context.Context, chatID int, readerID int) ([]models.Message, error) {
	args := m.Called(ctx, chatID, readerID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) DeleteMessagesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MessageRepositoryMock) DeleteChatMessages(ctx context.Context, chatID int) (int64, error) {
	args := m.Called(ctx, chatID)
	return args.Get(0).(int64), args.Error(1)
}

// MessengerMock stands in for the delivery coordinator.
type MessengerMock struct {
	mock.Mock
}

func (m *MessengerMock) Submit(ctx context.Context, senderID int, out models.Outgoing) (models.MessageWithSender, error) {
	args := m.Called(ctx, senderID, out)
	var msg models.MessageWithSender
	if val := args.Get(0); val != nil {
		msg = val.(models.MessageWithSender)
	}
	return msg, args.Error(1)
}

func (m *MessengerMock) MarkRead(ctx context.Context, userID, chatID int) ([]models.Message, error) {
	args := m.Called(ctx, userID, chatID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessengerMock) AIUserID() int {
	args := m.Called()
	return args.Int(0)
}
