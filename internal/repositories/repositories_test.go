package repositories

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schat-service/internal/models"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return sqlx.NewDb(raw, "postgres"), mock
}

var messageCols = []string{"id", "chat_id", "sender_id", "content", "message_type", "file_url", "file_name", "file_size", "status", "created_at"}

func TestUpdateMessageStatusAdvances(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE messages SET status=$2 WHERE id=$1 AND status = ANY($3)`)).
		WithArgs(7, "delivered", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.UpdateMessageStatus(context.Background(), 7, models.StatusDelivered)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMessageStatusNoRegression(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE messages SET status=$2`)).
		WithArgs(7, "delivered", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.UpdateMessageStatus(context.Background(), 7, models.StatusDelivered)
	require.NoError(t, err)
	assert.False(t, ok)

	// sent has no predecessors, so nothing is issued
	ok, err = repo.UpdateMessageStatus(context.Background(), 7, models.StatusSent)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkChatReadReturnsTransitioned(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)
	now := time.Now()

	rows := sqlmock.NewRows(messageCols).
		AddRow(3, 5, 2, "hi", "text", nil, nil, nil, "read", now).
		AddRow(4, 5, 2, "there", "text", nil, nil, nil, "read", now)
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE messages SET status='read'`)).
		WithArgs(5, 1, sqlmock.AnyArg()).
		WillReturnRows(rows)

	msgs, err := repo.MarkChatRead(context.Background(), 5, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.StatusRead, msgs[0].Status)
	assert.Equal(t, 4, msgs[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateMessageDefaultsToText(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO messages`)).
		WithArgs(5, 1, "hello", "text", nil, nil, nil, "sent").
		WillReturnRows(sqlmock.NewRows(messageCols).AddRow(11, 5, 1, "hello", "text", nil, nil, nil, "sent", now))

	msg, err := repo.CreateMessage(context.Background(), models.NewMessage{ChatID: 5, SenderID: 1, Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, 11, msg.ID)
	assert.Equal(t, models.StatusSent, msg.Status)
	assert.Equal(t, models.MessageTypeText, msg.MessageType)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMessageNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM messages WHERE id=$1`)).
		WithArgs(99).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetMessage(context.Background(), 99)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestGetOrCreateChatSortsPair(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewChatRepo(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM chats WHERE user1_id=$1 AND user2_id=$2`)).
		WithArgs(2, 9).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO chats`)).
		WithArgs(2, 9).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user1_id", "user2_id", "created_at"}).AddRow(4, 2, 9, now))

	chat, err := repo.GetOrCreateChat(context.Background(), 9, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, chat.ID)
	assert.Equal(t, 2, chat.User1ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateChatExisting(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewChatRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM chats WHERE user1_id=$1 AND user2_id=$2`)).
		WithArgs(1, 3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user1_id", "user2_id", "created_at"}).AddRow(8, 1, 3, time.Now()))

	chat, err := repo.GetOrCreateChat(context.Background(), 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 8, chat.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateChatRejectsSelf(t *testing.T) {
	db, _ := newMockDB(t)
	_, err := NewChatRepo(db).GetOrCreateChat(context.Background(), 4, 4)
	assert.ErrorIs(t, err, ErrSelfChat)
}

func TestGetChatNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM chats WHERE id=$1`)).WithArgs(3).WillReturnError(sql.ErrNoRows)

	_, err := NewChatRepo(db).GetChat(context.Background(), 3)
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestGetUserByHandle(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE UPPER(handle)=UPPER($1)`)).
		WithArgs("SCHAT_bob").
		WillReturnRows(sqlmock.NewRows([]string{"id", "display_name", "handle", "is_online", "last_seen", "is_ai", "created_at"}).
			AddRow(2, "Bob", "SCHAT_bob", true, nil, false, time.Now()))

	user, err := repo.GetUserByHandle(context.Background(), " SCHAT_bob ")
	require.NoError(t, err)
	assert.Equal(t, 2, user.ID)
	assert.Nil(t, user.LastSeen)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureAIUserReturnsExisting(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE is_ai LIMIT 1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "display_name", "handle", "is_online", "last_seen", "is_ai", "created_at"}).
			AddRow(1, "Super AI", "SCHAT_superai", true, nil, true, time.Now()))

	user, err := repo.EnsureAIUser(context.Background(), "Super AI", "SCHAT_superai")
	require.NoError(t, err)
	assert.True(t, user.IsAI)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteMessagesOlderThan(t *testing.T) {
	db, mock := newMockDB(t)
	cutoff := time.Now().Add(-72 * time.Hour)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM messages WHERE created_at < $1`)).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := NewMessageRepo(db).DeleteMessagesOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
}
