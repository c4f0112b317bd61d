package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"schat-service/internal/models"
)

var (
	ErrChatNotFound = errors.New("chat not found")
	ErrSelfChat     = errors.New("cannot create chat with self")
)

const chatColumns = `id, user1_id, user2_id, created_at`

// ChatRepository abstracts chat persistence.
type ChatRepository interface {
	GetOrCreateChat(ctx context.Context, userID int, otherID int) (models.Chat, error)
	GetChat(ctx context.Context, chatID int) (models.Chat, error)
	ListChats(ctx context.Context, userID int) ([]models.ChatSummary, error)
}

// ChatRepo is a sqlx implementation of ChatRepository.
type ChatRepo struct {
	db *sqlx.DB
}

// NewChatRepo constructs a ChatRepo.
func NewChatRepo(db *sqlx.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

// GetOrCreateChat returns the chat for the unordered pair, creating it when absent.
func (r *ChatRepo) GetOrCreateChat(ctx context.Context, userID int, otherID int) (models.Chat, error) {
	if userID == otherID {
		return models.Chat{}, ErrSelfChat
	}
	user1, user2 := userID, otherID
	if user1 > user2 {
		user1, user2 = user2, user1
	}

	var chat models.Chat
	query := `SELECT ` + chatColumns + ` FROM chats WHERE user1_id=$1 AND user2_id=$2`
	err := r.db.GetContext(ctx, &chat, query, user1, user2)
	if err == nil {
		return chat, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, err
	}

	err = r.db.QueryRowxContext(ctx, `INSERT INTO chats (user1_id, user2_id) VALUES ($1, $2)
        ON CONFLICT (user1_id, user2_id) DO NOTHING
        RETURNING `+chatColumns, user1, user2).StructScan(&chat)
	if errors.Is(err, sql.ErrNoRows) {
		// concurrent creator won; read its row
		err = r.db.GetContext(ctx, &chat, query, user1, user2)
	}
	if err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

// GetChat fetches a chat by id.
func (r *ChatRepo) GetChat(ctx context.Context, chatID int) (models.Chat, error) {
	var chat models.Chat
	err := r.db.GetContext(ctx, &chat, `SELECT `+chatColumns+` FROM chats WHERE id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, err
}

// ListChats returns the user's chats, newest activity first, with the other
// participant's profile, last message and unread count.
func (r *ChatRepo) ListChats(ctx context.Context, userID int) ([]models.ChatSummary, error) {
	query := `SELECT c.id,
            u.id AS friend_id, u.display_name AS friend_name, u.handle AS friend_handle,
            u.is_ai AS friend_is_ai, u.is_online AS friend_is_online,
            lm.content AS last_message, lm.created_at AS last_message_at,
            (SELECT COUNT(*) FROM messages m
                WHERE m.chat_id = c.id AND m.sender_id <> $1 AND m.status <> 'read') AS unread_count,
            c.created_at
        FROM chats c
        JOIN users u ON u.id = CASE WHEN c.user1_id = $1 THEN c.user2_id ELSE c.user1_id END
        LEFT JOIN LATERAL (
            SELECT content, created_at FROM messages
            WHERE chat_id = c.id ORDER BY created_at DESC, id DESC LIMIT 1
        ) lm ON TRUE
        WHERE (c.user1_id = $1 OR c.user2_id = $1) AND c.user1_id <> c.user2_id
        ORDER BY COALESCE(lm.created_at, c.created_at) DESC`

	var result []models.ChatSummary
	if err := r.db.SelectContext(ctx, &result, query, userID); err != nil {
		return nil, err
	}
	return result, nil
}
