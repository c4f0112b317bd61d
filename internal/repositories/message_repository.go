package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"schat-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

const messageColumns = `id, chat_id, sender_id, content, message_type, file_url, file_name, file_size, status, created_at`

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.NewMessage) (models.Message, error)
	GetChatMessages(ctx context.Context, chatID int) ([]models.MessageWithSender, error)
	ListRecentMessages(ctx context.Context, chatID int, limit int) ([]models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	UpdateMessageStatus(ctx context.Context, messageID int, status models.MessageStatus) (bool, error)
	MarkChatRead(ctx context.Context, chatID int, readerID int) ([]models.Message, error)
	DeleteMessagesOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteChatMessages(ctx context.Context, chatID int) (int64, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message with status sent.
func (r *MessageRepo) CreateMessage(ctx context.Context, in models.NewMessage) (models.Message, error) {
	msgType := in.MessageType
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (chat_id, sender_id, content, message_type, file_url, file_name, file_size, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING `+messageColumns,
		in.ChatID, in.SenderID, in.Content, msgType, in.FileURL, in.FileName, in.FileSize, models.StatusSent).
		StructScan(&msg)
	return msg, err
}

// GetChatMessages returns the chat history, oldest first, with sender profiles.
func (r *MessageRepo) GetChatMessages(ctx context.Context, chatID int) ([]models.MessageWithSender, error) {
	query := `SELECT m.id, m.chat_id, m.sender_id, m.content, m.message_type, m.file_url, m.file_name,
            m.file_size, m.status, m.created_at,
            u.display_name AS sender_name, u.handle AS sender_handle
        FROM messages m
        JOIN users u ON u.id = m.sender_id
        WHERE m.chat_id=$1
        ORDER BY m.created_at ASC, m.id ASC`
	var msgs []models.MessageWithSender
	err := r.db.SelectContext(ctx, &msgs, query, chatID)
	return msgs, err
}

// ListRecentMessages returns at most limit trailing messages, oldest first.
func (r *MessageRepo) ListRecentMessages(ctx context.Context, chatID int, limit int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM (
            SELECT ` + messageColumns + ` FROM messages WHERE chat_id=$1
            ORDER BY created_at DESC, id DESC LIMIT $2
        ) recent ORDER BY created_at ASC, id ASC`
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, chatID, limit)
	return msgs, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// UpdateMessageStatus advances a message to status. It reports false, without
// error, when the current status does not precede the target.
func (r *MessageRepo) UpdateMessageStatus(ctx context.Context, messageID int, status models.MessageStatus) (bool, error) {
	from := models.Predecessors(status)
	if len(from) == 0 {
		return false, nil
	}
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET status=$2 WHERE id=$1 AND status = ANY($3)`,
		messageID, status, pq.Array(from))
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkChatRead moves every unread message not sent by readerID to read and
// returns the transitioned rows.
func (r *MessageRepo) MarkChatRead(ctx context.Context, chatID int, readerID int) ([]models.Message, error) {
	query := `UPDATE messages SET status='read'
        WHERE chat_id=$1 AND sender_id<>$2 AND status = ANY($3)
        RETURNING ` + messageColumns
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, chatID, readerID, pq.Array(models.Predecessors(models.StatusRead)))
	return msgs, err
}

// DeleteMessagesOlderThan purges messages created before cutoff.
func (r *MessageRepo) DeleteMessagesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteChatMessages purges a chat's history.
func (r *MessageRepo) DeleteChatMessages(ctx context.Context, chatID int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE chat_id=$1`, chatID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
