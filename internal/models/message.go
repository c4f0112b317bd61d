package models

import (
	"errors"
	"strings"
	"time"
)

// MessageType classifies message content.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile:
		return true
	}
	return false
}

// MessageStatus is the delivery state of a message. It only moves forward:
// sent -> delivered -> read, with sent -> read allowed directly.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Rank orders statuses; unknown statuses rank 0.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// Valid reports whether s is a known status.
func (s MessageStatus) Valid() bool {
	return s.Rank() > 0
}

// CanTransition reports whether a message in status from may move to to.
func CanTransition(from, to MessageStatus) bool {
	return from.Valid() && to.Valid() && to.Rank() > from.Rank()
}

// Predecessors lists the statuses that may legally advance to to.
func Predecessors(to MessageStatus) []string {
	var out []string
	for _, s := range []MessageStatus{StatusSent, StatusDelivered, StatusRead} {
		if CanTransition(s, to) {
			out = append(out, string(s))
		}
	}
	return out
}

// Message represents a chat message.
type Message struct {
	ID          int           `db:"id" json:"id"`
	ChatID      int           `db:"chat_id" json:"chatId"`
	SenderID    int           `db:"sender_id" json:"senderId"`
	Content     string        `db:"content" json:"content"`
	MessageType MessageType   `db:"message_type" json:"messageType"`
	FileURL     *string       `db:"file_url" json:"fileUrl,omitempty"`
	FileName    *string       `db:"file_name" json:"fileName,omitempty"`
	FileSize    *int64        `db:"file_size" json:"fileSize,omitempty"`
	Status      MessageStatus `db:"status" json:"status"`
	CreatedAt   time.Time     `db:"created_at" json:"createdAt"`
}

// MessageWithSender decorates a message with the sender's public profile.
type MessageWithSender struct {
	Message
	SenderName   string `db:"sender_name" json:"senderName"`
	SenderHandle string `db:"sender_handle" json:"senderHandle"`
}

// NewMessage is the persistence input for a message row.
type NewMessage struct {
	ChatID      int
	SenderID    int
	Content     string
	MessageType MessageType
	FileURL     *string
	FileName    *string
	FileSize    *int64
}

var (
	ErrEmptyMessage      = errors.New("message has neither content nor attachment")
	ErrUnknownType       = errors.New("unknown message type")
	ErrMissingTarget     = errors.New("chat id or recipient id required")
	ErrAttachmentMissing = errors.New("attachment url required for non-text message")
)

// Outgoing is a message submission, either into an existing chat (ChatID)
// or to a recipient the sender may not have a chat with yet (RecipientID).
type Outgoing struct {
	ChatID      int         `json:"chatId,omitempty"`
	RecipientID int         `json:"recipientId,omitempty"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"messageType,omitempty"`
	FileURL     *string     `json:"fileUrl,omitempty"`
	FileName    *string     `json:"fileName,omitempty"`
	FileSize    *int64      `json:"fileSize,omitempty"`
}

// Normalize defaults the message type and trims surrounding whitespace.
func (o Outgoing) Normalize() Outgoing {
	if o.MessageType == "" {
		o.MessageType = MessageTypeText
	}
	o.Content = strings.TrimSpace(o.Content)
	return o
}

// Validate checks the payload shape. Call Normalize first.
func (o Outgoing) Validate() error {
	if o.ChatID <= 0 && o.RecipientID <= 0 {
		return ErrMissingTarget
	}
	if !o.MessageType.Valid() {
		return ErrUnknownType
	}
	hasFile := o.FileURL != nil && strings.TrimSpace(*o.FileURL) != ""
	if o.MessageType != MessageTypeText && !hasFile {
		return ErrAttachmentMissing
	}
	if o.Content == "" && !hasFile {
		return ErrEmptyMessage
	}
	return nil
}

// ToNew builds the persistence input for chatID and senderID.
func (o Outgoing) ToNew(chatID, senderID int) NewMessage {
	return NewMessage{
		ChatID:      chatID,
		SenderID:    senderID,
		Content:     o.Content,
		MessageType: o.MessageType,
		FileURL:     o.FileURL,
		FileName:    o.FileName,
		FileSize:    o.FileSize,
	}
}
