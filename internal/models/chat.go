package models

import "time"

// Chat represents a private chat between exactly two users.
// Rows are stored with User1ID < User2ID.
type Chat struct {
	ID        int       `db:"id" json:"id"`
	User1ID   int       `db:"user1_id" json:"user1Id"`
	User2ID   int       `db:"user2_id" json:"user2Id"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// HasParticipant reports whether userID is one of the two chat members.
func (c Chat) HasParticipant(userID int) bool {
	return c.User1ID == userID || c.User2ID == userID
}

// OtherParticipant returns the member that is not userID.
func (c Chat) OtherParticipant(userID int) int {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}

// IsSelfChat reports a degenerate chat with the same user on both sides.
func (c Chat) IsSelfChat() bool {
	return c.User1ID == c.User2ID
}

// ChatSummary provides API-friendly view of a chat for a user.
type ChatSummary struct {
	ChatID        int        `db:"id" json:"chatId"`
	FriendID      int        `db:"friend_id" json:"friendId"`
	FriendName    string     `db:"friend_name" json:"friendName"`
	FriendHandle  string     `db:"friend_handle" json:"friendHandle"`
	FriendIsAI    bool       `db:"friend_is_ai" json:"friendIsAI"`
	FriendOnline  bool       `db:"friend_is_online" json:"friendOnline"`
	LastMessage   *string    `db:"last_message" json:"lastMessage,omitempty"`
	LastMessageAt *time.Time `db:"last_message_at" json:"lastMessageAt,omitempty"`
	UnreadCount   int        `db:"unread_count" json:"unreadCount"`
	Created       time.Time  `db:"created_at" json:"createdAt"`
}
