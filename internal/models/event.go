package models

import "encoding/json"

// EventType tags realtime frames in both directions.
type EventType string

// Client to server.
const (
	EventAuth         EventType = "auth"
	EventSendMessage  EventType = "send_message"
	EventReadMessages EventType = "read_messages"
	EventTyping       EventType = "typing"
)

// Server to client.
const (
	EventAuthSuccess      EventType = "auth_success"
	EventAuthError        EventType = "auth_error"
	EventNewMessage       EventType = "new_message"
	EventMessageSent      EventType = "message_sent"
	EventMessageDelivered EventType = "message_delivered"
	EventMessageRead      EventType = "message_read"
	EventTypingStatus     EventType = "typing_status"
	EventError            EventType = "error"
)

// InboundEvent is a decoded client frame. Only the fields relevant to Type are set.
type InboundEvent struct {
	Type     EventType `json:"type"`
	Token    string    `json:"token,omitempty"`
	ChatID   int       `json:"chatId,omitempty"`
	IsTyping bool      `json:"isTyping,omitempty"`
	Outgoing
}

// DecodeInbound parses a raw client frame.
func DecodeInbound(raw []byte) (InboundEvent, error) {
	var ev InboundEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return InboundEvent{}, err
	}
	// chatId is shared by the envelope and the embedded payload.
	ev.Outgoing.ChatID = ev.ChatID
	return ev, nil
}

// Event is a server frame.
type Event struct {
	Type      EventType          `json:"type"`
	UserID    int                `json:"userId,omitempty"`
	Message   *MessageWithSender `json:"message,omitempty"`
	MessageID int                `json:"messageId,omitempty"`
	ChatID    int                `json:"chatId,omitempty"`
	IsTyping  *bool              `json:"isTyping,omitempty"`
	Text      string             `json:"-"`
	Error     string             `json:"error,omitempty"`
}

// MarshalJSON keeps auth_error's human text under "message" as clients expect.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	if e.Type == EventAuthError {
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Message string    `json:"message"`
		}{Type: e.Type, Message: e.Text})
	}
	return json.Marshal(plain(e))
}

func AuthSuccess(userID int) Event {
	return Event{Type: EventAuthSuccess, UserID: userID}
}

func AuthError(text string) Event {
	return Event{Type: EventAuthError, Text: text}
}

func NewMessageEvent(msg MessageWithSender) Event {
	return Event{Type: EventNewMessage, Message: &msg}
}

func MessageSent(msg MessageWithSender) Event {
	return Event{Type: EventMessageSent, Message: &msg}
}

func MessageDelivered(messageID, chatID int) Event {
	return Event{Type: EventMessageDelivered, MessageID: messageID, ChatID: chatID}
}

func MessageRead(messageID, chatID int) Event {
	return Event{Type: EventMessageRead, MessageID: messageID, ChatID: chatID}
}

func TypingStatus(chatID, userID int, isTyping bool) Event {
	return Event{Type: EventTypingStatus, ChatID: chatID, UserID: userID, IsTyping: &isTyping}
}

func ErrorEvent(text string) Event {
	return Event{Type: EventError, Error: text}
}
