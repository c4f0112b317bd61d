// Package presence relays ephemeral typing signals between chat participants.
package presence

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"schat-service/internal/models"
	"schat-service/internal/observability"
	"schat-service/internal/realtime"
)

var ErrNotParticipant = errors.New("user is not a participant of this chat")

// Typing relay outcomes.
const (
	OutcomeRelayed = "relayed"
	OutcomeOffline = "offline"
	OutcomeFailed  = "failed"
)

// ChatLookup resolves a chat by id.
type ChatLookup interface {
	GetChat(ctx context.Context, chatID int) (models.Chat, error)
}

// Directory finds the live connection of a user.
type Directory interface {
	Lookup(userID int) (realtime.Conn, bool)
}

// Broadcaster forwards typing state to the other participant of a chat. Nothing
// is stored or retried.
type Broadcaster struct {
	chats ChatLookup
	conns Directory
}

func NewBroadcaster(chats ChatLookup, conns Directory) *Broadcaster {
	return &Broadcaster{chats: chats, conns: conns}
}

// SetTyping relays userID's typing state in chatID. It reports whether the
// signal reached a live connection; an unreachable peer is not an error.
func (b *Broadcaster) SetTyping(ctx context.Context, userID, chatID int, isTyping bool) (bool, error) {
	chat, err := b.chats.GetChat(ctx, chatID)
	if err != nil {
		return false, err
	}
	if !chat.HasParticipant(userID) {
		return false, ErrNotParticipant
	}
	peer := chat.OtherParticipant(userID)

	conn, ok := b.conns.Lookup(peer)
	if !ok {
		observability.IncTyping(OutcomeOffline)
		return false, nil
	}
	if err := conn.Send(models.TypingStatus(chatID, userID, isTyping)); err != nil {
		observability.IncTyping(OutcomeFailed)
		log.Debug().Err(err).Int("chat_id", chatID).Int("peer_id", peer).Msg("typing signal dropped")
		return false, nil
	}
	observability.IncTyping(OutcomeRelayed)
	return true, nil
}
