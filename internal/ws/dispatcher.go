package ws

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"schat-service/internal/delivery"
	"schat-service/internal/models"
	"schat-service/internal/observability"
	"schat-service/internal/realtime"
	"schat-service/internal/repositories"
)

// Client-facing error texts.
const (
	textInvalidToken     = "Invalid token"
	textNotAuthenticated = "Not authenticated"
	textBadFrame         = "Invalid message format"
	textUnknownType      = "Unknown event type"
	textSendFailed       = "Failed to send message"
	textReadFailed       = "Failed to mark messages as read"
	textNoAccess         = "Access denied"
	textChatNotFound     = "Chat not found"
)

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	VerifyToken(token string) (int, error)
}

// Messenger is the delivery surface used by the transport.
type Messenger interface {
	Submit(ctx context.Context, senderID int, out models.Outgoing) (models.MessageWithSender, error)
	MarkRead(ctx context.Context, userID, chatID int) ([]models.Message, error)
}

// TypingRelay forwards typing signals.
type TypingRelay interface {
	SetTyping(ctx context.Context, userID, chatID int, isTyping bool) (bool, error)
}

// OnlineMarker persists the online flag.
type OnlineMarker interface {
	UpdateUserOnlineStatus(ctx context.Context, userID int, online bool) error
}

// Binder binds authenticated connections to users.
type Binder interface {
	Register(userID int, conn realtime.Conn, info realtime.ConnInfo) bool
	Unregister(userID int, conn realtime.Conn) bool
}

// Session is the per-connection state seen by the dispatcher.
type Session struct {
	Conn   realtime.Conn
	Info   realtime.ConnInfo
	userID int
}

// UserID returns the authenticated user, or 0 before auth.
func (s *Session) UserID() int { return s.userID }

// Dispatcher routes decoded client frames to the core.
type Dispatcher struct {
	verifier  TokenVerifier
	binder    Binder
	users     OnlineMarker
	messenger Messenger
	typing    TypingRelay
	tracer    trace.Tracer
}

func NewDispatcher(verifier TokenVerifier, binder Binder, users OnlineMarker, messenger Messenger, typing TypingRelay) *Dispatcher {
	return &Dispatcher{
		verifier:  verifier,
		binder:    binder,
		users:     users,
		messenger: messenger,
		typing:    typing,
		tracer:    observability.Tracer("ws"),
	}
}

// Dispatch handles one raw frame. It returns false when the connection must
// be closed.
func (d *Dispatcher) Dispatch(ctx context.Context, s *Session, raw []byte) bool {
	ev, err := models.DecodeInbound(raw)
	if err != nil {
		observability.IncWSEvent("bad_frame")
		d.reply(s, models.ErrorEvent(textBadFrame))
		return true
	}

	ctx, span := d.tracer.Start(ctx, "ws."+string(ev.Type), trace.WithAttributes(
		attribute.String("ws.conn_id", s.Info.ConnID),
		attribute.Int("user.id", s.userID),
	))
	defer span.End()
	observability.IncWSEvent(string(ev.Type))

	if ev.Type == models.EventAuth {
		return d.Authenticate(ctx, s, ev.Token)
	}
	if s.userID == 0 {
		switch ev.Type {
		case models.EventSendMessage, models.EventReadMessages, models.EventTyping:
			d.reply(s, models.AuthError(textNotAuthenticated))
		default:
			d.reply(s, models.ErrorEvent(textUnknownType))
		}
		return true
	}

	switch ev.Type {
	case models.EventSendMessage:
		if _, err := d.messenger.Submit(ctx, s.userID, ev.Outgoing); err != nil {
			span.SetStatus(codes.Error, err.Error())
			d.reply(s, models.ErrorEvent(sendErrorText(err)))
		}
	case models.EventReadMessages:
		if _, err := d.messenger.MarkRead(ctx, s.userID, ev.ChatID); err != nil {
			span.SetStatus(codes.Error, err.Error())
			d.reply(s, models.ErrorEvent(readErrorText(err)))
		}
	case models.EventTyping:
		if _, err := d.typing.SetTyping(ctx, s.userID, ev.ChatID, ev.IsTyping); err != nil {
			log.Debug().Err(err).Int("user_id", s.userID).Int("chat_id", ev.ChatID).Msg("typing ignored")
		}
	default:
		d.reply(s, models.ErrorEvent(textUnknownType))
	}
	return true
}

// Authenticate binds s to the token's user. A failed attempt replies
// auth_error and asks for the connection to be closed.
func (d *Dispatcher) Authenticate(ctx context.Context, s *Session, token string) bool {
	userID, err := d.verifier.VerifyToken(token)
	if token == "" || err != nil || userID <= 0 {
		observability.IncWSEvent("auth_failed")
		log.Info().Err(err).Str("conn_id", s.Info.ConnID).Msg("websocket auth rejected")
		d.reply(s, models.AuthError(textInvalidToken))
		return false
	}

	if s.userID != 0 && s.userID != userID {
		d.release(ctx, s)
	}
	s.userID = userID
	s.Info.UserID = userID
	d.binder.Register(userID, s.Conn, s.Info)
	if err := d.users.UpdateUserOnlineStatus(ctx, userID, true); err != nil {
		log.Warn().Err(err).Int("user_id", userID).Msg("failed to mark user online")
	}
	realtime.PublishLifecycle(ctx, realtime.EventAuth, s.Info, "")
	d.reply(s, models.AuthSuccess(userID))
	return true
}

// Close releases the session's binding. The user is marked offline only if
// this connection was still the current one.
func (d *Dispatcher) Close(ctx context.Context, s *Session) {
	if s.userID == 0 {
		return
	}
	d.release(ctx, s)
	s.userID = 0
}

func (d *Dispatcher) release(ctx context.Context, s *Session) {
	if !d.binder.Unregister(s.userID, s.Conn) {
		return
	}
	if err := d.users.UpdateUserOnlineStatus(ctx, s.userID, false); err != nil {
		log.Warn().Err(err).Int("user_id", s.userID).Msg("failed to mark user offline")
	}
}

func (d *Dispatcher) reply(s *Session, ev models.Event) {
	if err := s.Conn.Send(ev); err != nil {
		log.Debug().Err(err).Str("conn_id", s.Info.ConnID).Str("event", string(ev.Type)).Msg("reply dropped")
	}
}

func sendErrorText(err error) string {
	switch {
	case errors.Is(err, delivery.ErrInvalidPayload):
		return err.Error()
	case errors.Is(err, delivery.ErrNotParticipant), errors.Is(err, delivery.ErrSelfChat):
		return textNoAccess
	case errors.Is(err, repositories.ErrChatNotFound), errors.Is(err, repositories.ErrUserNotFound):
		return textChatNotFound
	default:
		return textSendFailed
	}
}

func readErrorText(err error) string {
	switch {
	case errors.Is(err, delivery.ErrNotParticipant):
		return textNoAccess
	case errors.Is(err, repositories.ErrChatNotFound):
		return textChatNotFound
	default:
		return textReadFailed
	}
}
