// Package delivery persists chat messages, fans them out to live connections
// and advances their sent/delivered/read status.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"schat-service/internal/aibridge"
	"schat-service/internal/models"
	"schat-service/internal/observability"
	"schat-service/internal/realtime"
	"schat-service/internal/repositories"
)

var (
	ErrInvalidPayload = errors.New("invalid message payload")
	ErrNotParticipant = errors.New("user is not a participant of this chat")
	ErrSelfChat       = repositories.ErrSelfChat
	ErrClosed         = errors.New("delivery coordinator closed")
)

// UserStore resolves user profiles.
type UserStore interface {
	GetUser(ctx context.Context, userID int) (models.User, error)
}

// ChatStore resolves and lazily creates 1:1 chats.
type ChatStore interface {
	GetChat(ctx context.Context, chatID int) (models.Chat, error)
	GetOrCreateChat(ctx context.Context, userID int, otherID int) (models.Chat, error)
}

// MessageStore is the durable message log.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg models.NewMessage) (models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	UpdateMessageStatus(ctx context.Context, messageID int, status models.MessageStatus) (bool, error)
	MarkChatRead(ctx context.Context, chatID int, readerID int) ([]models.Message, error)
}

// Directory finds the live connection of a user.
type Directory interface {
	Lookup(userID int) (realtime.Conn, bool)
}

// Replier produces the assistant's answer. It never fails.
type Replier interface {
	Reply(ctx context.Context, req aibridge.Request) aibridge.Reply
}

// Deps wires a Coordinator. Bridge and AIUser are optional; without them the
// assistant is treated like any other offline user.
type Deps struct {
	Users    UserStore
	Chats    ChatStore
	Messages MessageStore
	Conns    Directory
	Bridge   Replier
	AIUser   models.User
}

// Coordinator is the single path through which messages are created and
// their status changes.
type Coordinator struct {
	users    UserStore
	chats    ChatStore
	messages MessageStore
	conns    Directory
	bridge   Replier
	aiUser   models.User

	locks  *chatLocks
	tracer trace.Tracer

	// per-chat AI mailboxes; a key is present while its worker runs
	mailMu    sync.Mutex
	mailboxes map[int][]aiJob
	closed    bool
	workers   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Coordinator.
func New(d Deps) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		users:     d.Users,
		chats:     d.Chats,
		messages:  d.Messages,
		conns:     d.Conns,
		bridge:    d.Bridge,
		aiUser:    d.AIUser,
		locks:     newChatLocks(),
		tracer:    observability.Tracer("delivery"),
		mailboxes: make(map[int][]aiJob),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// AIUserID returns the assistant's user id, or 0 when the assistant is disabled.
func (c *Coordinator) AIUserID() int {
	if c.bridge == nil {
		return 0
	}
	return c.aiUser.ID
}

// Submit persists a message from senderID and attempts to push it. Push
// failures are logged and never returned; the returned message carries the
// status reached by the time Submit returns.
func (c *Coordinator) Submit(ctx context.Context, senderID int, out models.Outgoing) (models.MessageWithSender, error) {
	ctx, span := c.tracer.Start(ctx, "delivery.Submit", trace.WithAttributes(attribute.Int("sender.id", senderID)))
	defer span.End()

	msg, err := c.submit(ctx, senderID, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return msg, err
}

func (c *Coordinator) submit(ctx context.Context, senderID int, out models.Outgoing) (models.MessageWithSender, error) {
	out = out.Normalize()
	if err := out.Validate(); err != nil {
		return models.MessageWithSender{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	sender, err := c.users.GetUser(ctx, senderID)
	if err != nil {
		return models.MessageWithSender{}, err
	}
	chat, err := c.resolveChat(ctx, senderID, out)
	if err != nil {
		return models.MessageWithSender{}, err
	}
	recipientID := chat.OtherParticipant(senderID)
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("chat.id", chat.ID))

	release := c.locks.Lock(chat.ID)
	stored, err := c.messages.CreateMessage(ctx, out.ToNew(chat.ID, senderID))
	release()
	if err != nil {
		return models.MessageWithSender{}, fmt.Errorf("persist message: %w", err)
	}
	publishCreated(ctx, stored)

	full := withSender(stored, sender)
	if c.isAI(recipientID) {
		observability.IncDelivery(observability.DeliveryAI)
		c.acknowledge(senderID, full)
		c.enqueue(aiJob{chatID: chat.ID, humanID: senderID, trigger: stored})
		return full, nil
	}

	c.deliver(ctx, recipientID, &full)
	c.acknowledge(senderID, full)
	return full, nil
}

// MarkRead marks every unread message addressed to userID in chatID as read
// and notifies each original sender. Repeating it with nothing new is a no-op.
func (c *Coordinator) MarkRead(ctx context.Context, userID, chatID int) ([]models.Message, error) {
	ctx, span := c.tracer.Start(ctx, "delivery.MarkRead", trace.WithAttributes(
		attribute.Int("user.id", userID),
		attribute.Int("chat.id", chatID),
	))
	defer span.End()

	chat, err := c.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}

	release := c.locks.Lock(chatID)
	read, err := c.messages.MarkChatRead(ctx, chatID, userID)
	release()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("mark read: %w", err)
	}
	if len(read) == 0 {
		return read, nil
	}

	observability.IncStatusTransition(string(models.StatusRead), len(read))
	for _, m := range read {
		publishStatus(ctx, m.ID, chatID, models.StatusRead)
		c.notify(m.SenderID, models.MessageRead(m.ID, chatID))
	}
	log.Debug().Int("chat_id", chatID).Int("user_id", userID).Int("count", len(read)).Msg("messages marked read")
	return read, nil
}

// Wait blocks until every queued AI reply has been persisted or ctx ends.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting AI jobs and drains the queued ones until ctx ends,
// after which in-flight bridge calls are cancelled.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mailMu.Lock()
	c.closed = true
	c.mailMu.Unlock()

	err := c.Wait(ctx)
	c.cancel()
	return err
}

func (c *Coordinator) resolveChat(ctx context.Context, senderID int, out models.Outgoing) (models.Chat, error) {
	if out.ChatID > 0 {
		chat, err := c.chats.GetChat(ctx, out.ChatID)
		if err != nil {
			return models.Chat{}, err
		}
		if !chat.HasParticipant(senderID) {
			return models.Chat{}, ErrNotParticipant
		}
		if chat.IsSelfChat() {
			return models.Chat{}, ErrSelfChat
		}
		return chat, nil
	}

	if out.RecipientID == senderID {
		return models.Chat{}, ErrSelfChat
	}
	if _, err := c.users.GetUser(ctx, out.RecipientID); err != nil {
		return models.Chat{}, err
	}
	return c.chats.GetOrCreateChat(ctx, senderID, out.RecipientID)
}

// deliver pushes msg to recipientID and, when the push succeeds, advances the
// stored status to delivered and tells the sender.
func (c *Coordinator) deliver(ctx context.Context, recipientID int, msg *models.MessageWithSender) {
	conn, ok := c.conns.Lookup(recipientID)
	if !ok {
		observability.IncDelivery(observability.DeliveryOffline)
		return
	}
	if err := conn.Send(models.NewMessageEvent(*msg)); err != nil {
		observability.IncDelivery(observability.DeliveryPushFailed)
		log.Warn().Err(err).Int("message_id", msg.ID).Int("recipient_id", recipientID).Msg("push failed, message stays sent")
		return
	}
	observability.IncDelivery(observability.DeliveryDelivered)

	release := c.locks.Lock(msg.ChatID)
	advanced, err := c.advance(ctx, msg, models.StatusDelivered)
	release()
	if err != nil {
		log.Error().Err(err).Int("message_id", msg.ID).Msg("failed to record delivery")
		return
	}
	if !advanced {
		return
	}

	observability.IncStatusTransition(string(models.StatusDelivered), 1)
	publishStatus(ctx, msg.ID, msg.ChatID, models.StatusDelivered)

	// a read committed after the lock was released has already told the sender
	if cur, err := c.messages.GetMessage(ctx, msg.ID); err == nil && cur.Status == models.StatusRead {
		msg.Status = cur.Status
		return
	}
	c.notify(msg.SenderID, models.MessageDelivered(msg.ID, msg.ChatID))
}

// advance moves msg to status when the stored status is behind it and
// otherwise leaves msg carrying the stored status. Callers hold the chat lock.
func (c *Coordinator) advance(ctx context.Context, msg *models.MessageWithSender, status models.MessageStatus) (bool, error) {
	cur, err := c.messages.GetMessage(ctx, msg.ID)
	if err != nil {
		return false, err
	}
	if !models.CanTransition(cur.Status, status) {
		msg.Status = cur.Status
		return false, nil
	}
	advanced, err := c.messages.UpdateMessageStatus(ctx, msg.ID, status)
	if err != nil || !advanced {
		return false, err
	}
	msg.Status = status
	return true, nil
}

// acknowledge sends the sender its own message back as message_sent.
func (c *Coordinator) acknowledge(senderID int, msg models.MessageWithSender) {
	c.notify(senderID, models.MessageSent(msg))
}

func (c *Coordinator) notify(userID int, ev models.Event) {
	if c.isAI(userID) {
		return
	}
	conn, ok := c.conns.Lookup(userID)
	if !ok {
		return
	}
	if err := conn.Send(ev); err != nil {
		log.Debug().Err(err).Int("user_id", userID).Str("event", string(ev.Type)).Msg("notification dropped")
	}
}

func (c *Coordinator) isAI(userID int) bool {
	return c.bridge != nil && c.aiUser.ID != 0 && userID == c.aiUser.ID
}

func withSender(m models.Message, sender models.User) models.MessageWithSender {
	return models.MessageWithSender{Message: m, SenderName: sender.DisplayName, SenderHandle: sender.Handle}
}
