package delivery

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"schat-service/internal/aibridge"
	"schat-service/internal/models"
)

type aiJob struct {
	chatID  int
	humanID int
	trigger models.Message
}

// enqueue appends job to its chat's mailbox and starts the chat worker if
// none is running. Jobs of one chat run in order; chats run in parallel.
func (c *Coordinator) enqueue(job aiJob) {
	c.mailMu.Lock()
	defer c.mailMu.Unlock()
	if c.closed {
		log.Warn().Int("chat_id", job.chatID).Int("message_id", job.trigger.ID).Msg("coordinator closed, ai reply skipped")
		return
	}
	queue, running := c.mailboxes[job.chatID]
	c.mailboxes[job.chatID] = append(queue, job)
	if running {
		return
	}
	c.workers.Add(1)
	go c.drain(job.chatID)
}

func (c *Coordinator) drain(chatID int) {
	defer c.workers.Done()
	for {
		c.mailMu.Lock()
		queue := c.mailboxes[chatID]
		if len(queue) == 0 {
			delete(c.mailboxes, chatID)
			c.mailMu.Unlock()
			return
		}
		job := queue[0]
		c.mailboxes[chatID] = queue[1:]
		c.mailMu.Unlock()

		c.answer(job)
	}
}

// answer obtains the assistant's reply for job and stores it as a message
// from the AI user. A reply is persisted even when the bridge fell back.
func (c *Coordinator) answer(job aiJob) {
	ctx, span := c.tracer.Start(c.ctx, "delivery.AIReply", trace.WithAttributes(
		attribute.Int("chat.id", job.chatID),
		attribute.Int("message.id", job.trigger.ID),
	))
	defer span.End()

	reply := c.bridge.Reply(ctx, aibridge.Request{
		UserID:    job.humanID,
		ChatID:    job.chatID,
		AIUserID:  c.aiUser.ID,
		MessageID: job.trigger.ID,
		Content:   job.trigger.Content,
	})
	span.SetAttributes(attribute.String("ai.outcome", string(reply.Outcome)))

	in := models.NewMessage{
		ChatID:      job.chatID,
		SenderID:    c.aiUser.ID,
		Content:     reply.Content,
		MessageType: reply.MessageType,
		FileURL:     reply.FileURL,
	}
	// the reply must land even if shutdown cancelled the bridge call
	persistCtx := context.WithoutCancel(ctx)

	release := c.locks.Lock(job.chatID)
	stored, err := c.messages.CreateMessage(persistCtx, in)
	release()
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Int("chat_id", job.chatID).Int("trigger_id", job.trigger.ID).Msg("failed to persist ai reply")
		return
	}
	publishCreated(persistCtx, stored)

	full := withSender(stored, c.aiUser)
	c.deliver(persistCtx, job.humanID, &full)
}
