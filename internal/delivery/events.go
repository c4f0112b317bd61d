package delivery

import (
	"context"

	"schat-service/internal/models"
	"schat-service/internal/observability"
)

const (
	routingCreated = "message_events.created"
	routingStatus  = "message_events.status"
)

func publishCreated(ctx context.Context, m models.Message) {
	_ = observability.PublishEvent(ctx, routingCreated, observability.EventEnvelope{
		EventType: "message_events",
		EventName: "created",
		Payload: map[string]interface{}{
			"message_id":   m.ID,
			"chat_id":      m.ChatID,
			"sender_id":    m.SenderID,
			"message_type": m.MessageType,
			"status":       m.Status,
			"created_at":   m.CreatedAt,
		},
	}, observability.BuildHeaders("", observability.TraceID(ctx)))
}

func publishStatus(ctx context.Context, messageID, chatID int, status models.MessageStatus) {
	_ = observability.PublishEvent(ctx, routingStatus, observability.EventEnvelope{
		EventType: "message_events",
		EventName: "status",
		Payload: map[string]interface{}{
			"message_id": messageID,
			"chat_id":    chatID,
			"status":     status,
		},
	}, observability.BuildHeaders("", observability.TraceID(ctx)))
}
