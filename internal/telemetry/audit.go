package telemetry

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

// AuditEmitter records privileged actions on the event bus.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level   string         `json:"level"`
	Action  string         `json:"action"`
	Text    string         `json:"text"`
	Details map[string]any `json:"details,omitempty"`
}

// AuditEntry is one privileged action.
type AuditEntry struct {
	Level     string
	Action    string
	Text      string
	RequestID string
	UserID    int
	Details   map[string]any
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
	}
}

// Emit logs entry and publishes it. Publish failures are logged, not returned.
func (e *AuditEmitter) Emit(ctx context.Context, entry AuditEntry) {
	if e == nil || e.publisher == nil {
		return
	}

	var userID *string
	if entry.UserID > 0 {
		id := strconv.Itoa(entry.UserID)
		userID = &id
	}
	level := entry.Level
	if level == "" {
		level = "INFO"
	}

	log.Info().
		Str("action", entry.Action).
		Str("request_id", entry.RequestID).
		Int("user_id", entry.UserID).
		Str("text", entry.Text).
		Msg("audit emit")

	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     entry.RequestID,
		UserID:        userID,
		Payload: AuditPayload{
			Level:   level,
			Action:  entry.Action,
			Text:    entry.Text,
			Details: entry.Details,
		},
	}

	headers := map[string]string{}
	if entry.RequestID != "" {
		headers["x-request-id"] = entry.RequestID
	}
	if err := e.publisher.Publish(ctx, e.routingKey, envelope, headers); err != nil {
		log.Warn().Err(err).Str("action", entry.Action).Msg("audit publish failed")
	}
}
