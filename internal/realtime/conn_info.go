package realtime

import (
	"context"
	"time"

	"schat-service/internal/observability"
)

// ConnInfo describes a websocket connection for lifecycle events.
type ConnInfo struct {
	ConnID      string
	UserID      int
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// Lifecycle event names.
const (
	EventConnect     = "ws_connect"
	EventAuth        = "ws_auth"
	EventDisconnect  = "ws_disconnect"
	EventError       = "ws_error"
	EventSuperseded  = "ws_superseded"
	lifecycleRouting = "ws_events.connections"
)

// PublishLifecycle emits a ws_events envelope for info.
func PublishLifecycle(ctx context.Context, event string, info ConnInfo, reason string) {
	var duration int64
	if !info.ConnectedAt.IsZero() {
		duration = time.Since(info.ConnectedAt).Milliseconds()
	}
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": duration,
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
	_ = observability.PublishEvent(ctx, lifecycleRouting, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}
