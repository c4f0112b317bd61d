// Package ws serves the realtime websocket endpoint.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"schat-service/internal/config"
	"schat-service/internal/observability"
	"schat-service/internal/realtime"
)

// Handler upgrades GET /ws and runs one read loop per connection.
type Handler struct {
	dispatcher *Dispatcher
	cfg        config.WSConfig
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	clients map[*Client]struct{}
}

// NewHandler constructs a Handler.
func NewHandler(dispatcher *Dispatcher, cfg config.WSConfig) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		cfg:        cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*Client]struct{}),
	}
}

// Serve handles the upgrade. A ?token= query authenticates during the
// handshake; otherwise the client sends an auth frame first.
func (h *Handler) Serve(c *gin.Context) {
	ctx, span := observability.Tracer("ws").Start(c.Request.Context(), "ws.handshake")
	c.Request = c.Request.WithContext(ctx)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.End()
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := newClient(conn, h.cfg.WriteTimeout)
	session := &Session{
		Conn: client,
		Info: realtime.ConnInfo{
			ConnID:      uuid.NewString(),
			DeviceID:    observability.DeviceIDFromRequest(c.Request),
			IP:          observability.IPFromRequest(c.Request),
			RequestID:   observability.RequestIDFromRequest(c.Request),
			TraceID:     span.SpanContext().TraceID().String(),
			ConnectedAt: time.Now(),
		},
	}
	span.End()

	h.track(client)
	observability.IncWSEvent(realtime.EventConnect)
	realtime.PublishLifecycle(ctx, realtime.EventConnect, session.Info, "")

	reason := h.run(ctx, client, session, c.Query("token"))

	h.dispatcher.Close(context.WithoutCancel(ctx), session)
	_ = client.Close(websocket.CloseNormalClosure, "")
	h.untrack(client)
	observability.IncWSEvent(realtime.EventDisconnect)
	realtime.PublishLifecycle(context.WithoutCancel(ctx), realtime.EventDisconnect, session.Info, reason)
}

// run reads frames until the peer leaves or a frame asks for close. It
// returns the close reason.
func (h *Handler) run(ctx context.Context, client *Client, session *Session, token string) string {
	if token != "" && !h.dispatcher.Authenticate(ctx, session, token) {
		return "auth failed"
	}

	pongWait := 2 * h.cfg.PingInterval
	conn := client.conn
	conn.SetReadLimit(h.cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stop := make(chan struct{})
	defer close(stop)
	go h.keepalive(client, stop)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent(realtime.EventError)
				realtime.PublishLifecycle(ctx, realtime.EventError, session.Info, err.Error())
			}
			return err.Error()
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if !h.dispatcher.Dispatch(ctx, session, raw) {
			return "auth failed"
		}
	}
}

func (h *Handler) keepalive(client *Client, stop <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := client.ping(); err != nil {
				return
			}
		}
	}
}

// CloseAll closes every open connection, used on shutdown.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		_ = c.Close(websocket.CloseGoingAway, "server shutting down")
	}
}

// Open returns the number of upgraded connections still running.
func (h *Handler) Open() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Handler) track(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Handler) untrack(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}
