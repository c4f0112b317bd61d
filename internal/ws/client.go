package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"schat-service/internal/models"
)

var ErrClientClosed = errors.New("websocket client closed")

// Client is one upgraded connection. Writes are serialized and bounded by a
// deadline; reads belong to the handler's loop.
type Client struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

func newClient(conn *websocket.Conn, writeTimeout time.Duration) *Client {
	return &Client{conn: conn, writeTimeout: writeTimeout}
}

// Send writes ev as a JSON text frame.
func (c *Client) Send(ev models.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// Close sends a close frame with code and reason and closes the socket. It is
// safe to call more than once.
func (c *Client) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(c.writeTimeout))
	return c.conn.Close()
}
