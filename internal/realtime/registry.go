// Package realtime tracks which connection currently represents each user.
package realtime

import (
	"context"
	"sync"

	"schat-service/internal/models"
	"schat-service/internal/observability"
)

// Conn is a live client connection able to receive server events.
// Implementations must be comparable and safe for concurrent Send.
type Conn interface {
	Send(ev models.Event) error
}

type binding struct {
	conn Conn
	info ConnInfo
}

// Registry maps a user to at most one live connection. The most recent
// registration wins; replaced connections are not closed here.
type Registry struct {
	mu    sync.RWMutex
	users map[int]binding
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{users: make(map[int]binding)}
}

// Register binds conn to userID and reports whether another connection was replaced.
func (r *Registry) Register(userID int, conn Conn, info ConnInfo) bool {
	info.UserID = userID

	r.mu.Lock()
	prev, replaced := r.users[userID]
	r.users[userID] = binding{conn: conn, info: info}
	r.mu.Unlock()

	if replaced && prev.conn == conn {
		return false
	}
	if replaced {
		observability.IncWSEvent(EventSuperseded)
		PublishLifecycle(context.Background(), EventSuperseded, prev.info, "replaced by "+info.ConnID)
	} else {
		observability.IncWSActive()
	}
	return replaced
}

// Unregister removes the binding only if conn is still the current one for
// userID. It reports whether a binding was removed.
func (r *Registry) Unregister(userID int, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.users[userID]
	if !ok || cur.conn != conn {
		return false
	}
	delete(r.users, userID)
	observability.DecWSActive()
	return true
}

// Lookup returns the current connection for userID.
func (r *Registry) Lookup(userID int) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.users[userID]
	return b.conn, ok
}

// Count returns the number of users with a bound connection.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
