package realtime

import (
	"log/slog"
	"sync"

	v1 "tether/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

// Registry is the authoritative user <-> connection mapping.
//
// Invariant: at most one connection per user id at any instant. Registering
// a connection for an already-registered user evicts the prior connection
// with a "session replaced" close status before the new entry is inserted.
//
// Both map directions are mutated under one mutex, so register/unregister/
// lookup are linearizable with respect to each other.
type Registry struct {
	log *slog.Logger

	mu     sync.Mutex
	byUser map[string]*Client
	byConn map[string]*Client
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:    log,
		byUser: make(map[string]*Client),
		byConn: make(map[string]*Client),
	}
}

// Register records the client as the active connection for its user.
//
// If a distinct connection is already registered for the user, it is removed
// from both directions and force-closed with CloseSessionReplaced, then
// returned so the caller can observe the eviction. Last writer wins.
func (r *Registry) Register(c *Client) (evicted *Client) {
	if c == nil || c.UserID == "" || c.ConnID == "" {
		return nil
	}

	r.mu.Lock()
	prev := r.byUser[c.UserID]
	if prev != nil && prev.ConnID != c.ConnID {
		delete(r.byConn, prev.ConnID)
		evicted = prev
	}
	r.byUser[c.UserID] = c
	r.byConn[c.ConnID] = c
	r.mu.Unlock()

	if evicted != nil {
		evicted.CloseWithStatus(websocket.StatusCode(v1.CloseSessionReplaced), "session replaced")
		r.log.Info("registry.evict", "user_id", c.UserID, "evicted_conn_id", evicted.ConnID, "conn_id", c.ConnID)
	}
	r.log.Info("registry.register", "user_id", c.UserID, "conn_id", c.ConnID)
	return evicted
}

// Unregister removes the client from both directions only if it is still the
// registered connection for its user. A late unregister from a just-evicted
// connection must not clobber the newer registration, so the stored
// connection id is compared first.
//
// It reports whether the entry was removed.
func (r *Registry) Unregister(c *Client) bool {
	if c == nil {
		return false
	}

	r.mu.Lock()
	cur := r.byUser[c.UserID]
	if cur == nil || cur.ConnID != c.ConnID {
		// Stale: a newer connection replaced this one already.
		delete(r.byConn, c.ConnID)
		r.mu.Unlock()
		return false
	}
	delete(r.byUser, c.UserID)
	delete(r.byConn, c.ConnID)
	r.mu.Unlock()

	r.log.Info("registry.unregister", "user_id", c.UserID, "conn_id", c.ConnID)
	return true
}

// Lookup returns the live connection for userID, if any.
func (r *Registry) Lookup(userID string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byUser[userID]
	return c, ok
}

// Len returns the number of registered users.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser)
}
