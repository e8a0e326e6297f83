package realtime

import (
	"log/slog"
	"sync"

	v1 "tether/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

// Channel is the realtime-layer fanout primitive for one conversation.
//
// Concurrency guarantees:
// - Subscribe/Unsubscribe are safe under concurrent Broadcast.
// - Broadcast never blocks: a subscriber whose queue is full is dropped and
//   force-closed with a backpressure close status instead of delaying the
//   other recipients.
// - Broadcast is panic-safe because Client.Send is never closed by the server.
type Channel struct {
	log *slog.Logger
	ID  string

	mu          sync.RWMutex
	subscribers map[string]*Client
}

// NewChannel constructs a channel for the given conversation id.
func NewChannel(log *slog.Logger, id string) *Channel {
	return &Channel{
		log:         log,
		ID:          id,
		subscribers: make(map[string]*Client),
	}
}

// Subscribe adds a connection to the channel's subscriber set.
func (c *Channel) Subscribe(client *Client) {
	if c == nil || client == nil || client.ConnID == "" {
		return
	}

	c.mu.Lock()
	c.subscribers[client.ConnID] = client
	c.mu.Unlock()

	c.log.Debug("channel.subscribe", "channel_id", c.ID, "conn_id", client.ConnID)
}

// Unsubscribe removes a connection from the subscriber set. Unlike an
// eviction, it does not close the client: the connection may remain
// subscribed to other channels. It reports whether the channel is now empty.
func (c *Channel) Unsubscribe(connID string) bool {
	if c == nil || connID == "" {
		return false
	}

	c.mu.Lock()
	delete(c.subscribers, connID)
	empty := len(c.subscribers) == 0
	c.mu.Unlock()

	c.log.Debug("channel.unsubscribe", "channel_id", c.ID, "conn_id", connID)
	return empty
}

// Broadcast fans out an envelope to every subscriber, including the sender's
// own connection when subscribed. It returns the delivered and dropped counts.
func (c *Channel) Broadcast(env v1.Envelope) (delivered, dropped int) {
	return c.broadcast(env, "")
}

// BroadcastExcept fans out to every subscriber except exceptConnID.
// Used for events that must not echo to the originating connection.
func (c *Channel) BroadcastExcept(env v1.Envelope, exceptConnID string) (delivered, dropped int) {
	return c.broadcast(env, exceptConnID)
}

func (c *Channel) broadcast(env v1.Envelope, exceptConnID string) (delivered, dropped int) {
	if c == nil {
		return 0, 0
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	for id, sub := range c.subscribers {
		if sub == nil || id == exceptConnID {
			continue
		}

		select {
		case <-sub.Done():
			// Skip connections that are shutting down.
			continue
		default:
		}

		select {
		case sub.Send <- env:
			delivered++
		default:
			// A lagging connection must not stall the whole channel.
			// Drop it rather than block or silently lose its events.
			dropped++
			sub.CloseWithStatus(websocket.StatusCode(v1.CloseBackpressure), "send queue overflow")
			c.log.Warn("channel.drop_slow_subscriber", "channel_id", c.ID, "conn_id", id)
		}
	}
	return delivered, dropped
}

// Len returns the current subscriber count.
func (c *Channel) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscribers)
}
