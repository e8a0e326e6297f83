package realtime

import (
	"log/slog"
	"sync"
)

// Hub owns in-memory channels and provides stable channel handles.
// It is intentionally minimal: persistence lives behind ChatStore.
type Hub struct {
	log *slog.Logger

	mu       sync.RWMutex
	channels map[string]*Channel
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:      log,
		channels: make(map[string]*Channel),
	}
}

// GetOrCreate returns a stable in-memory channel handle for channelID.
func (h *Hub) GetOrCreate(channelID string) *Channel {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.channels[channelID]; ok {
		return c
	}

	c := NewChannel(h.log, channelID)
	h.channels[channelID] = c
	return c
}

// Get returns the channel handle for channelID, if it exists.
func (h *Hub) Get(channelID string) (*Channel, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.channels[channelID]
	return c, ok
}

// Unsubscribe removes connID from channelID and prunes the channel once its
// last subscriber is gone, so idle conversations do not pin memory.
func (h *Hub) Unsubscribe(channelID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.channels[channelID]
	if !ok {
		return
	}
	if c.Unsubscribe(connID) {
		delete(h.channels, channelID)
	}
}

// Len returns the number of live channels.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}
