package realtime

import (
	"sync"

	v1 "tether/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

// Client represents one live connection for one authenticated user.
//
// Design notes:
// - Send is intentionally NOT closed by the server to avoid panics from concurrent broadcasters.
// - done is used to signal goroutines to stop; the recorded close status tells
//   the connection's writer which close frame to emit.
// - Close is idempotent; the first close status wins.
type Client struct {
	ConnID   string
	UserID   string
	Username string
	Send     chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once

	mu          sync.Mutex
	closeCode   websocket.StatusCode
	closeReason string
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(userID, username, connID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		ConnID:   connID,
		UserID:   userID,
		Username: username,
		Send:     make(chan v1.Envelope, sendQueueSize),
		done:     make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals a normal shutdown (idempotent).
func (c *Client) Close() {
	c.CloseWithStatus(websocket.StatusNormalClosure, "bye")
}

// CloseWithStatus signals shutdown and records the close frame the
// connection's writer should emit. Only the first call takes effect, so an
// eviction close code cannot be overwritten by the later teardown path.
// It does NOT close Send to keep broadcast safe under concurrency.
func (c *Client) CloseWithStatus(code websocket.StatusCode, reason string) {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.closeReason = reason
		c.mu.Unlock()
		close(c.done)
	})
}

// CloseStatus returns the close frame recorded by the first close call.
// Valid only after Done() is observed closed.
func (c *Client) CloseStatus() (websocket.StatusCode, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeCode == 0 {
		return websocket.StatusNormalClosure, "bye"
	}
	return c.closeCode, c.closeReason
}

// TryEnqueue offers an envelope to the client's send queue without blocking.
// It reports false when the client is shutting down or the queue is full.
func (c *Client) TryEnqueue(env v1.Envelope) bool {
	if c == nil {
		return false
	}

	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}
