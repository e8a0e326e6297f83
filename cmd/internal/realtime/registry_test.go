package realtime

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	v1 "tether/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	t.Parallel()

	r := NewRegistry(testLogger())
	c := NewClient("u1", "alice", "conn-1", 8)

	if evicted := r.Register(c); evicted != nil {
		t.Fatalf("unexpected eviction on first register: %v", evicted.ConnID)
	}

	got, ok := r.Lookup("u1")
	if !ok || got.ConnID != "conn-1" {
		t.Fatalf("Lookup: got %v ok=%v", got, ok)
	}
	if r.Len() != 1 {
		t.Fatalf("Len: got %d, want 1", r.Len())
	}
}

func TestRegistry_SecondConnectionEvictsFirst(t *testing.T) {
	t.Parallel()

	r := NewRegistry(testLogger())
	c1 := NewClient("u1", "alice", "conn-1", 8)
	c2 := NewClient("u1", "alice", "conn-2", 8)

	r.Register(c1)
	evicted := r.Register(c2)

	if evicted != c1 {
		t.Fatalf("expected conn-1 evicted, got %v", evicted)
	}

	select {
	case <-c1.Done():
	case <-time.After(time.Second):
		t.Fatalf("evicted client not closed")
	}

	code, reason := c1.CloseStatus()
	if code != websocket.StatusCode(v1.CloseSessionReplaced) {
		t.Fatalf("close code: got %d, want %d", code, v1.CloseSessionReplaced)
	}
	if reason == "" {
		t.Fatalf("expected a close reason")
	}

	got, ok := r.Lookup("u1")
	if !ok || got.ConnID != "conn-2" {
		t.Fatalf("Lookup after eviction: got %v ok=%v", got, ok)
	}
	if r.Len() != 1 {
		t.Fatalf("Len after eviction: got %d, want 1", r.Len())
	}
}

func TestRegistry_StaleUnregisterDoesNotClobber(t *testing.T) {
	t.Parallel()

	r := NewRegistry(testLogger())
	c1 := NewClient("u1", "alice", "conn-1", 8)
	c2 := NewClient("u1", "alice", "conn-2", 8)

	r.Register(c1)
	r.Register(c2)

	// The evicted connection's teardown runs late; it must not remove the
	// newer registration.
	if removed := r.Unregister(c1); removed {
		t.Fatalf("stale unregister should report false")
	}

	got, ok := r.Lookup("u1")
	if !ok || got.ConnID != "conn-2" {
		t.Fatalf("Lookup after stale unregister: got %v ok=%v", got, ok)
	}
}

func TestRegistry_Unregister(t *testing.T) {
	t.Parallel()

	r := NewRegistry(testLogger())
	c := NewClient("u1", "alice", "conn-1", 8)

	r.Register(c)
	if removed := r.Unregister(c); !removed {
		t.Fatalf("Unregister should report true for the active connection")
	}
	if _, ok := r.Lookup("u1"); ok {
		t.Fatalf("Lookup should miss after unregister")
	}
	if r.Len() != 0 {
		t.Fatalf("Len: got %d, want 0", r.Len())
	}
}

func TestRegistry_ConcurrentRegistrationsKeepOneSession(t *testing.T) {
	t.Parallel()

	r := NewRegistry(testLogger())
	const n = 32

	var evictions atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := NewClient("u1", "alice", fmt.Sprintf("conn-%d", i), 8)
			if evicted := r.Register(c); evicted != nil {
				evictions.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if r.Len() != 1 {
		t.Fatalf("Len: got %d, want 1", r.Len())
	}
	if got := evictions.Load(); got != n-1 {
		t.Fatalf("evictions: got %d, want %d", got, n-1)
	}
}
