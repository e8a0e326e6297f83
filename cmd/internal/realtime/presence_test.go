package realtime

import (
	"context"
	"testing"

	v1 "tether/shared/contracts/realtime/v1"
)

type presenceFixture struct {
	store    *InMemoryChatStore
	registry *Registry
	p        *PresenceBroadcaster
	bob      *Client
}

// newPresenceFixture seeds alice and bob as accepted contacts with bob connected.
func newPresenceFixture(t *testing.T) *presenceFixture {
	t.Helper()

	store := NewInMemoryChatStore()
	store.AddUser("u-alice", DisplayInfo{Username: "alice"})
	store.AddUser("u-bob", DisplayInfo{Username: "bob"})
	store.AddContactPair("u-alice", "u-bob")

	registry := NewRegistry(testLogger())
	bob := NewClient("u-bob", "bob", "conn-b", 16)
	registry.Register(bob)

	return &presenceFixture{
		store:    store,
		registry: registry,
		p:        NewPresenceBroadcaster(testLogger(), store, registry, nil),
		bob:      bob,
	}
}

func TestPresence_OnlineNotifiesConnectedContacts(t *testing.T) {
	t.Parallel()

	f := newPresenceFixture(t)
	f.p.AnnounceOnline(context.Background(), "u-alice")

	if got := f.store.Status("u-alice"); got != v1.StatusOnline {
		t.Fatalf("status: got %q, want %q", got, v1.StatusOnline)
	}

	env := recvEnvelope(t, f.bob)
	if env.Type != v1.TypeUserStatusChange {
		t.Fatalf("type: got %q", env.Type)
	}
	p := decodePayload[v1.UserStatusChangePayload](t, env)
	if p.UserID != "u-alice" || p.Status != v1.StatusOnline {
		t.Fatalf("payload: %+v", p)
	}
}

func TestPresence_NoRedundantOnlineBroadcast(t *testing.T) {
	t.Parallel()

	f := newPresenceFixture(t)
	f.p.AnnounceOnline(context.Background(), "u-alice")
	recvEnvelope(t, f.bob)

	// Already online: no status change, no second broadcast.
	f.p.AnnounceOnline(context.Background(), "u-alice")
	if len(f.bob.Send) != 0 {
		t.Fatalf("redundant online transition must not broadcast")
	}
}

func TestPresence_OfflineSkippedWhileStillConnected(t *testing.T) {
	t.Parallel()

	f := newPresenceFixture(t)
	alice := NewClient("u-alice", "alice", "conn-a", 16)
	f.registry.Register(alice)

	f.p.AnnounceOnline(context.Background(), "u-alice")
	recvEnvelope(t, f.bob)

	// A live registration vetoes the offline transition.
	f.p.AnnounceOffline(context.Background(), "u-alice")
	if got := f.store.Status("u-alice"); got != v1.StatusOnline {
		t.Fatalf("status: got %q, want %q", got, v1.StatusOnline)
	}
	if len(f.bob.Send) != 0 {
		t.Fatalf("no offline broadcast while still connected")
	}
}

func TestPresence_ReplacedSessionStaysOnline(t *testing.T) {
	t.Parallel()

	f := newPresenceFixture(t)
	conn1 := NewClient("u-alice", "alice", "conn-a1", 16)
	conn2 := NewClient("u-alice", "alice", "conn-a2", 16)

	f.registry.Register(conn1)
	f.p.AnnounceOnline(context.Background(), "u-alice")
	recvEnvelope(t, f.bob)

	// conn2 replaces conn1; conn1's late teardown must not flip the user offline.
	f.registry.Register(conn2)
	f.registry.Unregister(conn1)
	f.p.AnnounceOffline(context.Background(), "u-alice")

	if got := f.store.Status("u-alice"); got != v1.StatusOnline {
		t.Fatalf("status: got %q, want %q", got, v1.StatusOnline)
	}
	if len(f.bob.Send) != 0 {
		t.Fatalf("no offline broadcast for a replaced session")
	}
}

func TestPresence_OfflineAfterLastConnection(t *testing.T) {
	t.Parallel()

	f := newPresenceFixture(t)
	alice := NewClient("u-alice", "alice", "conn-a", 16)
	f.registry.Register(alice)
	f.p.AnnounceOnline(context.Background(), "u-alice")
	recvEnvelope(t, f.bob)

	f.registry.Unregister(alice)
	f.p.AnnounceOffline(context.Background(), "u-alice")

	if got := f.store.Status("u-alice"); got != v1.StatusOffline {
		t.Fatalf("status: got %q, want %q", got, v1.StatusOffline)
	}
	env := recvEnvelope(t, f.bob)
	p := decodePayload[v1.UserStatusChangePayload](t, env)
	if p.Status != v1.StatusOffline {
		t.Fatalf("payload: %+v", p)
	}
}

func TestPresence_DisconnectedContactsAreSkipped(t *testing.T) {
	t.Parallel()

	store := NewInMemoryChatStore()
	store.AddUser("u-alice", DisplayInfo{Username: "alice"})
	store.AddUser("u-bob", DisplayInfo{Username: "bob"})
	store.AddContactPair("u-alice", "u-bob")

	registry := NewRegistry(testLogger())
	p := NewPresenceBroadcaster(testLogger(), store, registry, nil)

	// Bob is not connected; the transition must still persist.
	p.AnnounceOnline(context.Background(), "u-alice")
	if got := store.Status("u-alice"); got != v1.StatusOnline {
		t.Fatalf("status: got %q, want %q", got, v1.StatusOnline)
	}
}
