package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	v1 "tether/shared/contracts/realtime/v1"
)

// PresenceBroadcaster drives the online/offline transitions tied to the
// connection lifecycle and notifies accepted contacts that are currently
// connected. Presence is a best-effort path: store or delivery failures are
// logged, never surfaced.
type PresenceBroadcaster struct {
	log      *slog.Logger
	store    ChatStore
	registry *Registry
	metrics  *Metrics
}

// NewPresenceBroadcaster constructs a broadcaster over the given registry.
func NewPresenceBroadcaster(log *slog.Logger, store ChatStore, registry *Registry, metrics *Metrics) *PresenceBroadcaster {
	return &PresenceBroadcaster{log: log, store: store, registry: registry, metrics: metrics}
}

// AnnounceOnline persists the online status (skipping the write when the
// user is already online) and notifies connected accepted contacts.
// Called after registration and membership join.
func (p *PresenceBroadcaster) AnnounceOnline(ctx context.Context, userID string) {
	changed, err := p.store.SetUserStatus(ctx, userID, v1.StatusOnline)
	if err != nil {
		p.log.Warn("presence.online.persist_fail", "user_id", userID, "err", err)
		return
	}
	if !changed {
		// Already online (e.g. a replaced session): no redundant broadcast.
		return
	}
	p.notifyContacts(ctx, userID, v1.StatusOnline)
}

// AnnounceOffline flips the user offline unless the registry still holds a
// live connection for them. The re-check covers the replaced-session window:
// the evicted connection's teardown runs after the new connection registered,
// and must not mark the user offline underneath it.
//
// The check-then-act is safe because the registry is the single
// authoritative map and its mutations are serialized per user key.
func (p *PresenceBroadcaster) AnnounceOffline(ctx context.Context, userID string) {
	if _, ok := p.registry.Lookup(userID); ok {
		return
	}

	changed, err := p.store.SetUserStatus(ctx, userID, v1.StatusOffline)
	if err != nil {
		p.log.Warn("presence.offline.persist_fail", "user_id", userID, "err", err)
		return
	}
	if !changed {
		return
	}
	p.notifyContacts(ctx, userID, v1.StatusOffline)
}

func (p *PresenceBroadcaster) notifyContacts(ctx context.Context, userID, status string) {
	contacts, err := p.store.AcceptedContacts(ctx, userID)
	if err != nil {
		p.log.Warn("presence.contacts.fail", "user_id", userID, "err", err)
		return
	}

	payload, _ := json.Marshal(v1.UserStatusChangePayload{UserID: userID, Status: status})
	env := NewOutboundEnvelope(v1.TypeUserStatusChange, payload, time.Now().UTC())

	delivered := 0
	for _, contactID := range contacts {
		c, ok := p.registry.Lookup(contactID)
		if !ok {
			continue
		}
		if c.TryEnqueue(env) {
			delivered++
		}
	}
	p.metrics.Fanout(delivered, 0)

	p.log.Debug("presence.notify", "user_id", userID, "status", status, "delivered", delivered)
}
