package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	v1 "tether/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

// eventLimiter enforces a sliding-window budget on inbound events for one
// connection. Unlike the admission controller it has no cooldown: the first
// violation disconnects.
type eventLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	events []time.Time
}

func newEventLimiter(limit int, window time.Duration) *eventLimiter {
	return &eventLimiter{limit: limit, window: window}
}

// allow records the event and reports whether it stays within the window budget.
func (l *eventLimiter) allow(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	kept := l.events[:0]
	for _, t := range l.events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.events = kept

	if len(l.events) >= l.limit {
		return false
	}
	l.events = append(l.events, now)
	return true
}

// connSession runs the realtime loop for one upgraded connection.
//
// subs is touched only by the goroutine running readLoop/teardown, so it
// needs no lock. Fan-in to this connection goes through client.Send.
type connSession struct {
	g       *Gateway
	client  *Client
	limiter *eventLimiter
	subs    map[string]struct{}
}

func newConnSession(g *Gateway, client *Client) *connSession {
	return &connSession{
		g:       g,
		client:  client,
		limiter: newEventLimiter(g.cfg.EventRateLimit, g.cfg.EventRateWindow),
		subs:    make(map[string]struct{}),
	}
}

// run registers the connection, joins its persisted memberships, announces
// presence, then pumps reads until the connection dies. It returns only
// after teardown completed.
func (s *connSession) run(ctx context.Context, conn *websocket.Conn) {
	defer s.teardown(ctx)

	s.g.registry.Register(s.client)
	s.g.metrics.ConnOpened()
	s.g.log.Info("ws.open", "user_id", s.client.UserID, "conn_id", s.client.ConnID)

	s.joinMemberships(ctx)
	s.g.presence.AnnounceOnline(ctx, s.client.UserID)

	go s.writer(ctx, conn)
	go s.heartbeat(ctx, conn)

	s.readLoop(ctx, conn)
}

// joinMemberships subscribes the connection to every channel the user
// participates in. A membership query failure leaves the connection alive
// with zero subscriptions; the client can still join explicitly.
func (s *connSession) joinMemberships(ctx context.Context) {
	ids, err := s.g.store.ConversationMembership(ctx, s.client.UserID)
	if err != nil {
		s.g.log.Warn("ws.membership.fail", "user_id", s.client.UserID, "err", err)
		return
	}

	for _, id := range ids {
		s.g.hub.GetOrCreate(id).Subscribe(s.client)
		s.subs[id] = struct{}{}
	}
	s.g.log.Debug("ws.membership.joined", "user_id", s.client.UserID, "channels", len(ids))
}

// writer is the single goroutine allowed to write to the connection. It
// drains the send queue and, once the client is closed, emits the recorded
// close frame. Eviction and backpressure close codes reach the peer here.
func (s *connSession) writer(ctx context.Context, conn *websocket.Conn) {
	// Writes must still go out while the request context unwinds, so the
	// write deadline is the only cancellation applied here.
	base := context.WithoutCancel(ctx)

	for {
		select {
		case <-s.client.Done():
			code, reason := s.client.CloseStatus()
			_ = conn.Close(code, reason)
			return

		case env := <-s.client.Send:
			if err := writeEnvelope(base, conn, env, s.g.cfg.WriteTimeout); err != nil {
				s.g.log.Debug("ws.write.fail", "conn_id", s.client.ConnID, "err", err)
				s.client.CloseWithStatus(websocket.StatusAbnormalClosure, "write failure")
				_ = conn.Close(websocket.StatusAbnormalClosure, "write failure")
				return
			}
		}
	}
}

// heartbeat pings on an interval and closes the client after consecutive
// failures, so half-dead connections are reaped even when reads stay quiet.
func (s *connSession) heartbeat(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(s.g.cfg.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.client.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, s.g.cfg.HeartbeatTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				failures++
				s.g.log.Debug("ws.ping.fail", "conn_id", s.client.ConnID, "failures", failures, "err", err)
				if failures >= wsMaxPingFailures {
					s.client.CloseWithStatus(websocket.StatusGoingAway, "heartbeat timeout")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func (s *connSession) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-s.client.Done():
			return
		default:
		}

		rctx, cancel := context.WithTimeout(ctx, s.g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(rctx, conn)
		cancel()
		if err != nil {
			switch classifyReadErr(err) {
			case readErrBadJSON:
				s.sendError("bad_json", "malformed frame")
				continue
			case readErrClose, readErrConnClosed:
				s.client.Close()
			case readErrCtxDone:
				s.client.CloseWithStatus(websocket.StatusGoingAway, "idle timeout")
			default:
				s.g.log.Debug("ws.read.fail", "conn_id", s.client.ConnID, "err", err)
				s.client.CloseWithStatus(websocket.StatusAbnormalClosure, "read failure")
			}
			return
		}

		if !s.limiter.allow(time.Now().UTC()) {
			s.g.log.Info("ws.event_rate_exceeded", "user_id", s.client.UserID, "conn_id", s.client.ConnID)
			s.client.CloseWithStatus(websocket.StatusCode(v1.CloseRateLimited), "event rate exceeded")
			return
		}

		ev, err := v1.Decode(env)
		if err != nil {
			s.sendError("bad_event", err.Error())
			continue
		}
		s.dispatch(ctx, ev)
	}
}

func (s *connSession) dispatch(ctx context.Context, ev v1.InboundEvent) {
	switch p := ev.(type) {
	case v1.SendMessagePayload:
		s.handleSendMessage(ctx, p)
	case v1.TypingStartPayload:
		s.handleTypingStart(p)
	case v1.TypingStopPayload:
		s.handleTypingStop(p)
	case v1.MarkMessagesReadPayload:
		s.handleMarkMessagesRead(ctx, p)
	case v1.JoinConversationPayload:
		s.handleJoin(p.ChannelID)
	case v1.LeaveConversationPayload:
		s.handleLeave(p.ChannelID)
	}
}

// teardown runs exactly once, after readLoop returns: unsubscribe from every
// channel, drop the registry entry (guarded against a newer registration),
// then flip presence offline unless another connection took over.
func (s *connSession) teardown(ctx context.Context) {
	s.client.Close()

	for id := range s.subs {
		s.g.hub.Unsubscribe(id, s.client.ConnID)
	}

	removed := s.g.registry.Unregister(s.client)

	// The request context is already dying with the connection; presence
	// persistence still needs to land.
	octx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	s.g.presence.AnnounceOffline(octx, s.client.UserID)

	s.g.metrics.ConnClosed()
	s.g.log.Info("ws.close", "user_id", s.client.UserID, "conn_id", s.client.ConnID, "was_active", removed)
}

// sendError delivers an error envelope to the originating connection only.
func (s *connSession) sendError(code, msg string) {
	payload, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	env := NewOutboundEnvelope(v1.TypeError, payload, time.Now().UTC())
	if !s.client.TryEnqueue(env) {
		s.g.log.Debug("ws.error_drop", "conn_id", s.client.ConnID, "code", code)
	}
}
