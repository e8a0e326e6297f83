package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	v1 "tether/shared/contracts/realtime/v1"
)

// handleSendMessage is the persist-then-fanout path: validate, authorize
// against current membership, write through the store, then broadcast the
// accepted message to every subscriber including the sender's connection.
func (s *connSession) handleSendMessage(ctx context.Context, p v1.SendMessagePayload) {
	channelID := strings.TrimSpace(p.ChannelID)
	content := strings.TrimSpace(p.Content)

	if channelID == "" || content == "" {
		s.sendError("invalid_request", "channel_id and content are required")
		return
	}
	if len([]rune(content)) > maxContentChars {
		s.sendError("invalid_request", "content too long")
		return
	}

	// Membership is checked per message, not cached at subscribe time, so a
	// removed participant loses write access on their very next send.
	ok, err := s.g.store.IsParticipant(ctx, channelID, s.client.UserID)
	if err != nil {
		s.g.log.Error("router.participant_check.fail", "channel_id", channelID, "user_id", s.client.UserID, "err", err)
		s.sendError("internal_error", "temporary failure, try again")
		return
	}
	if !ok {
		s.sendError("access_denied", "not a participant of this channel")
		return
	}

	msg, err := s.g.store.InsertMessage(ctx, InsertMessageInput{
		ChannelID:   channelID,
		SenderID:    s.client.UserID,
		Content:     content,
		ContentType: p.ContentType,
		ReplyTo:     strings.TrimSpace(p.ReplyTo),
	})
	if err != nil {
		// Persistence failed: no recipient may see the message.
		s.g.log.Error("router.persist.fail", "channel_id", channelID, "user_id", s.client.UserID, "err", err)
		s.sendError("internal_error", "message not accepted")
		return
	}

	sender := v1.Sender{Username: s.client.Username}
	if info, err := s.g.store.UserDisplayInfo(ctx, s.client.UserID); err == nil {
		sender = v1.Sender{Username: info.Username, DisplayName: info.DisplayName, AvatarURL: info.AvatarURL}
	}

	payload, _ := json.Marshal(v1.NewMessagePayload{
		MessageID:   msg.ID,
		ChannelID:   msg.ChannelID,
		SenderID:    msg.SenderID,
		Sender:      sender,
		Content:     msg.Content,
		ContentType: msg.ContentType,
		ReplyTo:     msg.ReplyTo,
		CreatedAt:   msg.CreatedAt,
	})
	env := NewOutboundEnvelope(v1.TypeNewMessage, payload, msg.CreatedAt)

	if ch, ok := s.g.hub.Get(channelID); ok {
		delivered, dropped := ch.Broadcast(env)
		s.g.metrics.Fanout(delivered, dropped)
	}
	s.g.metrics.MessageRouted()

	// Recency bump happens after the message is durable, regardless of how
	// fan-out went. Failure is logged; the message itself is already safe.
	if err := s.g.store.TouchConversation(ctx, channelID); err != nil {
		s.g.log.Warn("router.touch.fail", "channel_id", channelID, "err", err)
	}
}

// handleTypingStart relays a typing indicator to the channel's other
// subscribers. No persistence, no authorization, no delivery guarantee.
func (s *connSession) handleTypingStart(p v1.TypingStartPayload) {
	channelID := strings.TrimSpace(p.ChannelID)
	if channelID == "" {
		return
	}

	payload, _ := json.Marshal(v1.UserTypingPayload{
		UserID:    s.client.UserID,
		Username:  s.client.Username,
		ChannelID: channelID,
	})
	s.relay(channelID, v1.TypeUserTyping, payload)
}

// handleTypingStop relays the end of a typing indicator.
func (s *connSession) handleTypingStop(p v1.TypingStopPayload) {
	channelID := strings.TrimSpace(p.ChannelID)
	if channelID == "" {
		return
	}

	payload, _ := json.Marshal(v1.UserStopTypingPayload{
		UserID:    s.client.UserID,
		ChannelID: channelID,
	})
	s.relay(channelID, v1.TypeUserStopTyping, payload)
}

// relay fans an ephemeral envelope out to the channel, excluding the
// originating connection. An unknown channel id is a silent no-op.
func (s *connSession) relay(channelID, typ string, payload json.RawMessage) {
	ch, ok := s.g.hub.Get(channelID)
	if !ok {
		return
	}

	env := NewOutboundEnvelope(typ, payload, time.Now().UTC())
	delivered, dropped := ch.BroadcastExcept(env, s.client.ConnID)
	s.g.metrics.Fanout(delivered, dropped)
}

// handleMarkMessagesRead persists read markers idempotently and relays one
// messages_read envelope to the channel's other subscribers. Both halves are
// best-effort: a store failure is logged and never surfaced to the reader.
func (s *connSession) handleMarkMessagesRead(ctx context.Context, p v1.MarkMessagesReadPayload) {
	channelID := strings.TrimSpace(p.ChannelID)
	ids := make([]string, 0, len(p.MessageIDs))
	for _, id := range p.MessageIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if channelID == "" || len(ids) == 0 {
		return
	}

	if err := s.g.store.UpsertReadMarkers(ctx, channelID, s.client.UserID, ids); err != nil {
		s.g.log.Warn("receipts.persist.fail", "channel_id", channelID, "user_id", s.client.UserID, "err", err)
	}

	payload, _ := json.Marshal(v1.MessagesReadPayload{
		UserID:     s.client.UserID,
		MessageIDs: ids,
		ChannelID:  channelID,
	})
	s.relay(channelID, v1.TypeMessagesRead, payload)
}

// handleJoin subscribes the connection to a channel on request.
//
// Membership is deliberately not checked here: subscription only grants
// delivery of events addressed to the channel, while writes are authorized
// per message in handleSendMessage.
func (s *connSession) handleJoin(channelID string) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return
	}

	s.g.hub.GetOrCreate(channelID).Subscribe(s.client)
	s.subs[channelID] = struct{}{}
}

// handleLeave unsubscribes the connection from a channel on request.
func (s *connSession) handleLeave(channelID string) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return
	}

	delete(s.subs, channelID)
	s.g.hub.Unsubscribe(channelID, s.client.ConnID)
}
