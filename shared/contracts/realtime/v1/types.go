// Package v1 defines the Tether Realtime Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeSendMessage requests persisting and fanning out a message (client -> server).
	TypeSendMessage = "send_message"
	// TypeNewMessage broadcasts an accepted message (server -> channel subscribers).
	TypeNewMessage = "new_message"

	// TypeTypingStart signals the sender started typing (client -> server).
	TypeTypingStart = "typing_start"
	// TypeTypingStop signals the sender stopped typing (client -> server).
	TypeTypingStop = "typing_stop"
	// TypeUserTyping relays a typing indicator (server -> channel subscribers).
	TypeUserTyping = "user_typing"
	// TypeUserStopTyping relays the end of a typing indicator (server -> channel subscribers).
	TypeUserStopTyping = "user_stop_typing"

	// TypeMarkMessagesRead requests persisting read markers (client -> server).
	TypeMarkMessagesRead = "mark_messages_read"
	// TypeMessagesRead relays read markers (server -> channel subscribers).
	TypeMessagesRead = "messages_read"

	// TypeJoinConversation subscribes the connection to a channel (client -> server).
	TypeJoinConversation = "join_conversation"
	// TypeLeaveConversation unsubscribes the connection from a channel (client -> server).
	TypeLeaveConversation = "leave_conversation"

	// TypeUserStatusChange relays a presence transition (server -> accepted contacts).
	TypeUserStatusChange = "user_status_change"

	// TypeError is a generic error envelope (server -> originating client only).
	TypeError = "error"
)

// Close codes in the application range (4000-4999).
//
// They let clients distinguish "signed in elsewhere" from abuse suppression
// and react accordingly instead of retry-looping.
const (
	// CloseSessionReplaced is sent to a connection evicted by a newer
	// connection for the same user.
	CloseSessionReplaced = 4001

	// CloseRateLimited is sent when admission or event throughput limits
	// were exceeded.
	CloseRateLimited = 4002

	// CloseBackpressure is sent when the connection's outbound queue
	// overflowed and the server dropped it rather than block fan-out.
	CloseBackpressure = 4003
)

// Presence status values persisted on the user record.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusAway    = "away"
	StatusBusy    = "busy"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeSendMessage,
		TypeNewMessage,
		TypeTypingStart,
		TypeTypingStop,
		TypeUserTyping,
		TypeUserStopTyping,
		TypeMarkMessagesRead,
		TypeMessagesRead,
		TypeJoinConversation,
		TypeLeaveConversation,
		TypeUserStatusChange,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Inbound payloads ----

// SendMessagePayload requests sending a message into a channel.
type SendMessagePayload struct {
	ChannelID   string `json:"channel_id"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	ReplyTo     string `json:"reply_to,omitempty"`
}

// TypingStartPayload signals that the sender started typing in a channel.
type TypingStartPayload struct {
	ChannelID string `json:"channel_id"`
}

// TypingStopPayload signals that the sender stopped typing in a channel.
type TypingStopPayload struct {
	ChannelID string `json:"channel_id"`
}

// MarkMessagesReadPayload requests read markers for a batch of messages.
type MarkMessagesReadPayload struct {
	ChannelID  string   `json:"channel_id"`
	MessageIDs []string `json:"message_ids"`
}

// JoinConversationPayload subscribes the connection to a channel.
type JoinConversationPayload struct {
	ChannelID string `json:"channel_id"`
}

// LeaveConversationPayload unsubscribes the connection from a channel.
type LeaveConversationPayload struct {
	ChannelID string `json:"channel_id"`
}

// ---- Outbound payloads ----

// Sender carries the display fields resolved for an accepted message.
type Sender struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// NewMessagePayload is broadcast to every subscriber of the channel,
// including the sender's own connection.
type NewMessagePayload struct {
	MessageID   string    `json:"message_id"`
	ChannelID   string    `json:"channel_id"`
	SenderID    string    `json:"sender_id"`
	Sender      Sender    `json:"sender"`
	Content     string    `json:"content"`
	ContentType string    `json:"content_type"`
	ReplyTo     string    `json:"reply_to,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// UserTypingPayload relays a typing indicator.
type UserTypingPayload struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username,omitempty"`
	ChannelID string `json:"channel_id"`
}

// UserStopTypingPayload relays the end of a typing indicator.
type UserStopTypingPayload struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
}

// MessagesReadPayload relays read markers to the channel's subscribers.
type MessagesReadPayload struct {
	UserID     string   `json:"user_id"`
	MessageIDs []string `json:"message_ids"`
	ChannelID  string   `json:"channel_id"`
}

// UserStatusChangePayload relays a presence transition to accepted contacts.
type UserStatusChangePayload struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
