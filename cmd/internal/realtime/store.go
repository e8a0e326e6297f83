package realtime

import (
	"context"
	"errors"
	"time"
)

// Store-level sentinel errors.
var (
	// ErrUnknownUser is returned when a user id has no backing record.
	ErrUnknownUser = errors.New("realtime: unknown user")
	// ErrUnknownChannel is returned when a channel id has no backing conversation.
	ErrUnknownChannel = errors.New("realtime: unknown channel")
)

// DisplayInfo carries the sender display fields resolved for outgoing payloads.
type DisplayInfo struct {
	Username    string
	DisplayName string
	AvatarURL   string
}

// InsertMessageInput describes a message persist request.
type InsertMessageInput struct {
	ChannelID   string
	SenderID    string
	Content     string
	ContentType string
	ReplyTo     string
	Now         time.Time
}

// StoredMessage is the canonical persisted message representation.
// Messages are immutable once created.
type StoredMessage struct {
	ID          string
	ChannelID   string
	SenderID    string
	Content     string
	ContentType string
	ReplyTo     string
	CreatedAt   time.Time
}

// ChatStore is the persistence boundary consumed by the realtime core.
//
// Requirements:
//   - InsertMessage assigns the message id and a creation timestamp that is
//     monotonic per channel insert order.
//   - UpsertReadMarkers is idempotent per (message, user): re-marking an
//     already-read message is a no-op, never an error or a duplicate row.
//   - SetUserStatus writes only when the status actually changes and reports
//     whether it did.
type ChatStore interface {
	// ConversationMembership enumerates the channel ids (direct + group
	// conversations) the user participates in.
	ConversationMembership(ctx context.Context, userID string) ([]string, error)

	// IsParticipant is the authorization boundary for durable sends.
	IsParticipant(ctx context.Context, channelID, userID string) (bool, error)

	InsertMessage(ctx context.Context, in InsertMessageInput) (StoredMessage, error)

	UserDisplayInfo(ctx context.Context, userID string) (DisplayInfo, error)

	// TouchConversation updates the conversation's recency marker used for
	// list ordering.
	TouchConversation(ctx context.Context, channelID string) error

	UpsertReadMarkers(ctx context.Context, channelID, userID string, messageIDs []string) error

	SetUserStatus(ctx context.Context, userID, status string) (changed bool, err error)

	// AcceptedContacts returns the user ids of accepted contacts, the
	// audience for presence transitions.
	AcceptedContacts(ctx context.Context, userID string) ([]string, error)

	Close() error
}
