package realtime

import (
	"context"
	"sync"
	"time"
)

// InMemoryChatStore is a dev/test fallback when DB is not configured.
// It mirrors the PostgresChatStore semantics: id + timestamp assignment on
// insert, idempotent read markers, conditional status writes.
type InMemoryChatStore struct {
	mu sync.Mutex

	users    map[string]DisplayInfo
	statuses map[string]string
	contacts map[string]map[string]struct{} // userID -> accepted contact set

	members  map[string]map[string]struct{} // channelID -> participant set
	messages map[string]*StoredMessage      // messageID -> message
	reads    map[string]map[string]struct{} // messageID -> readers
	touched  map[string]time.Time           // channelID -> recency marker

	lastTS time.Time
}

// NewInMemoryChatStore constructs an empty in-memory ChatStore implementation.
func NewInMemoryChatStore() *InMemoryChatStore {
	return &InMemoryChatStore{
		users:    make(map[string]DisplayInfo),
		statuses: make(map[string]string),
		contacts: make(map[string]map[string]struct{}),
		members:  make(map[string]map[string]struct{}),
		messages: make(map[string]*StoredMessage),
		reads:    make(map[string]map[string]struct{}),
		touched:  make(map[string]time.Time),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryChatStore) Close() error { return nil }

// ---- seeding helpers (dev/test) ----

// AddUser seeds a user record.
func (s *InMemoryChatStore) AddUser(userID string, info DisplayInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = info
}

// AddContactPair seeds an accepted contact relationship in both directions.
func (s *InMemoryChatStore) AddContactPair(a, b string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.contacts[a] == nil {
		s.contacts[a] = make(map[string]struct{})
	}
	if s.contacts[b] == nil {
		s.contacts[b] = make(map[string]struct{})
	}
	s.contacts[a][b] = struct{}{}
	s.contacts[b][a] = struct{}{}
}

// AddChannel seeds a conversation and its participants.
func (s *InMemoryChatStore) AddChannel(channelID string, participants ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[channelID] == nil {
		s.members[channelID] = make(map[string]struct{})
	}
	for _, p := range participants {
		s.members[channelID][p] = struct{}{}
	}
}

// ---- ChatStore ----

// ConversationMembership enumerates channel ids the user participates in.
func (s *InMemoryChatStore) ConversationMembership(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for id, set := range s.members {
		if _, ok := set[userID]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// IsParticipant reports whether userID is a participant of channelID.
func (s *InMemoryChatStore) IsParticipant(_ context.Context, channelID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.members[channelID]
	if !ok {
		return false, nil
	}
	_, ok = set[userID]
	return ok, nil
}

// InsertMessage persists a message, assigning its id and creation timestamp.
func (s *InMemoryChatStore) InsertMessage(_ context.Context, in InsertMessageInput) (StoredMessage, error) {
	if in.ChannelID == "" || in.SenderID == "" || in.Content == "" {
		return StoredMessage{}, ErrUnknownChannel
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Timestamps must be monotonic per insert so recipients can order by
	// created_at within a channel.
	if !now.After(s.lastTS) {
		now = s.lastTS.Add(time.Microsecond)
	}
	s.lastTS = now

	id, err := NewMessageID(now)
	if err != nil {
		return StoredMessage{}, err
	}

	contentType := in.ContentType
	if contentType == "" {
		contentType = "text"
	}

	msg := StoredMessage{
		ID:          id,
		ChannelID:   in.ChannelID,
		SenderID:    in.SenderID,
		Content:     in.Content,
		ContentType: contentType,
		ReplyTo:     in.ReplyTo,
		CreatedAt:   now,
	}
	s.messages[id] = &msg
	return msg, nil
}

// UserDisplayInfo resolves display fields for outgoing payloads.
func (s *InMemoryChatStore) UserDisplayInfo(_ context.Context, userID string) (DisplayInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.users[userID]
	if !ok {
		return DisplayInfo{}, ErrUnknownUser
	}
	return info, nil
}

// TouchConversation updates the recency marker for channelID.
func (s *InMemoryChatStore) TouchConversation(_ context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched[channelID] = time.Now().UTC()
	return nil
}

// UpsertReadMarkers marks each message as read by userID, ignoring conflicts.
func (s *InMemoryChatStore) UpsertReadMarkers(_ context.Context, _ string, userID string, messageIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range messageIDs {
		if id == "" {
			continue
		}
		if s.reads[id] == nil {
			s.reads[id] = make(map[string]struct{})
		}
		s.reads[id][userID] = struct{}{}
	}
	return nil
}

// SetUserStatus writes the status only when it changed.
func (s *InMemoryChatStore) SetUserStatus(_ context.Context, userID, status string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.statuses[userID] == status {
		return false, nil
	}
	s.statuses[userID] = status
	return true, nil
}

// AcceptedContacts returns the accepted contact ids for userID.
func (s *InMemoryChatStore) AcceptedContacts(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.contacts[userID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out, nil
}

// ---- introspection helpers (dev/test) ----

// Readers returns the user ids that marked messageID as read.
func (s *InMemoryChatStore) Readers(messageID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.reads[messageID]))
	for id := range s.reads[messageID] {
		out = append(out, id)
	}
	return out
}

// Status returns the persisted status for userID.
func (s *InMemoryChatStore) Status(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[userID]
}

// MessageCount returns the number of persisted messages.
func (s *InMemoryChatStore) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// TouchedAt returns the recency marker for channelID.
func (s *InMemoryChatStore) TouchedAt(channelID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.touched[channelID]
	return ts, ok
}
