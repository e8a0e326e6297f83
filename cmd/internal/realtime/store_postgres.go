// Package realtime contains Tether's realtime connection, fan-out, and
// persistence-boundary primitives: admission control, the session registry,
// channel broadcast, and the websocket gateway.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresChatStore is a ChatStore backed by PostgreSQL.
//
// Ownership model:
// - PostgresChatStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
type PostgresChatStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresChatStore behavior.
type PostgresOption func(*PostgresChatStore) error

// WithSchema sets the DB schema used by this store (default: "tether").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresChatStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("realtime: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresChatStore constructs a Postgres-backed ChatStore.
func NewPostgresChatStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresChatStore, error) {
	st := &PostgresChatStore{
		pool:   pool,
		schema: "tether",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("realtime: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresChatStore) Close() error { return nil }

// ConversationMembership enumerates the channel ids the user participates in,
// covering both direct-conversation participant rows and group-derived rows
// (conversation_members holds both kinds).
func (s *PostgresChatStore) ConversationMembership(ctx context.Context, userID string) ([]string, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("realtime: nil store")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil
	}

	members := pgIdent(s.schema, "conversation_members")

	rows, err := s.pool.Query(ctx,
		`SELECT conversation_id FROM `+members+` WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// IsParticipant checks if userID is a member of the conversation backing channelID.
func (s *PostgresChatStore) IsParticipant(ctx context.Context, channelID, userID string) (bool, error) {
	if s == nil || s.pool == nil {
		return false, errors.New("realtime: nil store")
	}
	channelID = strings.TrimSpace(channelID)
	userID = strings.TrimSpace(userID)
	if channelID == "" || userID == "" {
		return false, nil
	}

	members := pgIdent(s.schema, "conversation_members")

	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM `+members+` WHERE conversation_id = $1 AND user_id = $2`,
		channelID, userID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InsertMessage persists a message and returns its assigned id and creation
// timestamp. created_at is assigned by the database clock so it is monotonic
// per insert.
func (s *PostgresChatStore) InsertMessage(ctx context.Context, in InsertMessageInput) (StoredMessage, error) {
	if s == nil || s.pool == nil {
		return StoredMessage{}, errors.New("realtime: nil store")
	}
	if in.ChannelID == "" || in.SenderID == "" || in.Content == "" {
		return StoredMessage{}, errors.New("invalid input")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := NewMessageID(now)
	if err != nil {
		return StoredMessage{}, err
	}

	contentType := in.ContentType
	if contentType == "" {
		contentType = "text"
	}

	messages := pgIdent(s.schema, "messages")

	var createdAt time.Time
	err = s.pool.QueryRow(ctx,
		`INSERT INTO `+messages+` (
		     id, conversation_id, sender_id, content, content_type, reply_to, created_at
		   ) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), now())
		 RETURNING created_at`,
		id, in.ChannelID, in.SenderID, in.Content, contentType, in.ReplyTo,
	).Scan(&createdAt)
	if err != nil {
		return StoredMessage{}, fmt.Errorf("insert message: %w", err)
	}

	return StoredMessage{
		ID:          id,
		ChannelID:   in.ChannelID,
		SenderID:    in.SenderID,
		Content:     in.Content,
		ContentType: contentType,
		ReplyTo:     in.ReplyTo,
		CreatedAt:   createdAt,
	}, nil
}

// UserDisplayInfo resolves the sender display fields for outgoing payloads.
func (s *PostgresChatStore) UserDisplayInfo(ctx context.Context, userID string) (DisplayInfo, error) {
	if s == nil || s.pool == nil {
		return DisplayInfo{}, errors.New("realtime: nil store")
	}

	users := pgIdent(s.schema, "users")

	var info DisplayInfo
	err := s.pool.QueryRow(ctx,
		`SELECT username, COALESCE(display_name, ''), COALESCE(avatar_url, '')
		   FROM `+users+` WHERE id = $1`,
		userID,
	).Scan(&info.Username, &info.DisplayName, &info.AvatarURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return DisplayInfo{}, ErrUnknownUser
	}
	if err != nil {
		return DisplayInfo{}, err
	}
	return info, nil
}

// TouchConversation bumps the conversation's recency marker.
func (s *PostgresChatStore) TouchConversation(ctx context.Context, channelID string) error {
	if s == nil || s.pool == nil {
		return errors.New("realtime: nil store")
	}

	conversations := pgIdent(s.schema, "conversations")

	_, err := s.pool.Exec(ctx,
		`UPDATE `+conversations+` SET last_message_at = now() WHERE id = $1`,
		channelID,
	)
	return err
}

// UpsertReadMarkers inserts one read marker per (message, user) pair,
// ignoring conflicts so re-marking is a silent no-op. The batch goes out in
// a single round trip.
func (s *PostgresChatStore) UpsertReadMarkers(ctx context.Context, _ string, userID string, messageIDs []string) error {
	if s == nil || s.pool == nil {
		return errors.New("realtime: nil store")
	}
	if userID == "" || len(messageIDs) == 0 {
		return nil
	}

	reads := pgIdent(s.schema, "message_reads")

	b := &pgx.Batch{}
	for _, id := range messageIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		b.Queue(
			`INSERT INTO `+reads+` (message_id, user_id) VALUES ($1, $2)
			 ON CONFLICT (message_id, user_id) DO NOTHING`,
			id, userID,
		)
	}
	if b.Len() == 0 {
		return nil
	}

	return s.pool.SendBatch(ctx, b).Close()
}

// SetUserStatus writes the status only when it differs from the stored value
// and reports whether a row actually changed.
func (s *PostgresChatStore) SetUserStatus(ctx context.Context, userID, status string) (bool, error) {
	if s == nil || s.pool == nil {
		return false, errors.New("realtime: nil store")
	}

	users := pgIdent(s.schema, "users")

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+users+` SET status = $2 WHERE id = $1 AND status IS DISTINCT FROM $2`,
		userID, status,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// AcceptedContacts returns the user ids of accepted contacts for userID.
func (s *PostgresChatStore) AcceptedContacts(ctx context.Context, userID string) ([]string, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("realtime: nil store")
	}

	contacts := pgIdent(s.schema, "contacts")

	rows, err := s.pool.Query(ctx,
		`SELECT contact_id FROM `+contacts+` WHERE user_id = $1 AND status = 'accepted'`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
