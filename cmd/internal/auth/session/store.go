package session

import (
	"context"
	"time"
)

// Row mirrors the tether.sessions row consulted during verification.
type Row struct {
	ID                  string
	UserID              string
	CreatedAt           time.Time
	ExpiresAt           time.Time
	RevokedAt           *time.Time
	ReplacedBySessionID *string
}

// Store abstracts persistence for session state.
type Store interface {
	// GetByID loads a session row by ID.
	GetByID(ctx context.Context, sessionID string) (Row, error)
}
