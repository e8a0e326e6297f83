package session

import (
	"context"
	"time"
)

// Service implements the session operations the realtime gateway depends on.
//
// It verifies access tokens against the signing key and then against the
// backing session row, so revocation takes effect without waiting for the
// token to expire.
type Service struct {
	cfg    Config
	tokens AccessTokenManager
	store  Store
}

// NewService constructs a Service with the provided configuration, store, and token manager.
func NewService(cfg Config, store Store, tokens AccessTokenManager) *Service {
	return &Service{cfg: cfg, store: store, tokens: tokens}
}

// IssueAccessToken issues a short-lived access token for an existing session.
func (s *Service) IssueAccessToken(userID, sessionID string, now time.Time) (token string, exp time.Time, err error) {
	return s.tokens.Issue(userID, sessionID, now)
}

// ValidateAccessToken verifies an access token and ensures the backing session is active.
func (s *Service) ValidateAccessToken(ctx context.Context, token string, now time.Time) (AccessClaims, error) {
	claims, err := s.tokens.Verify(token, now)
	if err != nil {
		return AccessClaims{}, err
	}

	// Server-authoritative session check to honor revocations.
	row, err := s.store.GetByID(ctx, claims.SessionID)
	if err != nil {
		return AccessClaims{}, err
	}

	if row.UserID != claims.UserID {
		return AccessClaims{}, ErrInvalidToken
	}
	if row.RevokedAt != nil || row.ReplacedBySessionID != nil {
		return AccessClaims{}, ErrSessionRevoked
	}
	if !row.ExpiresAt.After(now) {
		return AccessClaims{}, ErrSessionExpired
	}

	return claims, nil
}
