package session

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]Row
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]Row)}
}

// Put inserts or replaces a session row.
func (s *MemoryStore) Put(row Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[row.ID] = row
}

// GetByID loads a session row by ID.
func (s *MemoryStore) GetByID(_ context.Context, sessionID string) (Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[sessionID]
	if !ok {
		return Row{}, ErrSessionNotFound
	}
	return row, nil
}
