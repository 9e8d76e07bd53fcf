package identity

import (
	"context"
	"sync"
	"time"
)

// Store finds the identity behind a session.
// Implementations return ErrNoSession when no live session matches tokenHash
// and ErrIdentityNotFound when the session's user is gone.
type Store interface {
	FindBySessionHash(ctx context.Context, tokenHash string, now time.Time) (*Identity, error)
}

// MemoryStore is an in-process Store for tests and local development
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]Identity
	sessions map[string]Session
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]Identity),
		sessions: make(map[string]Session),
	}
}

// PutUser inserts or replaces a user
func (s *MemoryStore) PutUser(id Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id.ID] = id
}

// DeleteUser removes a user, leaving their sessions dangling
func (s *MemoryStore) DeleteUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, userID)
}

// CreateSession issues a token for userID valid until expiresAt
func (s *MemoryStore) CreateSession(userID string, expiresAt time.Time) (string, error) {
	token, hash, err := GenerateToken()
	if err != nil {
		return "", err
	}
	s.PutSession(Session{TokenHash: hash, UserID: userID, ExpiresAt: expiresAt})
	return token, nil
}

// PutSession stores a session row as-is
func (s *MemoryStore) PutSession(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.TokenHash] = sess
}

// FindBySessionHash implements Store
func (s *MemoryStore) FindBySessionHash(_ context.Context, tokenHash string, now time.Time) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[tokenHash]
	if !ok || !sess.Live(now) {
		return nil, ErrNoSession
	}
	user, ok := s.users[sess.UserID]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return &user, nil
}
