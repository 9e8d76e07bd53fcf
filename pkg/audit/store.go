package audit

import (
	"context"
	"errors"
	"sync"
)

// Store is the durable sink for audit entries
type Store interface {
	// Append writes one entry. Entries are never updated or deleted through a Store.
	Append(ctx context.Context, e Entry) error

	// Close releases resources held by the store
	Close() error
}

// Reader lists recent entries for one workspace, newest first
type Reader interface {
	Recent(ctx context.Context, workspaceID string, limit int) ([]Entry, error)
}

// DefaultRecentLimit caps Recent when the caller passes a non-positive limit
const DefaultRecentLimit = 50

// MemoryStore keeps entries in process
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append implements Store
func (s *MemoryStore) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

// Entries returns a copy of everything appended so far, oldest first
func (s *MemoryStore) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entry(nil), s.entries...)
}

// Len returns the number of entries
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Recent implements Reader
func (s *MemoryStore) Recent(_ context.Context, workspaceID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if s.entries[i].WorkspaceID == workspaceID {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

// Close implements Store
func (s *MemoryStore) Close() error { return nil }

// MultiStore appends every entry to each of its stores
type MultiStore struct {
	stores []Store
}

// NewMultiStore creates a fan-out store
func NewMultiStore(stores ...Store) *MultiStore {
	return &MultiStore{stores: stores}
}

// Append writes to every store, continuing past failures. The returned error joins all failures.
func (m *MultiStore) Append(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range m.stores {
		if err := s.Append(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every store
func (m *MultiStore) Close() error {
	var errs []error
	for _, s := range m.stores {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
