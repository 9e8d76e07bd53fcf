package workspace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// Store reads a workspace with the caller's membership projected onto it.
// It returns ErrWorkspaceNotFound when the workspace does not exist and a nil
// Membership when the user has no active membership.
type Store interface {
	FindWithMembership(ctx context.Context, workspaceID, userID string) (Workspace, *Membership, error)
}

// MemoryStore is an in-process Store for tests and local development
type MemoryStore struct {
	mu         sync.RWMutex
	workspaces map[string]Workspace
	members    map[string]map[string]Membership
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workspaces: make(map[string]Workspace),
		members:    make(map[string]map[string]Membership),
	}
}

// PutWorkspace inserts or replaces a workspace
func (s *MemoryStore) PutWorkspace(ws Workspace) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspaces[ws.ID] = ws
}

// PutMember inserts or replaces a membership
func (s *MemoryStore) PutMember(workspaceID, userID string, m Membership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[workspaceID] == nil {
		s.members[workspaceID] = make(map[string]Membership)
	}
	s.members[workspaceID][userID] = m
}

// RemoveMember deletes a membership
func (s *MemoryStore) RemoveMember(workspaceID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members[workspaceID], userID)
}

// FindWithMembership implements Store
func (s *MemoryStore) FindWithMembership(_ context.Context, workspaceID, userID string) (Workspace, *Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ws, ok := s.workspaces[workspaceID]
	if !ok {
		return Workspace{}, nil, ErrWorkspaceNotFound
	}
	m, ok := s.members[workspaceID][userID]
	if !ok {
		return ws, nil, nil
	}
	return ws, &m, nil
}

const findWithMembershipQuery = `
	SELECT w.id, w.name, w.owner_id, m.id, m.role
	FROM workspaces w
	LEFT JOIN workspace_members m
		ON m.workspace_id = w.id AND m.user_id = $1 AND m.status = 'active'
	WHERE w.id = $2
`

// PostgresStore reads workspaces and memberships owned by the workspace service
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over an open database
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// FindWithMembership implements Store with one query
func (s *PostgresStore) FindWithMembership(ctx context.Context, workspaceID, userID string) (Workspace, *Membership, error) {
	var (
		ws           Workspace
		membershipID sql.NullString
		role         sql.NullString
	)

	err := s.db.QueryRowContext(ctx, findWithMembershipQuery, userID, workspaceID).Scan(
		&ws.ID, &ws.Name, &ws.OwnerID, &membershipID, &role,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Workspace{}, nil, ErrWorkspaceNotFound
	}
	if err != nil {
		return Workspace{}, nil, fmt.Errorf("failed to load workspace %s: %w", workspaceID, err)
	}

	if !membershipID.Valid {
		return ws, nil, nil
	}
	return ws, &Membership{ID: membershipID.String, Role: Role(role.String)}, nil
}
