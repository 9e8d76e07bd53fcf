package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const findBySessionQuery = `
	SELECT s.user_id, s.expires_at, u.id, u.email, u.display_name, u.active_workspace_id
	FROM sessions s
	LEFT JOIN users u ON u.id = s.user_id
	WHERE s.token_hash = $1
`

// PostgresStore reads sessions and users owned by the account service
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over an open database
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// FindBySessionHash implements Store with a single query
func (s *PostgresStore) FindBySessionHash(ctx context.Context, tokenHash string, now time.Time) (*Identity, error) {
	var (
		sessionUserID string
		expiresAt     time.Time
		userID        sql.NullString
		email         sql.NullString
		displayName   sql.NullString
		activeWS      sql.NullString
	)

	err := s.db.QueryRowContext(ctx, findBySessionQuery, tokenHash).Scan(
		&sessionUserID, &expiresAt, &userID, &email, &displayName, &activeWS,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}

	if !now.Before(expiresAt) {
		return nil, ErrNoSession
	}
	if !userID.Valid {
		return nil, ErrIdentityNotFound
	}

	return &Identity{
		ID:                userID.String,
		Email:             email.String,
		DisplayName:       displayName.String,
		ActiveWorkspaceID: activeWS.String,
	}, nil
}
