package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

// DBStore appends audit entries to PostgreSQL
type DBStore struct {
	db *sql.DB
}

// NewDBStore creates a database-backed store and ensures the audit_logs table exists
func NewDBStore(ctx context.Context, db *sql.DB) (*DBStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	s := &DBStore{db: db}
	if err := s.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_logs table: %w", err)
	}
	return s, nil
}

func (s *DBStore) ensureTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		user_id VARCHAR(255) NOT NULL,
		action VARCHAR(100) NOT NULL,
		workspace_id VARCHAR(255),
		resource_type VARCHAR(50),
		resource_id VARCHAR(255),
		metadata JSONB,
		ip_address VARCHAR(45),
		user_agent TEXT,
		request_id VARCHAR(128),
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_workspace ON audit_logs(workspace_id, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_user_id ON audit_logs(user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource_type, resource_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_request_id ON audit_logs(request_id);
	`

	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Append implements Store
func (s *DBStore) Append(ctx context.Context, e Entry) error {
	var metadataJSON []byte
	if len(e.Metadata) > 0 {
		var err error
		metadataJSON, err = json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (
			timestamp, user_id, action,
			workspace_id, resource_type, resource_id,
			metadata, ip_address, user_agent, request_id
		) VALUES (
			$1, $2, $3,
			$4, $5, $6,
			$7, $8, $9, $10
		)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.Timestamp, e.UserID, string(e.Action),
		nullString(e.WorkspaceID), nullString(string(e.ResourceType)), nullString(e.ResourceID),
		nullString(string(metadataJSON)), nullString(e.IPAddress), nullString(e.UserAgent), nullString(e.RequestID),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// Recent implements Reader
func (s *DBStore) Recent(ctx context.Context, workspaceID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	query := `
		SELECT timestamp, user_id, action,
			COALESCE(workspace_id, ''), COALESCE(resource_type, ''), COALESCE(resource_id, ''),
			metadata, COALESCE(ip_address, ''), COALESCE(user_agent, ''), COALESCE(request_id, '')
		FROM audit_logs
		WHERE workspace_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e            Entry
			action       string
			resourceType string
			metadataJSON []byte
		)
		if err := rows.Scan(
			&e.Timestamp, &e.UserID, &action,
			&e.WorkspaceID, &resourceType, &e.ResourceID,
			&metadataJSON, &e.IPAddress, &e.UserAgent, &e.RequestID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		e.Action = Action(action)
		e.ResourceType = ResourceType(resourceType)
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit logs: %w", err)
	}
	return entries, nil
}

// Close implements Store. The database handle is owned by the caller.
func (s *DBStore) Close() error { return nil }

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
