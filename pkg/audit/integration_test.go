//go:build integration

package audit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Run with: go test -tags=integration -run TestDBStore_Postgres ./pkg/audit/...
func TestDBStore_Postgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("gatekeeper"),
		postgres.WithUsername("gatekeeper"),
		postgres.WithPassword("gatekeeper"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewDBStore(ctx, db)
	require.NoError(t, err)

	// ensureTable is idempotent
	_, err = NewDBStore(ctx, db)
	require.NoError(t, err)

	logger := NewLogger(ctx, store, quietLogger(), DefaultConfig())
	logger.Record(ctx, InvoiceEvent(ActionInvoiceSent, "alice", "ws-a", "inv-1").With("attempt", 1))
	logger.Record(ctx, MembershipEvent(ActionMemberInvited, "alice", "ws-a", "m-2"))
	logger.Record(ctx, SchedulerEvent(ActionSchedulerRun, "reminders"))
	require.NoError(t, logger.Close(ctx))

	entries, err := store.Recent(ctx, "ws-a", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byAction := map[Action]Entry{}
	for _, e := range entries {
		byAction[e.Action] = e
	}
	assert.Equal(t, float64(1), byAction[ActionInvoiceSent].Metadata["attempt"])
	assert.Equal(t, "m-2", byAction[ActionMemberInvited].ResourceID)

	var systemRows int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_logs WHERE user_id = $1 AND workspace_id IS NULL`, UserSystem).Scan(&systemRows))
	assert.Equal(t, 1, systemRows)
}
