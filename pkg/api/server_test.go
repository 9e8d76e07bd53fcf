package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoicely/gatekeeper/pkg/audit"
	"github.com/invoicely/gatekeeper/pkg/cronauth"
	"github.com/invoicely/gatekeeper/pkg/guard"
	"github.com/invoicely/gatekeeper/pkg/identity"
	"github.com/invoicely/gatekeeper/pkg/observability"
	"github.com/invoicely/gatekeeper/pkg/ratelimit"
	"github.com/invoicely/gatekeeper/pkg/workspace"
)

const testCronSecret = "cron-secret-for-tests"

type recordingNotifier struct {
	mu          sync.Mutex
	deliveries  []InvoiceDelivery
	invitations []Invitation
	extractions []Extraction
	verified    []string
	reminded    []string
	failFor     string
}

func (n *recordingNotifier) SendInvoice(_ context.Context, d InvoiceDelivery) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deliveries = append(n.deliveries, d)
	return nil
}

func (n *recordingNotifier) InviteMember(_ context.Context, inv Invitation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.invitations = append(n.invitations, inv)
	return nil
}

func (n *recordingNotifier) RequestExtraction(_ context.Context, x Extraction) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.extractions = append(n.extractions, x)
	return nil
}

func (n *recordingNotifier) SendVerificationEmail(_ context.Context, email string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verified = append(n.verified, email)
	return nil
}

func (n *recordingNotifier) SendReminder(_ context.Context, inv Invoice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if inv.ID == n.failFor {
		return errors.New("smtp: 421 service not available")
	}
	n.reminded = append(n.reminded, inv.ID)
	return nil
}

type testServer struct {
	server   *Server
	notifier *recordingNotifier
	invoices *MemoryInvoices
	audits   *audit.MemoryStore
	clock    *clockwork.FakeClock
	tokens   map[string]string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	profiles, err := ratelimit.NewRegistry(ratelimit.DefaultProfiles())
	require.NoError(t, err)
	counters := ratelimit.NewMemoryStore()
	cooldowns, err := ratelimit.NewCooldownGuard(counters, ratelimit.DefaultCooldowns(), ratelimit.WithClock(clock))
	require.NoError(t, err)

	users := identity.NewMemoryStore()
	spaces := workspace.NewMemoryStore()
	spaces.PutWorkspace(workspace.Workspace{ID: "ws-1", Name: "Northwind", OwnerID: "olivia"})
	spaces.PutWorkspace(workspace.Workspace{ID: "ws-2", Name: "Contoso", OwnerID: "other"})

	ts := &testServer{
		notifier: &recordingNotifier{},
		invoices: NewMemoryInvoices(),
		audits:   audit.NewMemoryStore(),
		clock:    clock,
		tokens:   map[string]string{},
	}
	for id, role := range map[string]workspace.Role{"olivia": workspace.RoleOwner, "adam": workspace.RoleAdmin, "mia": workspace.RoleMember} {
		users.PutUser(identity.Identity{ID: id, Email: id + "@northwind.test", ActiveWorkspaceID: "ws-1"})
		spaces.PutMember("ws-1", id, workspace.Membership{ID: "m-" + id, Role: role})
		token, err := users.CreateSession(id, clock.Now().Add(24*time.Hour))
		require.NoError(t, err)
		ts.tokens[id] = token
	}

	auditLog := audit.NewLogger(context.Background(), ts.audits, logger, audit.DefaultConfig())
	t.Cleanup(func() { _ = auditLog.Close(context.Background()) })

	pipeline, err := guard.New(guard.Deps{
		Limiter:    ratelimit.NewLimiter(counters, profiles, ratelimit.WithClock(clock)),
		Cooldowns:  cooldowns,
		Identities: identity.NewResolver(users, clock),
		Workspaces: workspace.NewAuthorizer(spaces),
		Cron:       cronauth.NewGuard(testCronSecret, logger),
		Audit:      auditLog,
		Metrics:    metrics,
		Logger:     logger,
	})
	require.NoError(t, err)

	ts.server, err = NewServer(Deps{
		Pipeline:  pipeline,
		Cooldowns: cooldowns,
		Notifier:  ts.notifier,
		Invoices:  ts.invoices,
		AuditLog:  ts.audits,
		Health:    observability.NewHealthChecker(nil, nil, "test"),
		Metrics:   metrics,
		Gatherer:  registry,
		Logger:    logger,
		Clock:     clock,
	})
	require.NoError(t, err)
	return ts
}

func (ts *testServer) do(method, path, user, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+ts.tokens[user])
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) cron() *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/internal/cron/reminders", nil)
	req.Header.Set(cronauth.HeaderCronSecret, testCronSecret)
	rec := httptest.NewRecorder()
	ts.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewServer_RequiresPipelineAndCooldowns(t *testing.T) {
	_, err := NewServer(Deps{})
	assert.Error(t, err)
}

func TestSendInvoice(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/workspaces/ws-1/invoices/inv-100/send", "mia",
		`{"recipient":"ap@fabrikam.test","cc":["cfo@fabrikam.test"],"subject":"Invoice INV-100"}`)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	resp := decode[SendInvoiceResponse](t, rec)
	assert.Equal(t, "inv-100", resp.InvoiceID)
	assert.Equal(t, []string{"ap@fabrikam.test", "cfo@fabrikam.test"}, resp.Recipients)
	assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))

	require.Len(t, ts.notifier.deliveries, 1)
	d := ts.notifier.deliveries[0]
	assert.Equal(t, "ws-1", d.WorkspaceID)
	assert.Equal(t, "mia", d.SentBy)

	require.Eventually(t, func() bool { return ts.audits.Len() == 1 }, time.Second, 5*time.Millisecond)
	e := ts.audits.Entries()[0]
	assert.Equal(t, audit.ActionInvoiceSent, e.Action)
	assert.Equal(t, "mia", e.UserID)
	assert.Equal(t, "inv-100", e.ResourceID)
	assert.Equal(t, 2, e.Metadata["recipients"])
}

func TestSendInvoice_CooldownPerInvoice(t *testing.T) {
	ts := newTestServer(t)
	body := `{"recipient":"ap@fabrikam.test"}`

	require.Equal(t, http.StatusAccepted, ts.do(http.MethodPost, "/api/workspaces/ws-1/invoices/inv-1/send", "mia", body).Code)

	rec := ts.do(http.MethodPost, "/api/workspaces/ws-1/invoices/inv-1/send", "adam", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "300", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusAccepted, ts.do(http.MethodPost, "/api/workspaces/ws-1/invoices/inv-2/send", "mia", body).Code)
	assert.Len(t, ts.notifier.deliveries, 2)
}

func TestSendInvoice_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		user   string
		body   string
		status int
	}{
		{"anonymous", "/api/workspaces/ws-1/invoices/inv-1/send", "", `{"recipient":"a@b.test"}`, http.StatusUnauthorized},
		{"other workspace", "/api/workspaces/ws-2/invoices/inv-1/send", "mia", `{"recipient":"a@b.test"}`, http.StatusForbidden},
		{"missing workspace", "/api/workspaces/ws-404/invoices/inv-1/send", "mia", `{"recipient":"a@b.test"}`, http.StatusNotFound},
		{"bad recipient", "/api/workspaces/ws-1/invoices/inv-1/send", "mia", `{"recipient":"nobody"}`, http.StatusBadRequest},
		{"too many cc", "/api/workspaces/ws-1/invoices/inv-1/send", "mia",
			`{"recipient":"a@b.test","cc":["1@b.test","2@b.test","3@b.test","4@b.test","5@b.test","6@b.test"]}`, http.StatusBadRequest},
		{"unknown field", "/api/workspaces/ws-1/invoices/inv-1/send", "mia", `{"recipient":"a@b.test","bcc":"x@y.test"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			rec := ts.do(http.MethodPost, tt.path, tt.user, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Empty(t, ts.notifier.deliveries)
		})
	}
}

func TestListInvoices(t *testing.T) {
	ts := newTestServer(t)
	for i, status := range []string{InvoiceSent, InvoicePaid, InvoiceSent, InvoiceDraft} {
		ts.invoices.Put(Invoice{ID: "inv-" + string(rune('a'+i)), WorkspaceID: "ws-1", Number: "INV-00" + string(rune('1'+i)), Status: status})
	}
	ts.invoices.Put(Invoice{ID: "inv-x", WorkspaceID: "ws-2", Number: "INV-001", Status: InvoiceSent})

	rec := ts.do(http.MethodGet, "/api/workspaces/ws-1/invoices?status=sent&limit=1", "mia", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page := decode[ListInvoicesResponse](t, rec)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Invoices, 1)
	assert.Equal(t, "INV-001", page.Invoices[0].Number)

	rec = ts.do(http.MethodGet, "/api/workspaces/ws-1/invoices", "mia", "")
	page = decode[ListInvoicesResponse](t, rec)
	assert.Equal(t, 4, page.Total)
	assert.Equal(t, 20, page.Limit)

	rec = ts.do(http.MethodGet, "/api/workspaces/ws-1/invoices?status=void", "mia", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInviteMember(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/workspaces/ws-1/members", "mia", `{"email":"new@northwind.test","role":"member"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodPost, "/api/workspaces/ws-1/members", "adam", `{"email":"new@northwind.test","role":"owner"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/api/workspaces/ws-1/members", "adam", `{"email":"New@Northwind.test","role":"admin"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[InviteMemberResponse](t, rec)
	assert.Equal(t, "new@northwind.test", resp.Email)
	assert.NotEmpty(t, resp.InvitationID)

	rec = ts.do(http.MethodPost, "/api/workspaces/ws-1/members", "olivia", `{"email":"new@northwind.test","role":"member"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "same address is throttled")

	require.Eventually(t, func() bool { return ts.audits.Len() == 1 }, time.Second, 5*time.Millisecond)
	e := ts.audits.Entries()[0]
	assert.Equal(t, audit.ActionMemberInvited, e.Action)
	assert.Equal(t, "adam", e.UserID)
	assert.Equal(t, "ws-1", e.WorkspaceID)
	assert.Equal(t, resp.InvitationID, e.ResourceID)
	assert.Equal(t, "admin", e.Metadata["role"])
}

func TestExtractInvoice(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/workspaces/ws-1/extract", "mia",
		`{"document_url":"https://files.northwind.test/scan.pdf","content_type":"application/pdf"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	job := decode[ExtractResponse](t, rec)
	require.Len(t, ts.notifier.extractions, 1)
	assert.Equal(t, job.JobID, ts.notifier.extractions[0].JobID)

	rec = ts.do(http.MethodPost, "/api/workspaces/ws-1/extract", "mia",
		`{"document_url":"ftp://files/scan.pdf","content_type":"text/plain"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuditLog(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusAccepted,
		ts.do(http.MethodPost, "/api/workspaces/ws-1/invoices/inv-1/send", "mia", `{"recipient":"a@b.test"}`).Code)
	require.Eventually(t, func() bool { return ts.audits.Len() == 1 }, time.Second, 5*time.Millisecond)

	rec := ts.do(http.MethodGet, "/api/workspaces/ws-1/audit-log", "mia", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodGet, "/api/workspaces/ws-1/audit-log?limit=10", "adam", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[struct {
		Entries []audit.Entry `json:"entries"`
	}](t, rec)
	require.Len(t, body.Entries, 1)
	assert.Equal(t, audit.ActionInvoiceSent, body.Entries[0].Action)
}

func TestVerificationEmail(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/auth/verification-email", "", `{"email":"Someone@Example.test"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, []string{"someone@example.test"}, ts.notifier.verified)

	rec = ts.do(http.MethodPost, "/api/auth/verification-email", "", `{"email":"someone@example.test"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	ts.clock.Advance(time.Minute + time.Second)
	rec = ts.do(http.MethodPost, "/api/auth/verification-email", "", `{"email":"someone@example.test"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool { return ts.audits.Len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, audit.UserAnonymous, ts.audits.Entries()[0].UserID)
}

func TestReminders(t *testing.T) {
	ts := newTestServer(t)
	past := ts.clock.Now().Add(-72 * time.Hour)
	ts.invoices.Put(Invoice{ID: "inv-1", WorkspaceID: "ws-1", Status: InvoiceSent, DueDate: past})
	ts.invoices.Put(Invoice{ID: "inv-2", WorkspaceID: "ws-1", Status: InvoiceOverdue, DueDate: past})
	ts.invoices.Put(Invoice{ID: "inv-3", WorkspaceID: "ws-1", Status: InvoicePaid, DueDate: past})
	ts.invoices.Put(Invoice{ID: "inv-4", WorkspaceID: "ws-2", Status: InvoiceSent, DueDate: ts.clock.Now().Add(30 * 24 * time.Hour)})
	ts.invoices.Put(Invoice{ID: "inv-5", WorkspaceID: "ws-2", Status: InvoiceSent, DueDate: past})
	ts.notifier.failFor = "inv-5"

	rec := ts.cron()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, RemindersResponse{Sent: 2, Failed: 1}, decode[RemindersResponse](t, rec))
	assert.Equal(t, []string{"inv-1", "inv-2"}, ts.notifier.reminded)

	rec = ts.cron()
	assert.Equal(t, RemindersResponse{Skipped: 3}, decode[RemindersResponse](t, rec))

	ts.clock.Advance(24*time.Hour + time.Second)
	rec = ts.cron()
	assert.Equal(t, 2, decode[RemindersResponse](t, rec).Sent)

	require.Eventually(t, func() bool { return ts.audits.Len() == 3 }, time.Second, 5*time.Millisecond)
	e := ts.audits.Entries()[0]
	assert.Equal(t, audit.UserSystem, e.UserID)
	assert.Equal(t, audit.ActionSchedulerRemindersSent, e.Action)
}

func TestReminders_RejectsWithoutSecret(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodPost, "/api/internal/cron/reminders", "olivia", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, ts.notifier.reminded)
}

func TestOperationalRoutes(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/healthz", "", "").Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/readyz", "", "").Code)

	ts.do(http.MethodPost, "/api/auth/verification-email", "", `{"email":"m@example.test"}`)
	rec := ts.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gatekeeper_pipeline_requests_total")
	assert.Contains(t, rec.Body.String(), `route="auth.verification_email"`)
}
