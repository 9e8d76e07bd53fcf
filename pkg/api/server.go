package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/invoicely/gatekeeper/pkg/audit"
	"github.com/invoicely/gatekeeper/pkg/guard"
	"github.com/invoicely/gatekeeper/pkg/httputil"
	"github.com/invoicely/gatekeeper/pkg/observability"
	"github.com/invoicely/gatekeeper/pkg/ratelimit"
	"github.com/invoicely/gatekeeper/pkg/validation"
	"github.com/invoicely/gatekeeper/pkg/workspace"
)

// Deps are the collaborators the API server routes to
type Deps struct {
	Pipeline  *guard.Pipeline
	Cooldowns *ratelimit.CooldownGuard
	Notifier  Notifier
	Invoices  InvoiceLister

	// AuditLog backs the audit-log route. It is not registered when nil.
	AuditLog audit.Reader

	Health   *observability.HealthChecker
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
	Logger   *observability.Logger
	Clock    clockwork.Clock
}

// Server represents our API server
type Server struct {
	router    *mux.Router
	pipeline  *guard.Pipeline
	cooldowns *ratelimit.CooldownGuard
	notifier  Notifier
	invoices  InvoiceLister
	auditLog  audit.Reader
	logger    *observability.Logger
	clock     clockwork.Clock
}

// NewServer creates the API server and registers every route
func NewServer(deps Deps) (*Server, error) {
	if deps.Pipeline == nil {
		return nil, errors.New("api: pipeline is required")
	}
	if deps.Cooldowns == nil {
		return nil, errors.New("api: cooldown guard is required")
	}
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if deps.Notifier == nil {
		deps.Notifier = NewLogNotifier(deps.Logger)
	}
	if deps.Invoices == nil {
		deps.Invoices = NewMemoryInvoices()
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	s := &Server{
		router:    mux.NewRouter(),
		pipeline:  deps.Pipeline,
		cooldowns: deps.Cooldowns,
		notifier:  deps.Notifier,
		invoices:  deps.Invoices,
		auditLog:  deps.AuditLog,
		logger:    deps.Logger,
		clock:     deps.Clock,
	}

	s.router.Use(httputil.LoggingMiddleware(deps.Logger))
	if deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
	}
	s.router.Use(httputil.RecoveryMiddleware(deps.Logger))

	if deps.Health != nil {
		observability.RegisterHealthRoutes(s.router, deps.Health)
	}
	if deps.Gatherer != nil {
		observability.RegisterMetricsEndpoint(s.router, deps.Gatherer)
	}
	s.setupRoutes()
	return s, nil
}

var listInvoicesQuery = validation.QuerySchema{
	"status": {Tag: "omitempty,oneof=draft sent paid overdue"},
	"limit":  {Tag: "numeric,min=1,max=100", Default: "20"},
	"offset": {Tag: "numeric,min=0", Default: "0"},
}

var auditLogQuery = validation.QuerySchema{
	"limit": {Tag: "numeric,min=1,max=200", Default: "50"},
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	p := s.pipeline
	ws := s.router.PathPrefix("/api/workspaces/{" + varWorkspaceID + "}").Subrouter()

	ws.Handle("/invoices/{"+varInvoiceID+"}/send", p.Secure(guard.Route{
		Name:       "invoice.send",
		Profile:    ratelimit.ProfileEmailSend,
		Scope:      ratelimit.ScopeUser,
		Permission: workspace.PermSendInvoices,
		Body:       guard.Bind[SendInvoiceRequest](),
		Cooldown: &guard.Cooldown{
			Type:     ratelimit.CooldownInvoiceSend,
			Resource: func(req *guard.Request) string { return req.Vars[varInvoiceID] },
		},
		Audit: invoiceSentAudit,
	}, s.sendInvoice)).Methods(http.MethodPost)

	ws.Handle("/invoices", p.Secure(guard.Route{
		Name:  "invoice.list",
		Query: listInvoicesQuery,
	}, s.listInvoices)).Methods(http.MethodGet)

	ws.Handle("/members", p.Secure(guard.Route{
		Name:       "member.invite",
		Profile:    ratelimit.ProfileGeneral,
		Scope:      ratelimit.ScopeWorkspace,
		Permission: workspace.PermManageMembers,
		Body:       guard.Bind[InviteMemberRequest](),
		Cooldown: &guard.Cooldown{
			Type:     ratelimit.CooldownMemberInvite,
			Resource: inviteCooldownKey,
		},
		Audit: memberInvitedAudit,
	}, s.inviteMember)).Methods(http.MethodPost)

	ws.Handle("/extract", p.Secure(guard.Route{
		Name:       "invoice.extract",
		Profile:    ratelimit.ProfileAIExtract,
		Scope:      ratelimit.ScopeWorkspace,
		Permission: workspace.PermUseAI,
		Body:       guard.Bind[ExtractRequest](),
		Audit:      extractionAudit,
	}, s.extractInvoice)).Methods(http.MethodPost)

	if s.auditLog != nil {
		ws.Handle("/audit-log", p.Secure(guard.Route{
			Name:       "audit.list",
			Permission: workspace.PermViewAuditLog,
			Query:      auditLogQuery,
		}, s.listAuditLog)).Methods(http.MethodGet)
	}

	s.router.Handle("/api/auth/verification-email", p.Public(guard.Route{
		Name:    "auth.verification_email",
		Profile: ratelimit.ProfileAuth,
		Scope:   ratelimit.ScopeIP,
		Body:    guard.Bind[VerificationEmailRequest](),
		Cooldown: &guard.Cooldown{
			Type:     ratelimit.CooldownVerificationEmail,
			Resource: verificationCooldownKey,
		},
		Audit: verificationAudit,
	}, s.sendVerificationEmail)).Methods(http.MethodPost)

	s.router.Handle("/api/internal/cron/reminders", p.Cron(guard.Route{
		Name:  "cron.reminders",
		Audit: remindersAudit,
	}, s.sendReminders)).Methods(http.MethodPost)
}

// Router exposes the router for additional registrations
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler returns the router wrapped in OpenTelemetry HTTP instrumentation
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "gatekeeper.http")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
