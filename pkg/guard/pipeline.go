package guard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/invoicely/gatekeeper/pkg/audit"
	"github.com/invoicely/gatekeeper/pkg/contextkeys"
	"github.com/invoicely/gatekeeper/pkg/cronauth"
	"github.com/invoicely/gatekeeper/pkg/httputil"
	"github.com/invoicely/gatekeeper/pkg/identity"
	"github.com/invoicely/gatekeeper/pkg/observability"
	"github.com/invoicely/gatekeeper/pkg/ratelimit"
	"github.com/invoicely/gatekeeper/pkg/validation"
	"github.com/invoicely/gatekeeper/pkg/workspace"
)

// Stage names, in execution order
const (
	StageRateLimit = "rate_limit"
	StageAuth      = "authn_authz"
	StageValidate  = "validate"
	StageCooldown  = "cooldown"
	StageHandler   = "handler"
	StageAudit     = "audit"
	StageResponse  = "response"
)

// Stage outcomes recorded in gatekeeper_pipeline_requests_total
const (
	OutcomePass   = "pass"
	OutcomeReject = "reject"
	OutcomeError  = "error"
	OutcomeSkip   = "skip"
)

// Deps are the collaborators a Pipeline composes
type Deps struct {
	Limiter    *ratelimit.Limiter
	Cooldowns  *ratelimit.CooldownGuard
	Identities *identity.Resolver
	Workspaces *workspace.Authorizer
	Cron       *cronauth.Guard
	Audit      *audit.Logger
	Validator  *validation.Validator
	Metrics    *observability.Metrics
	Logger     *observability.Logger
	Tracer     trace.Tracer

	// TrustProxy honors X-Forwarded-For when resolving the client IP
	TrustProxy bool
}

// Pipeline wraps handlers in the fixed guard sequence
type Pipeline struct {
	limiter    *ratelimit.Limiter
	cooldowns  *ratelimit.CooldownGuard
	identities *identity.Resolver
	workspaces *workspace.Authorizer
	cron       *cronauth.Guard
	audit      *audit.Logger
	validator  *validation.Validator
	metrics    *observability.Metrics
	logger     *observability.Logger
	tracer     trace.Tracer
	trustProxy bool
}

// New creates a Pipeline. Limiter, Identities and Workspaces are required.
// A missing cron guard fails every cron request closed.
func New(deps Deps) (*Pipeline, error) {
	if deps.Limiter == nil {
		return nil, errors.New("guard: limiter is required")
	}
	if deps.Identities == nil {
		return nil, errors.New("guard: identity resolver is required")
	}
	if deps.Workspaces == nil {
		return nil, errors.New("guard: workspace authorizer is required")
	}

	p := &Pipeline{
		limiter:    deps.Limiter,
		cooldowns:  deps.Cooldowns,
		identities: deps.Identities,
		workspaces: deps.Workspaces,
		cron:       deps.Cron,
		audit:      deps.Audit,
		validator:  deps.Validator,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		tracer:     deps.Tracer,
		trustProxy: deps.TrustProxy,
	}
	if p.logger == nil {
		p.logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if p.cron == nil {
		p.cron = cronauth.NewGuard("", p.logger)
	}
	if p.validator == nil {
		p.validator = validation.New()
	}
	if p.tracer == nil {
		p.tracer = observability.Tracer()
	}
	return p, nil
}

// Secure guards a route with rate limiting, session identity and workspace permission.
// It panics on a route that names an unknown profile, permission or cooldown.
func (p *Pipeline) Secure(route Route, h Handler) http.Handler {
	return p.handler(variantSecure, route, h)
}

// Public guards a route with rate limiting only
func (p *Pipeline) Public(route Route, h Handler) http.Handler {
	return p.handler(variantPublic, route, h)
}

// Cron guards a scheduler endpoint with the shared secret. It is never rate limited.
func (p *Pipeline) Cron(route Route, h Handler) http.Handler {
	return p.handler(variantCron, route, h)
}

func (p *Pipeline) handler(v variant, route Route, h Handler) http.Handler {
	route = p.mustCompile(v, route, h)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.serve(w, r, v, &route, h)
	})
}

// mustCompile resolves route defaults and rejects misconfiguration at startup
func (p *Pipeline) mustCompile(v variant, route Route, h Handler) Route {
	if route.Name == "" {
		panic("guard: route name is required")
	}
	if h == nil {
		panic(fmt.Sprintf("guard: route %s has no handler", route.Name))
	}

	if route.Profile == "" {
		route.Profile = ratelimit.ProfileGeneral
	}
	p.limiter.Registry().MustGet(route.Profile)

	if route.Scope == "" {
		route.Scope = ratelimit.ScopeIP
		if v == variantSecure {
			route.Scope = ratelimit.ScopeUser
		}
	}
	switch route.Scope {
	case ratelimit.ScopeIP, ratelimit.ScopeUser, ratelimit.ScopeWorkspace:
	default:
		panic(fmt.Sprintf("guard: route %s has unknown scope %q", route.Name, route.Scope))
	}

	if route.Permission != "" {
		if v != variantSecure {
			panic(fmt.Sprintf("guard: route %s requires a permission but is not secure", route.Name))
		}
		if _, ok := workspace.AllowedRoles(route.Permission); !ok {
			panic(fmt.Sprintf("guard: route %s requires undefined permission %q", route.Name, route.Permission))
		}
	}

	if route.Cooldown != nil {
		if p.cooldowns == nil {
			panic(fmt.Sprintf("guard: route %s uses a cooldown but no cooldown guard is configured", route.Name))
		}
		if route.Cooldown.Resource == nil || !p.cooldowns.Has(route.Cooldown.Type) {
			panic(fmt.Sprintf("guard: route %s has invalid cooldown %q", route.Name, route.Cooldown.Type))
		}
	}
	return route
}

// call is the per-request state threaded through the stages
type call struct {
	variant variant
	route   *Route
	handler Handler
	w       http.ResponseWriter
	req     *Request
	resp    *Response

	// the session lookup runs at most once per request
	identityDone bool
	ident        *identity.Identity
	identErr     error
}

func (c *call) resolveIdentity(ctx context.Context, r *identity.Resolver) (*identity.Identity, error) {
	if !c.identityDone {
		c.ident, c.identErr = r.Resolve(ctx, c.req.HTTP)
		c.identityDone = true
	}
	return c.ident, c.identErr
}

type stageFunc func(ctx context.Context, c *call) (skipped bool, err error)

func (p *Pipeline) serve(w http.ResponseWriter, r *http.Request, v variant, route *Route, h Handler) {
	reqID := httputil.RequestID(r)
	w.Header().Set(httputil.HeaderRequestID, reqID)
	ip := httputil.ClientIP(r, p.trustProxy)

	ctx := contextkeys.WithRequestID(r.Context(), reqID)
	ctx = contextkeys.WithClientIP(ctx, ip)
	ctx, span := p.tracer.Start(ctx, "guard."+route.Name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("guard.route", route.Name),
			attribute.String("guard.variant", v.String()),
			attribute.String("request.id", reqID),
		),
	)
	defer span.End()
	ctx = observability.WithLogger(ctx, observability.UpdateLoggerWithTraceContext(ctx, p.logger.WithField("route", route.Name)))

	c := &call{
		variant: v,
		route:   route,
		handler: h,
		w:       w,
		req: &Request{
			HTTP:     r.WithContext(ctx),
			ID:       reqID,
			ClientIP: ip,
			Vars:     mux.Vars(r),
		},
	}

	stages := []struct {
		name string
		fn   stageFunc
	}{
		{StageRateLimit, p.rateLimit},
		{StageAuth, p.authenticate},
		{StageValidate, p.validate},
		{StageCooldown, p.cooldown},
		{StageHandler, p.invoke},
	}
	for _, s := range stages {
		if gerr := p.run(ctx, c, s.name, s.fn); gerr != nil {
			span.SetStatus(codes.Error, gerr.Kind.String())
			p.fail(ctx, c, s.name, gerr)
			return
		}
	}

	// The response is decided; audit never changes it.
	_ = p.run(ctx, c, StageAudit, p.record)
	_ = p.run(ctx, c, StageResponse, p.respond)
}

// run executes one stage inside its own span and records its outcome
func (p *Pipeline) run(ctx context.Context, c *call, name string, fn stageFunc) *Error {
	sctx, span := p.tracer.Start(ctx, "guard.stage."+name,
		trace.WithAttributes(attribute.String("guard.route", c.route.Name)))
	defer span.End()

	start := time.Now()
	skipped, err := fn(sctx, c)

	outcome := OutcomePass
	var gerr *Error
	switch {
	case err != nil:
		gerr = Classify(err)
		outcome = OutcomeReject
		if gerr.Kind == KindInternal {
			outcome = OutcomeError
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, gerr.Kind.String())
	case skipped:
		outcome = OutcomeSkip
	}
	span.SetAttributes(attribute.String("guard.outcome", outcome))

	if p.metrics != nil {
		p.metrics.PipelineRequestsTotal.WithLabelValues(c.route.Name, name, outcome).Inc()
		p.metrics.PipelineStageDuration.WithLabelValues(c.route.Name, name).Observe(time.Since(start).Seconds())
	}
	return gerr
}

func (p *Pipeline) rateLimit(ctx context.Context, c *call) (bool, error) {
	if c.variant == variantCron {
		return true, nil
	}

	res, err := p.limiter.CheckLayeredFunc(ctx, c.route.Profile, c.req.ClientIP, func(ctx context.Context) ratelimit.Scope {
		return p.scope(ctx, c)
	})
	if err != nil {
		return false, err
	}

	httputil.SetRateLimitHeaders(c.w, httputil.RateLimitInfo{
		Limit:      res.Limit,
		Remaining:  res.Remaining,
		ResetAt:    res.ResetAt,
		RetryAfter: res.RetryAfter,
	})
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("ratelimit.profile", res.Profile),
		attribute.String("ratelimit.scope", string(res.Scope.Kind)),
		attribute.Int("ratelimit.remaining", res.Remaining),
	)

	if !res.Allowed {
		return false, &Error{Kind: KindRateLimitExceeded, Message: res.Message(), RetryAfter: res.RetryAfter}
	}
	return false, nil
}

// scope picks the counter subject. An empty id makes the limiter fall back to the client IP.
func (p *Pipeline) scope(ctx context.Context, c *call) ratelimit.Scope {
	switch c.route.Scope {
	case ratelimit.ScopeUser:
		if c.variant != variantSecure {
			return ratelimit.UserScope("")
		}
		// a failed lookup is reported by the auth stage; here it only means "anonymous"
		id, _ := c.resolveIdentity(ctx, p.identities)
		if id == nil {
			return ratelimit.UserScope("")
		}
		return ratelimit.UserScope(id.ID)

	case ratelimit.ScopeWorkspace:
		wsID, err := workspace.RequestedWorkspaceID(c.req.HTTP)
		if err == nil && wsID == "" && c.variant == variantSecure {
			if id, _ := c.resolveIdentity(ctx, p.identities); id != nil {
				wsID = id.ActiveWorkspaceID
			}
		}
		return ratelimit.WorkspaceScope(wsID)

	default:
		return ratelimit.IPScope(c.req.ClientIP)
	}
}

func (p *Pipeline) authenticate(ctx context.Context, c *call) (bool, error) {
	switch c.variant {
	case variantPublic:
		return true, nil
	case variantCron:
		return false, p.cron.Authorize(c.req.HTTP)
	}

	id, err := c.resolveIdentity(ctx, p.identities)
	if err != nil {
		return false, err
	}
	c.req.Identity = id

	requested, err := workspace.RequestedWorkspaceID(c.req.HTTP)
	if err != nil {
		return false, err
	}

	wc, err := p.workspaces.Resolve(ctx, id, requested)
	if err == nil && c.route.Permission != "" {
		err = p.workspaces.Authorize(wc, c.route.Permission)
	}
	if err != nil {
		if errors.Is(err, workspace.ErrNotAMember) || errors.Is(err, workspace.ErrPermissionDenied) {
			observability.FromContext(ctx).WithFields(map[string]interface{}{
				"event":        "security.authz.denied",
				"user_id":      id.ID,
				"workspace_id": requested,
				"permission":   string(c.route.Permission),
				"reason":       err.Error(),
			}).Warn("Workspace access denied")
		}
		return false, err
	}

	c.req.Workspace = wc
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("user.id", id.ID),
		attribute.String("workspace.id", wc.Workspace().ID),
		attribute.String("workspace.role", string(wc.Role())),
	)
	return false, nil
}

func (p *Pipeline) validate(_ context.Context, c *call) (bool, error) {
	if c.route.Query == nil && c.route.Body == nil {
		return true, nil
	}

	if c.route.Query != nil {
		q, err := p.validator.ValidateQuery(c.req.HTTP, c.route.Query)
		if err != nil {
			return false, err
		}
		c.req.Query = q
	}

	if c.route.Body != nil {
		dst := c.route.Body()
		if err := p.validator.DecodeBody(c.req.HTTP, dst); err != nil {
			return false, err
		}
		c.req.Body = dst
	}
	return false, nil
}

func (p *Pipeline) cooldown(ctx context.Context, c *call) (bool, error) {
	cd := c.route.Cooldown
	if cd == nil {
		return true, nil
	}

	resource := cd.Resource(c.req)
	if resource == "" {
		return false, fmt.Errorf("cooldown %s: route %s resolved no resource", cd.Type, c.route.Name)
	}

	res, err := p.cooldowns.Check(ctx, resource, cd.Type)
	if err != nil {
		return false, err
	}
	if !res.Allowed {
		return false, &Error{
			Kind:       KindCooldownActive,
			Message:    cooldownMessage(res.RetryAfter),
			RetryAfter: res.RetryAfter,
		}
	}
	return false, nil
}

func cooldownMessage(d time.Duration) string {
	secs := int((d + time.Second - 1) / time.Second)
	if secs <= 1 {
		return "Please wait 1 second before trying again."
	}
	return fmt.Sprintf("Please wait %d seconds before trying again.", secs)
}

// invoke runs the handler. A panic becomes an internal error.
func (p *Pipeline) invoke(ctx context.Context, c *call) (_ bool, err error) {
	if c.req.Identity != nil {
		ctx = identity.WithIdentity(ctx, c.req.Identity)
	}
	if c.req.Workspace != nil {
		ctx = workspace.WithContext(ctx, c.req.Workspace)
	}
	c.req.HTTP = c.req.HTTP.WithContext(ctx)

	defer func() {
		if rec := recover(); rec != nil {
			observability.LogPanic(observability.FromContext(ctx), "guard handler "+c.route.Name, rec)
			err = observability.NewPanicError(rec)
		}
	}()

	resp, err := c.handler(ctx, c.req)
	if err != nil {
		return false, err
	}
	if resp == nil {
		resp = &Response{Status: http.StatusNoContent}
	}
	if resp.Status == 0 {
		resp.Status = http.StatusOK
	}
	c.resp = resp
	return false, nil
}

// record hands audit entries to the audit logger. Entries are only built for successful responses.
// record never fails the request: a panic while building entries is logged
// and reported as the audit stage's error outcome.
func (p *Pipeline) record(ctx context.Context, c *call) (_ bool, err error) {
	if c.route.Audit == nil || p.audit == nil || c.resp.Status >= http.StatusBadRequest {
		return true, nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			observability.LogPanic(observability.FromContext(ctx), "guard audit "+c.route.Name, rec)
			err = observability.NewPanicError(rec)
		}
	}()

	for _, e := range c.route.Audit(c.req, c.resp) {
		p.audit.Record(ctx, p.fillEntry(c, e))
	}
	return false, nil
}

func (p *Pipeline) fillEntry(c *call, e audit.Entry) audit.Entry {
	if e.UserID == "" {
		switch {
		case c.variant == variantCron:
			e.UserID = audit.UserSystem
		case c.req.Identity != nil:
			e.UserID = c.req.Identity.ID
		}
	}
	if e.WorkspaceID == "" && c.req.Workspace != nil {
		e.WorkspaceID = c.req.Workspace.Workspace().ID
	}
	if e.UserAgent == "" {
		e.UserAgent = c.req.HTTP.UserAgent()
	}
	if e.RequestID == "" {
		e.RequestID = c.req.ID
	}
	if e.IPAddress == "" {
		e.IPAddress = c.req.ClientIP
	}
	return e
}

func (p *Pipeline) respond(ctx context.Context, c *call) (bool, error) {
	for k, vs := range c.resp.Header {
		for _, v := range vs {
			c.w.Header().Add(k, v)
		}
	}
	if err := httputil.WriteJSON(c.w, c.resp.Status, c.resp.Body); err != nil {
		// headers are gone; the failure can only be logged
		observability.FromContext(ctx).WithError(err).Warn("Failed to write response")
	}
	return false, nil
}

// fail writes the terminal error response. Internal errors expose only the request id.
func (p *Pipeline) fail(ctx context.Context, c *call, stage string, e *Error) {
	log := observability.FromContext(ctx).WithFields(map[string]interface{}{
		"stage":  stage,
		"kind":   e.Kind.String(),
		"status": e.Status(),
	})

	body := httputil.ErrorResponse{RequestID: c.req.ID}
	if e.Kind == KindInternal {
		log.WithError(e).Error("Request failed")
	} else {
		body.Error = e.Message
		body.Details = e.Details
		log.WithError(e).Debug("Request rejected")
	}

	httputil.SetRetryAfter(c.w, e.RetryAfter)
	httputil.WriteError(c.w, e.Status(), body)
}
