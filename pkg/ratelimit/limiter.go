package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/invoicely/gatekeeper/pkg/observability"
)

// ScopeKind identifies what a counter is keyed on
type ScopeKind string

const (
	ScopeIP        ScopeKind = "ip"
	ScopeUser      ScopeKind = "user"
	ScopeWorkspace ScopeKind = "workspace"
)

// Scope is the subject of a rate-limit check
type Scope struct {
	Kind ScopeKind
	ID   string
}

// IPScope scopes a check to a client address
func IPScope(ip string) Scope { return Scope{Kind: ScopeIP, ID: ip} }

// UserScope scopes a check to an authenticated user
func UserScope(userID string) Scope { return Scope{Kind: ScopeUser, ID: userID} }

// WorkspaceScope scopes a check to a workspace
func WorkspaceScope(workspaceID string) Scope { return Scope{Kind: ScopeWorkspace, ID: workspaceID} }

// Key builds the counter key profile:kind:id
func Key(profile string, scope Scope) string {
	return profile + ":" + string(scope.Kind) + ":" + scope.ID
}

// Result is the outcome of a check. A denial is a normal Result, not an error.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	Profile    string
	Scope      Scope
}

// Message renders the caller-facing retry hint for a denied result
func (r Result) Message() string {
	minutes := int(math.Ceil(r.RetryAfter.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	unit := "minutes"
	if minutes == 1 {
		unit = "minute"
	}
	return fmt.Sprintf("Too many requests. Try again in %d %s.", minutes, unit)
}

// Limiter is fixed-window admission control over a CounterStore
type Limiter struct {
	store    CounterStore
	registry *Registry
	clock    clockwork.Clock
	metrics  *observability.Metrics
}

// Option configures a Limiter or CooldownGuard
type Option func(*options)

type options struct {
	clock   clockwork.Clock
	metrics *observability.Metrics
}

// WithClock overrides the wall clock
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithMetrics records decisions in Prometheus
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewLimiter creates a limiter
func NewLimiter(store CounterStore, registry *Registry, opts ...Option) *Limiter {
	o := buildOptions(opts)
	return &Limiter{
		store:    store,
		registry: registry,
		clock:    o.clock,
		metrics:  o.metrics,
	}
}

// Registry returns the profile registry the limiter checks against
func (l *Limiter) Registry() *Registry {
	return l.registry
}

// Check consumes one unit of profile's budget for scope
func (l *Limiter) Check(ctx context.Context, profile string, scope Scope) (Result, error) {
	p, err := l.registry.Get(profile)
	if err != nil {
		return Result{}, err
	}
	if scope.Kind == "" || scope.ID == "" {
		return Result{}, fmt.Errorf("%w: %q/%q", ErrInvalidScope, scope.Kind, scope.ID)
	}

	now := l.clock.Now()
	c, allowed, err := l.store.Take(ctx, Key(p.Name, scope), p.Limit, p.Window, now)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit check %s: %w", p.Name, err)
	}

	res := Result{
		Allowed:   allowed,
		Limit:     p.Limit,
		Remaining: p.Limit - c.Count,
		ResetAt:   c.ResetAt,
		Profile:   p.Name,
		Scope:     scope,
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !allowed {
		res.Remaining = 0
		res.RetryAfter = retryAfter(c.ResetAt, now)
	}

	if l.metrics != nil {
		decision := "allowed"
		if !allowed {
			decision = "denied"
		}
		l.metrics.RateLimitDecisionsTotal.WithLabelValues(p.Name, string(scope.Kind), decision).Inc()
	}

	return res, nil
}

// CheckLayered runs the coarse IP check on the general profile, then the named
// profile on scope. An empty scope id falls back to the IP. When both pass, the
// finer result is returned and the general numbers are discarded.
func (l *Limiter) CheckLayered(ctx context.Context, profile, ip string, scope Scope) (Result, error) {
	return l.CheckLayeredFunc(ctx, profile, ip, func(context.Context) Scope { return scope })
}

// CheckLayeredFunc is CheckLayered with the scope resolved lazily. resolve is
// only called once the general IP check has passed.
func (l *Limiter) CheckLayeredFunc(ctx context.Context, profile, ip string, resolve func(context.Context) Scope) (Result, error) {
	general, err := l.Check(ctx, ProfileGeneral, IPScope(ip))
	if err != nil {
		return Result{}, err
	}
	if !general.Allowed {
		return general, nil
	}

	scope := resolve(ctx)
	if scope.ID == "" {
		scope = IPScope(ip)
	}
	if profile == ProfileGeneral && scope == IPScope(ip) {
		return general, nil
	}
	return l.Check(ctx, profile, scope)
}

// retryAfter is the time left in the window, never less than a millisecond for a denial
func retryAfter(resetAt, now time.Time) time.Duration {
	d := resetAt.Sub(now)
	if d < time.Millisecond {
		return time.Millisecond
	}
	return d
}
