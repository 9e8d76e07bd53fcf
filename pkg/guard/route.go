package guard

import (
	"context"
	"net/http"

	"github.com/invoicely/gatekeeper/pkg/audit"
	"github.com/invoicely/gatekeeper/pkg/identity"
	"github.com/invoicely/gatekeeper/pkg/ratelimit"
	"github.com/invoicely/gatekeeper/pkg/validation"
	"github.com/invoicely/gatekeeper/pkg/workspace"
)

// Route declares what the pipeline enforces before a handler runs
type Route struct {
	// Name labels logs, spans and metrics. Use a stable, low-cardinality name.
	Name string

	// Profile is the rate-limit profile. Empty means the general profile.
	Profile string

	// Scope keys the profile check. Secure routes default to the user, public routes to the IP.
	Scope ratelimit.ScopeKind

	// Permission is required on secure routes. Empty requires membership only.
	Permission workspace.Permission

	// Body decodes and validates the JSON body when set
	Body BodyFactory

	// Query validates the query string when set
	Query validation.QuerySchema

	// Cooldown throttles repeats of the action on one resource when set
	Cooldown *Cooldown

	// Audit builds the entries recorded after the handler succeeds
	Audit AuditFunc
}

// BodyFactory returns a fresh pointer to decode a request body into
type BodyFactory func() interface{}

// Bind returns a BodyFactory for T
func Bind[T any]() BodyFactory {
	return func() interface{} { return new(T) }
}

// BodyOf returns the decoded body as *T, or nil when the route declared a different type
func BodyOf[T any](req *Request) *T {
	b, _ := req.Body.(*T)
	return b
}

// Cooldown names a cooldown type and how to find the throttled resource
type Cooldown struct {
	Type     string
	Resource func(req *Request) string
}

// AuditFunc builds audit entries for a successful request. Empty identity and
// workspace fields are filled from the request.
type AuditFunc func(req *Request, resp *Response) []audit.Entry

// Handler runs the business logic once every guard has passed
type Handler func(ctx context.Context, req *Request) (*Response, error)

// Request is the guarded view of an inbound request
type Request struct {
	HTTP      *http.Request
	ID        string
	ClientIP  string
	Vars      map[string]string
	Identity  *identity.Identity
	Workspace *workspace.Context
	Body      interface{}
	Query     validation.Query
}

// Response is what a handler returns. A nil Response is written as 204.
type Response struct {
	Status int
	Body   interface{}
	Header http.Header
}

// JSON is a convenience for a JSON body with status
func JSON(status int, body interface{}) *Response {
	return &Response{Status: status, Body: body}
}

type variant int

const (
	variantSecure variant = iota
	variantPublic
	variantCron
)

func (v variant) String() string {
	switch v {
	case variantSecure:
		return "secure"
	case variantPublic:
		return "public"
	case variantCron:
		return "cron"
	default:
		return "unknown"
	}
}
