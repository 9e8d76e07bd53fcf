package guard

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/invoicely/gatekeeper/pkg/cronauth"
	"github.com/invoicely/gatekeeper/pkg/identity"
	"github.com/invoicely/gatekeeper/pkg/validation"
	"github.com/invoicely/gatekeeper/pkg/workspace"
)

// Kind is the closed set of terminal pipeline failures
type Kind int

const (
	KindInternal Kind = iota
	KindRateLimitExceeded
	KindCooldownActive
	KindUnauthenticated
	KindWorkspaceResolutionFailed
	KindWorkspaceNotFound
	KindNotAMember
	KindPermissionDenied
	KindValidationFailed
	KindCronUnauthorized
)

// Status maps a Kind to its HTTP status code
func (k Kind) Status() int {
	switch k {
	case KindRateLimitExceeded, KindCooldownActive:
		return http.StatusTooManyRequests
	case KindUnauthenticated, KindCronUnauthorized:
		return http.StatusUnauthorized
	case KindWorkspaceResolutionFailed, KindValidationFailed:
		return http.StatusBadRequest
	case KindWorkspaceNotFound:
		return http.StatusNotFound
	case KindNotAMember, KindPermissionDenied:
		return http.StatusForbidden
	case KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func (k Kind) String() string {
	switch k {
	case KindRateLimitExceeded:
		return "rate_limit_exceeded"
	case KindCooldownActive:
		return "cooldown_active"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindWorkspaceResolutionFailed:
		return "workspace_resolution_failed"
	case KindWorkspaceNotFound:
		return "workspace_not_found"
	case KindNotAMember:
		return "not_a_member"
	case KindPermissionDenied:
		return "permission_denied"
	case KindValidationFailed:
		return "validation_failed"
	case KindCronUnauthorized:
		return "cron_unauthorized"
	case KindInternal:
		return "internal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the only error type that crosses the pipeline boundary.
// Message and Details are caller-facing; Err is logged and never sent.
type Error struct {
	Kind       Kind
	Message    string
	Details    interface{}
	RetryAfter time.Duration
	Err        error
}

// NewError creates an Error. Handlers return it to choose their own status.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Status is shorthand for Kind.Status()
func (e *Error) Status() int { return e.Kind.Status() }

const (
	msgInternal        = "Internal server error"
	msgUnauthenticated = "Authentication required"
	msgForbidden       = "You do not have access to this resource"
	msgValidation      = "Validation failed"
	msgCron            = "Unauthorized"
)

// Classify translates any stage or handler error into an *Error.
// Errors it does not recognize become KindInternal with the cause kept in Err.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}

	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		return &Error{Kind: KindValidationFailed, Message: msgValidation, Details: verr.Violations, Err: err}

	case errors.Is(err, identity.ErrNoSession), errors.Is(err, identity.ErrIdentityNotFound):
		return &Error{Kind: KindUnauthenticated, Message: msgUnauthenticated, Err: err}

	case errors.Is(err, workspace.ErrNoWorkspaceSelected):
		return &Error{Kind: KindWorkspaceResolutionFailed, Message: "No workspace selected", Err: err}
	case errors.Is(err, workspace.ErrWorkspaceConflict):
		return &Error{Kind: KindWorkspaceResolutionFailed, Message: "Conflicting workspace identifiers", Err: err}
	case errors.Is(err, workspace.ErrWorkspaceNotFound):
		return &Error{Kind: KindWorkspaceNotFound, Message: "Workspace not found", Err: err}
	case errors.Is(err, workspace.ErrNotAMember):
		return &Error{Kind: KindNotAMember, Message: msgForbidden, Err: err}
	case errors.Is(err, workspace.ErrPermissionDenied):
		return &Error{Kind: KindPermissionDenied, Message: msgForbidden, Err: err}

	case errors.Is(err, cronauth.ErrMissingSecret), errors.Is(err, cronauth.ErrSecretMismatch):
		return &Error{Kind: KindCronUnauthorized, Message: msgCron, Err: err}

	default:
		return &Error{Kind: KindInternal, Message: msgInternal, Err: err}
	}
}
