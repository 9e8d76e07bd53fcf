package guard

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/invoicely/gatekeeper/pkg/cronauth"
	"github.com/invoicely/gatekeeper/pkg/identity"
	"github.com/invoicely/gatekeeper/pkg/validation"
	"github.com/invoicely/gatekeeper/pkg/workspace"
)

func TestKindStatus(t *testing.T) {
	tests := []struct {
		kind   Kind
		status int
	}{
		{KindInternal, http.StatusInternalServerError},
		{KindRateLimitExceeded, http.StatusTooManyRequests},
		{KindCooldownActive, http.StatusTooManyRequests},
		{KindUnauthenticated, http.StatusUnauthorized},
		{KindWorkspaceResolutionFailed, http.StatusBadRequest},
		{KindWorkspaceNotFound, http.StatusNotFound},
		{KindNotAMember, http.StatusForbidden},
		{KindPermissionDenied, http.StatusForbidden},
		{KindValidationFailed, http.StatusBadRequest},
		{KindCronUnauthorized, http.StatusUnauthorized},
		{Kind(99), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.status, tt.kind.Status())
		})
	}
}

func TestClassify(t *testing.T) {
	verr := &validation.Error{Violations: []validation.FieldViolation{{Field: "recipient", Rule: "email"}}}

	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{"no session", identity.ErrNoSession, KindUnauthenticated},
		{"orphaned session", fmt.Errorf("lookup: %w", identity.ErrIdentityNotFound), KindUnauthenticated},
		{"no workspace", workspace.ErrNoWorkspaceSelected, KindWorkspaceResolutionFailed},
		{"conflicting workspace", workspace.ErrWorkspaceConflict, KindWorkspaceResolutionFailed},
		{"unknown workspace", workspace.ErrWorkspaceNotFound, KindWorkspaceNotFound},
		{"not a member", workspace.ErrNotAMember, KindNotAMember},
		{"permission", &workspace.PermissionError{Permission: workspace.PermManageMembers, Role: workspace.RoleMember}, KindPermissionDenied},
		{"validation", verr, KindValidationFailed},
		{"cron missing", cronauth.ErrMissingSecret, KindCronUnauthorized},
		{"cron mismatch", cronauth.ErrSecretMismatch, KindCronUnauthorized},
		{"cron misconfigured", cronauth.ErrMisconfigured, KindInternal},
		{"store failure", errors.New("connection refused"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.Equal(t, tt.kind, got.Kind)
			assert.ErrorIs(t, got, tt.err)
			assert.NotEmpty(t, got.Message)
		})
	}
}

func TestClassify_Passthrough(t *testing.T) {
	assert.Nil(t, Classify(nil))

	own := NewError(KindPermissionDenied, "Only owners may do this")
	assert.Same(t, own, Classify(fmt.Errorf("handler: %w", own)))
}

func TestClassify_ValidationDetails(t *testing.T) {
	violations := []validation.FieldViolation{{Field: "recipient", Rule: "email", Message: "must be a valid email address"}}
	got := Classify(&validation.Error{Violations: violations})
	assert.Equal(t, violations, got.Details)
}

func TestClassify_InternalHidesCause(t *testing.T) {
	got := Classify(errors.New("pq: password authentication failed for user admin"))
	assert.Equal(t, "Internal server error", got.Message)
	assert.Nil(t, got.Details)
}
