package workspace

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/invoicely/gatekeeper/pkg/identity"
)

const (
	// HeaderWorkspaceID names the workspace explicitly
	HeaderWorkspaceID = "X-Workspace-ID"
	// PathVarWorkspaceID is the mux route variable for workspace-scoped paths
	PathVarWorkspaceID = "workspace_id"
)

// RequestedWorkspaceID reads the workspace the request addresses.
// The path variable and header must agree when both are present.
// It returns "" when neither is set.
func RequestedWorkspaceID(r *http.Request) (string, error) {
	fromPath := mux.Vars(r)[PathVarWorkspaceID]
	fromHeader := strings.TrimSpace(r.Header.Get(HeaderWorkspaceID))

	switch {
	case fromPath != "" && fromHeader != "" && fromPath != fromHeader:
		return "", ErrWorkspaceConflict
	case fromPath != "":
		return fromPath, nil
	default:
		return fromHeader, nil
	}
}

// Authorizer resolves workspace contexts and checks permissions
type Authorizer struct {
	store Store
}

// NewAuthorizer creates an authorizer
func NewAuthorizer(store Store) *Authorizer {
	return &Authorizer{store: store}
}

// Resolve builds the caller's Context for requestedID, falling back to the identity's
// active workspace. The store is consulted on every call.
func (a *Authorizer) Resolve(ctx context.Context, id *identity.Identity, requestedID string) (*Context, error) {
	if id == nil {
		return nil, fmt.Errorf("resolve workspace: %w", identity.ErrNoSession)
	}

	workspaceID := requestedID
	if workspaceID == "" {
		workspaceID = id.ActiveWorkspaceID
	}
	if workspaceID == "" {
		return nil, ErrNoWorkspaceSelected
	}

	ws, membership, err := a.store.FindWithMembership(ctx, workspaceID, id.ID)
	if err != nil {
		if errors.Is(err, ErrWorkspaceNotFound) {
			return nil, ErrWorkspaceNotFound
		}
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	if membership == nil {
		return nil, ErrNotAMember
	}

	return newContext(*id, ws, *membership), nil
}

// Authorize checks that the context's role holds p. An undefined permission denies.
func (a *Authorizer) Authorize(wc *Context, p Permission) error {
	if wc == nil {
		return ErrNotAMember
	}
	if !RoleAllows(wc.Role(), p) {
		return &PermissionError{Permission: p, Role: wc.Role()}
	}
	return nil
}
