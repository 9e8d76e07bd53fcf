// Package workspace resolves the caller's workspace membership and enforces role permissions.
//
// A Context can only be obtained from Authorizer.Resolve, which requires a membership
// record. Membership is re-read on every request and never cached, so demotions and
// removals apply to the next call.
package workspace

import (
	"context"
	"errors"
	"fmt"

	"github.com/invoicely/gatekeeper/pkg/contextkeys"
	"github.com/invoicely/gatekeeper/pkg/identity"
)

var (
	ErrNoWorkspaceSelected = errors.New("no workspace selected")
	ErrWorkspaceConflict   = errors.New("conflicting workspace identifiers")
	ErrWorkspaceNotFound   = errors.New("workspace not found")
	ErrNotAMember          = errors.New("not a member of this workspace")
	ErrPermissionDenied    = errors.New("permission denied")
)

// PermissionError reports which permission a role lacked
type PermissionError struct {
	Permission Permission
	Role       Role
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("role %q lacks %s", e.Role, e.Permission)
}

// Is makes errors.Is(err, ErrPermissionDenied) true
func (e *PermissionError) Is(target error) bool {
	return target == ErrPermissionDenied
}

// Workspace is a tenant
type Workspace struct {
	ID      string
	Name    string
	OwnerID string
}

// Membership links a user to a workspace with a role
type Membership struct {
	ID   string
	Role Role
}

// Context is the authorized view of one request inside one workspace
type Context struct {
	identity   identity.Identity
	workspace  Workspace
	membership Membership
}

func newContext(id identity.Identity, ws Workspace, m Membership) *Context {
	return &Context{identity: id, workspace: ws, membership: m}
}

// Identity returns the caller
func (c *Context) Identity() identity.Identity { return c.identity }

// Workspace returns the resolved workspace
func (c *Context) Workspace() Workspace { return c.workspace }

// Membership returns the caller's membership in the workspace
func (c *Context) Membership() Membership { return c.membership }

// Role is shorthand for Membership().Role
func (c *Context) Role() Role { return c.membership.Role }

// IsOwner is derived from the workspace owner, not stored
func (c *Context) IsOwner() bool {
	return c.workspace.OwnerID != "" && c.workspace.OwnerID == c.identity.ID
}

// FromContext returns the workspace context stored by the pipeline, or nil
func FromContext(ctx context.Context) *Context {
	if wc, ok := ctx.Value(contextkeys.WorkspaceKey).(*Context); ok {
		return wc
	}
	return nil
}

// WithContext stores wc in ctx
func WithContext(ctx context.Context, wc *Context) context.Context {
	return contextkeys.WithWorkspace(ctx, wc)
}
