// Package identity resolves the authenticated caller from a session token.
//
// Sessions are issued by the account service; this package only reads them.
// Tokens never touch storage in the clear: lookups go by SHA-256 hash.
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/invoicely/gatekeeper/pkg/contextkeys"
)

var (
	// ErrNoSession means the request carried no token, or the token matches no live session
	ErrNoSession = errors.New("no valid session")

	// ErrIdentityNotFound means the session is live but its user no longer exists
	ErrIdentityNotFound = errors.New("identity not found")
)

// Identity is the verified caller
type Identity struct {
	ID                string
	Email             string
	DisplayName       string
	ActiveWorkspaceID string
}

// Session is a stored session row
type Session struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
}

// Live reports whether the session is usable at now
func (s Session) Live(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// FromContext returns the identity stored by the pipeline, or nil
func FromContext(ctx context.Context) *Identity {
	if id, ok := ctx.Value(contextkeys.IdentityKey).(*Identity); ok {
		return id
	}
	return nil
}

// WithIdentity stores the identity in ctx
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return contextkeys.WithIdentity(ctx, id)
}
