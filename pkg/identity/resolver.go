package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jonboulle/clockwork"

	"github.com/invoicely/gatekeeper/pkg/observability"
)

// Resolver turns an inbound request into a verified Identity
type Resolver struct {
	store Store
	clock clockwork.Clock
}

// NewResolver creates a resolver. clock may be nil for the wall clock.
func NewResolver(store Store, clock clockwork.Clock) *Resolver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Resolver{store: store, clock: clock}
}

// Resolve returns the caller's identity.
// Errors are ErrNoSession, ErrIdentityNotFound, or a wrapped store failure.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) (*Identity, error) {
	token := TokenFromRequest(req)
	if token == "" {
		return nil, ErrNoSession
	}

	id, err := r.store.FindBySessionHash(ctx, HashToken(token), r.clock.Now())
	switch {
	case err == nil:
		return id, nil
	case errors.Is(err, ErrIdentityNotFound):
		observability.FromContext(ctx).
			WithField("event", "security.identity.orphaned_session").
			Warn("Session references a missing identity")
		return nil, err
	case errors.Is(err, ErrNoSession):
		return nil, err
	default:
		return nil, fmt.Errorf("resolve identity: %w", err)
	}
}
