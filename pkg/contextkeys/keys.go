// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/invoicely/gatekeeper/pkg/contextkeys"
//	ctx = contextkeys.WithRequestID(ctx, requestID)
//	requestID := contextkeys.GetRequestID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains the correlation id string
	// Set by: guard.Pipeline before any stage runs
	// Used by: Logger, audit entries, error responses
	// Type: string
	RequestIDKey Key = "request_id"

	// IdentityKey contains *identity.Identity
	// Set by: guard.Pipeline after the identity stage
	// Required by: workspace-scoped handlers
	// Type: *identity.Identity
	IdentityKey Key = "identity"

	// WorkspaceKey contains *workspace.Context
	// Set by: guard.Pipeline after authorization
	// Required by: workspace-scoped handlers
	// Type: *workspace.Context
	WorkspaceKey Key = "workspace"

	// LoggerKey contains *observability.Logger
	// Set by: guard.Pipeline
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"

	// ClientIPKey contains the resolved client IP string
	// Set by: guard.Pipeline
	// Used by: rate limiting, audit entries
	// Type: string
	ClientIPKey Key = "client_ip"
)

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithIdentity adds the caller identity to the context
func WithIdentity(ctx context.Context, ident interface{}) context.Context {
	return context.WithValue(ctx, IdentityKey, ident)
}

// WithWorkspace adds the resolved workspace context to the context
func WithWorkspace(ctx context.Context, ws interface{}) context.Context {
	return context.WithValue(ctx, WorkspaceKey, ws)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithClientIP adds the client IP to the context
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ClientIPKey, ip)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetClientIP retrieves the client IP from context
func GetClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ClientIPKey).(string); ok {
		return ip
	}
	return ""
}
