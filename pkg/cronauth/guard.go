// Package cronauth authenticates scheduler-triggered endpoints with a shared secret.
//
// It is a separate trust boundary from user sessions: a trusted scheduler is admitted,
// not a person, so rate limiting, membership lookup and per-user attribution do not apply.
// A guard without a configured secret rejects every call.
package cronauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/invoicely/gatekeeper/pkg/contextkeys"
	"github.com/invoicely/gatekeeper/pkg/httputil"
	"github.com/invoicely/gatekeeper/pkg/observability"
)

// HeaderCronSecret carries the shared secret. Authorization: Bearer is accepted as a fallback.
const HeaderCronSecret = "X-Cron-Secret"

var (
	ErrMisconfigured  = errors.New("cron secret is not configured")
	ErrMissingSecret  = errors.New("cron secret missing from request")
	ErrSecretMismatch = errors.New("cron secret mismatch")
)

// Guard checks the scheduler's shared secret
type Guard struct {
	digest     [sha256.Size]byte
	configured bool
	logger     *observability.Logger
}

// NewGuard creates a guard for secret. Surrounding whitespace is ignored on
// both the configured and the presented secret. An empty or blank secret
// yields a guard that fails closed.
func NewGuard(secret string, logger *observability.Logger) *Guard {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	g := &Guard{logger: logger.WithField("component", "cronauth")}
	if secret = strings.TrimSpace(secret); secret != "" {
		g.digest = sha256.Sum256([]byte(secret))
		g.configured = true
	}
	return g
}

// Configured reports whether a secret is set
func (g *Guard) Configured() bool {
	return g.configured
}

func presentedSecret(r *http.Request) string {
	if s := strings.TrimSpace(r.Header.Get(HeaderCronSecret)); s != "" {
		return s
	}
	return httputil.BearerToken(r)
}

// Authorize admits r only when it presents exactly the configured secret.
// Every rejection is logged as a security event.
func (g *Guard) Authorize(r *http.Request) error {
	log := g.logger.WithFields(map[string]interface{}{
		"request_id": contextkeys.GetRequestID(r.Context()),
		"client_ip":  contextkeys.GetClientIP(r.Context()),
		"path":       r.URL.Path,
	})

	if !g.configured {
		log.WithField("event", "security.cron.misconfigured").
			Error("Cron endpoint called but no cron secret is configured")
		return ErrMisconfigured
	}

	presented := presentedSecret(r)
	if presented == "" {
		log.WithFields(map[string]interface{}{
			"event":  "security.cron.unauthorized",
			"reason": "missing",
		}).Warn("Cron request without secret")
		return ErrMissingSecret
	}

	// Comparing digests keeps the comparison constant time regardless of length.
	digest := sha256.Sum256([]byte(presented))
	if subtle.ConstantTimeCompare(digest[:], g.digest[:]) != 1 {
		log.WithFields(map[string]interface{}{
			"event":  "security.cron.unauthorized",
			"reason": "mismatch",
		}).Warn("Cron request with wrong secret")
		return ErrSecretMismatch
	}

	return nil
}
