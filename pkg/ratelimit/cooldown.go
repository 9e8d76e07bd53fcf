package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/invoicely/gatekeeper/pkg/observability"
)

// Built-in cooldown types
const (
	CooldownInvoiceSend       = "invoiceSend"
	CooldownVerificationEmail = "verificationEmail"
	CooldownReminderEmail     = "reminderEmail"
	CooldownMemberInvite      = "memberInvite"
)

// Cooldowns maps a cooldown type to its duration
type Cooldowns map[string]time.Duration

// DefaultCooldowns returns the production cooldown table
func DefaultCooldowns() Cooldowns {
	return Cooldowns{
		CooldownInvoiceSend:       5 * time.Minute,
		CooldownVerificationEmail: time.Minute,
		CooldownReminderEmail:     24 * time.Hour,
		CooldownMemberInvite:      10 * time.Minute,
	}
}

// CooldownResult is the outcome of a cooldown check
type CooldownResult struct {
	Allowed    bool
	RetryAfter time.Duration
	ResetAt    time.Time
}

// CooldownGuard is a single-shot timer per resource, built on the limiter's store
type CooldownGuard struct {
	store     CounterStore
	cooldowns Cooldowns
	clock     clockwork.Clock
	metrics   *observability.Metrics
}

// NewCooldownGuard creates a guard. Durations must be positive.
func NewCooldownGuard(store CounterStore, cooldowns Cooldowns, opts ...Option) (*CooldownGuard, error) {
	for name, d := range cooldowns {
		if d <= 0 {
			return nil, fmt.Errorf("cooldown %q: duration must be > 0, got %s", name, d)
		}
	}
	o := buildOptions(opts)
	return &CooldownGuard{
		store:     store,
		cooldowns: cooldowns,
		clock:     o.clock,
		metrics:   o.metrics,
	}, nil
}

// Has reports whether cooldownType is configured
func (g *CooldownGuard) Has(cooldownType string) bool {
	_, ok := g.cooldowns[cooldownType]
	return ok
}

// CooldownKey builds the store key for a cooldown entry
func CooldownKey(cooldownType, resourceID string) string {
	return "cooldown:" + cooldownType + ":" + resourceID
}

// Check allows and re-arms the cooldown when none is active, otherwise reports the time left.
// The check and the stamp are a single atomic store operation.
//
// A cooldown stays active through its reset instant: a check at exactly
// ResetAt is still denied and the first check after it is allowed, matching
// the rate limiter window boundary.
func (g *CooldownGuard) Check(ctx context.Context, resourceID, cooldownType string) (CooldownResult, error) {
	d, ok := g.cooldowns[cooldownType]
	if !ok {
		return CooldownResult{}, fmt.Errorf("%w: %q", ErrUnknownCooldown, cooldownType)
	}
	if resourceID == "" {
		return CooldownResult{}, fmt.Errorf("cooldown %s: resource id is required", cooldownType)
	}

	now := g.clock.Now()
	c, allowed, err := g.store.Take(ctx, CooldownKey(cooldownType, resourceID), 1, d, now)
	if err != nil {
		return CooldownResult{}, fmt.Errorf("cooldown check %s: %w", cooldownType, err)
	}

	res := CooldownResult{Allowed: allowed, ResetAt: c.ResetAt}
	if !allowed {
		res.RetryAfter = retryAfter(c.ResetAt, now)
	}

	if g.metrics != nil {
		decision := "allowed"
		if !allowed {
			decision = "denied"
		}
		g.metrics.CooldownDecisionsTotal.WithLabelValues(cooldownType, decision).Inc()
	}

	return res, nil
}
