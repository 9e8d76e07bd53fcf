package ratelimit

import "errors"

var (
	// ErrUnknownProfile is returned when a check names a profile absent from the registry
	ErrUnknownProfile = errors.New("unknown rate limit profile")

	// ErrUnknownCooldown is returned when a cooldown type has no configured duration
	ErrUnknownCooldown = errors.New("unknown cooldown type")

	// ErrInvalidScope is returned when a scope has neither kind nor id
	ErrInvalidScope = errors.New("invalid rate limit scope")
)
