package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// State transitions
	ErrIllegalStateTransition = errors.New("illegal state transition")

	// Lookups
	ErrTaskNotFound        = errors.New("task not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrGoalNotFound        = errors.New("goal not found")
	ErrCelebrationNotFound = errors.New("celebration not found")

	// Catalog invariants: a slug stored in data but missing from the catalog.
	ErrUnknownBadge     = errors.New("badge slug not in catalog")
	ErrUnknownChallenge = errors.New("challenge slug not in catalog")

	// Input
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidTimezone = errors.New("invalid timezone")
)

// IsNotFound reports whether err is any of the lookup errors.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTaskNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrGoalNotFound) ||
		errors.Is(err, ErrCelebrationNotFound)
}
