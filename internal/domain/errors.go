package domain

import "errors"

// Error taxonomy surfaced across the session lifecycle and reward ledger.
// Handlers map these to HTTP status codes; everything else is an internal
// failure reported generically.
var (
	// ErrUnauthorized means the caller has no resolvable identity.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound means a template or session id does not resolve.
	ErrNotFound = errors.New("not found")

	// ErrForbidden means the session resolves but belongs to another user.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidDuration means a custom focus duration is outside the
	// allowed range.
	ErrInvalidDuration = errors.New("invalid duration")

	// ErrIllegalTransition means a status guard failed, including a
	// concurrent writer losing the first-terminal-write race.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrSessionLimit means the user already has the maximum number of
	// concurrently active sessions for their tier.
	ErrSessionLimit = errors.New("active session limit reached")
)
