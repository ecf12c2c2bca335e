package types

import "errors"

var (
	// ErrNotFound signals a missing row. For subscriptions and usage this is a
	// valid domain state (free tier, no usage yet), not an infrastructure error.
	ErrNotFound = errors.New("requested item not found")

	// ErrConflict signals a unique-constraint violation, e.g. a second
	// subscription row for the same user.
	ErrConflict = errors.New("resource already exists")

	// ErrUnauthorized signals a missing or invalid identity on the request.
	ErrUnauthorized = errors.New("authentication required")
)
