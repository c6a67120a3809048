package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("concurrent modification")
	ErrInvalidEvent   = errors.New("invalid event")
	ErrUnknownEvent   = errors.New("no handler registered for event")
	ErrDuplicateEvent = errors.New("event already processed")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrLockHeld       = errors.New("lock already held")
)
