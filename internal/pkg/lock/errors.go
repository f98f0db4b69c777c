package lock

import "errors"

// Lock-related errors.
var (
	// ErrLockTimeout is returned when a user's lock is not acquired within the timeout.
	ErrLockTimeout = errors.New("user lock acquisition timeout")
)
