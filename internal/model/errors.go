package model

import "errors"

// Error taxonomy shared by every layer. Callers match with errors.Is.
var (
	// ErrValidation marks malformed or out-of-range input.
	ErrValidation = errors.New("validation error")
	// ErrConcurrency marks a per-user serialization point that could not be
	// acquired in time. Callers may retry with backoff.
	ErrConcurrency = errors.New("concurrency error")
	// ErrConflict marks a storage-level uniqueness violation.
	ErrConflict = errors.New("conflict")
	// ErrNotFound marks a referenced entity that does not exist.
	ErrNotFound = errors.New("not found")
)
