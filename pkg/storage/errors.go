package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrNotFound is returned when a tenant or membership does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a tenant with the given ID already exists.
	ErrConflict = errors.New("already exists")

	// ErrUnavailable marks transient failures (connection loss, timeouts)
	// that callers may retry. Store implementations wrap the underlying
	// driver error so errors.Is(err, ErrUnavailable) holds.
	ErrUnavailable = errors.New("store unavailable")
)
