package store

import "errors"

var (
	// ErrKeyNotFound is returned by Get for absent keys.
	ErrKeyNotFound = errors.New("key not found")
	// ErrStorageUnavailable signals the backing storage cannot be used; the
	// engine falls back to memory-only operation for the session.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
