package core

import "errors"

// Sentinel errors shared across storage backends and the manager.
var (
	// ErrNotFound is returned when a memory ID does not exist in the
	// caller's namespace.
	ErrNotFound = errors.New("memory not found")

	// ErrEmptyContent is returned when an add or update carries no text.
	ErrEmptyContent = errors.New("memory content is empty")

	// ErrMissingUser is returned when an operation omits the user ID.
	ErrMissingUser = errors.New("user id is required")
)
