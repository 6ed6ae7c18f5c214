package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrDuplicate indicates a live session already occupies the slot the
	// insert targeted.
	ErrDuplicate = errors.New("repository: duplicate live session")
	// ErrStaleState indicates a guarded write lost a concurrent race and the
	// caller's view of the row is outdated.
	ErrStaleState = errors.New("repository: stale state")
)
