package jobs

import "errors"

// Sentinel errors for the jobs package.
var (
	// ErrNotFound is returned when a job does not exist in the store.
	ErrNotFound = errors.New("job not found")

	// ErrInvalidState is returned when a requested transition violates the
	// job state machine.
	ErrInvalidState = errors.New("invalid job state")
)
