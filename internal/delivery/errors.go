package delivery

import "errors"

// Sentinel errors for the delivery package.
var (
	// ErrNotFound is returned when a delivery record does not exist.
	ErrNotFound = errors.New("delivery not found")

	// ErrInvalidState is returned when a transition violates the delivery
	// state machine, or when a delivery is requested for a job that is not
	// completed.
	ErrInvalidState = errors.New("invalid delivery state")

	// ErrTransport is returned when the outbound mail transport fails after
	// the message was handed off.
	ErrTransport = errors.New("delivery transport failed")
)
