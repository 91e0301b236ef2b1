package database

import "errors"

var (
	// ErrInsufficientCapacity marks a whole-or-nothing reservation failure.
	ErrInsufficientCapacity = errors.New("insufficient capacity")

	// ErrInvalidTransition marks an illegal booking or transaction state change.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrConcurrentModification marks an optimistic version check failure.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrAlreadyProcessed marks a duplicate payment confirmation.
	ErrAlreadyProcessed = errors.New("already processed")

	// ErrRetryExhausted is surfaced after the local confirm retry also fails.
	ErrRetryExhausted = errors.New("retry exhausted")

	// ErrCapacityShortfall marks a shrink below current occupancy/reservations.
	ErrCapacityShortfall = errors.New("capacity shortfall")

	// ErrNotAuthorized marks a transition the actor's role may not perform.
	ErrNotAuthorized = errors.New("actor not authorized")

	// ErrRateLimited marks a caller exceeding its callback budget.
	ErrRateLimited = errors.New("rate limit exceeded")

	ErrNotFound      = errors.New("not found")
	ErrEmptyReason   = errors.New("reason is required")
	ErrInvalidWindow = errors.New("window end must be after start")
	ErrPastWindow    = errors.New("scheduled window is in the past")
	ErrWindowTooFar  = errors.New("scheduled window is too far ahead")
)
