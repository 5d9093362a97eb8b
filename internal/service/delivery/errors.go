package delivery

import "errors"

// Sentinel errors for the delivery service layer.
var (
	// ErrNotFound signals an absent content item or ledger row. Recoverable:
	// the orchestrator skips the subscriber without marking failure.
	ErrNotFound = errors.New("content item not found")

	// ErrInvalidDay rejects days outside the Sunday/Wednesday/Friday calendar.
	ErrInvalidDay = errors.New("not a delivery day")
)
