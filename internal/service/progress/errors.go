package progress

import "errors"

// Sentinel errors for the progress service layer.
var (
	// ErrNotFound signals an absent challenge, subscriber, or progress row.
	ErrNotFound = errors.New("not found")
)
