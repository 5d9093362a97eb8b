package welcome

import "errors"

// Sentinel errors for the welcome service layer.
var (
	// ErrNotFound signals an absent welcome email row or template.
	ErrNotFound = errors.New("welcome email not found")

	// ErrMissingVariable signals a template whose required variables are
	// not all present in the personalization bindings. The affected email
	// is marked failed; the drain continues.
	ErrMissingVariable = errors.New("missing template variable")
)
