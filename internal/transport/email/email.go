// Package email contains the outbound email channel adapters.
//
// Adapters are split into individual files:
//   - sendgrid.go: SendGrid v3 Mail Send (primary)
//   - ses.go:      AWS SES v2 (alternate, config-selected)
//
// Every adapter returns ordinary provider-side errors (bounced address,
// throttling, bad request) inside the SendResult with a failure class,
// reserving Go errors for misconfiguration and programmer mistakes.
package email

import (
	"context"

	"github.com/cipheracademy/dispatch/internal/domain"
)

// Sender is the contract every email adapter satisfies.
type Sender interface {
	Send(ctx context.Context, to string, msg domain.RenderedMessage) (*domain.SendResult, error)
}

// classifyStatus maps an HTTP status from a provider API to a failure class.
// Throttling and server-side trouble are worth retrying on a later period;
// everything else in the 4xx range means the request itself is bad.
func classifyStatus(code int) domain.FailureClass {
	if code == 429 || code >= 500 {
		return domain.FailureTransient
	}
	return domain.FailurePermanent
}
