package welcome

import (
	"context"
	"time"

	"github.com/cipheracademy/dispatch/internal/domain"
)

// EmailRepository persists the onboarding queue. Rows are unique per
// (subscriber, sequence); implementations must be safe for concurrent use.
type EmailRepository interface {
	// ListDue returns scheduled rows whose scheduled_at is at or before
	// now, oldest first, capped at limit.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.WelcomeEmail, error)

	// Get returns the row for (subscriber, sequence). Returns ErrNotFound
	// when absent.
	Get(ctx context.Context, subscriberID string, sequence int) (*domain.WelcomeEmail, error)

	// GetByProviderMessageID resolves a provider webhook event back to its
	// row. Returns ErrNotFound for message ids this system never sent.
	GetByProviderMessageID(ctx context.Context, messageID string) (*domain.WelcomeEmail, error)

	// Schedule inserts the series rows for one subscriber, skipping any
	// (subscriber, sequence) pair that already exists. Returns the number
	// actually inserted.
	Schedule(ctx context.Context, emails []domain.WelcomeEmail) (int, error)

	// MarkSent moves a row to sent, recording the provider message id.
	MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) error

	// MarkFailed moves a row to failed with the reason.
	MarkFailed(ctx context.Context, id, reason string) error

	// ApplyEvent advances a row to status at the given time. The update is
	// conditional on the stored status ranking below the new one, so a
	// concurrent writer cannot regress the row.
	ApplyEvent(ctx context.Context, id string, status domain.WelcomeStatus, at time.Time) error

	// ResetToScheduled returns a row to the scheduled state, clearing
	// sent_at and error_message. Returns ErrNotFound when absent.
	ResetToScheduled(ctx context.Context, id string, at time.Time) error

	// ListBySubscriber returns a subscriber's series rows in sequence order.
	ListBySubscriber(ctx context.Context, subscriberID string) ([]domain.WelcomeEmail, error)

	// CountByStatus returns per-status counts, scoped to one subscriber
	// when subscriberID is non-empty.
	CountByStatus(ctx context.Context, subscriberID string) (map[domain.WelcomeStatus]int, error)
}

// TemplateRepository reads the onboarding series definitions.
type TemplateRepository interface {
	// GetActive returns the active template at a sequence position.
	// Returns ErrNotFound when the position has no active template.
	GetActive(ctx context.Context, sequence int) (*domain.WelcomeTemplate, error)

	// ListActive returns all active templates in sequence order.
	ListActive(ctx context.Context) ([]domain.WelcomeTemplate, error)
}

// SubscriberReader resolves subscriber rows for personalization.
type SubscriberReader interface {
	Get(ctx context.Context, id string) (*domain.Subscriber, error)
}

// ProgressReader resolves progress rows for personalization. A missing row
// is normal for fresh signups; implementations return ErrNotFound.
type ProgressReader interface {
	GetProgress(ctx context.Context, subscriberID string) (*domain.ProgressRecord, error)
}

// Sender dispatches one rendered email.
type Sender interface {
	Send(ctx context.Context, to string, msg domain.RenderedMessage) (*domain.SendResult, error)
}
