package delivery

import (
	"context"

	"github.com/cipheracademy/dispatch/internal/domain"
)

// SubscriberRepository reads subscriber rows owned by the account subsystem.
// Implementations must be safe for concurrent use.
type SubscriberRepository interface {
	// ListActiveWithContact returns active subscribers that have at least
	// one contact handle.
	ListActiveWithContact(ctx context.Context) ([]domain.Subscriber, error)
}

// ContentRepository looks up published challenge items.
type ContentRepository interface {
	// GetItem returns the item for (week, day). Returns ErrNotFound for
	// periods with no authored content.
	GetItem(ctx context.Context, week int, day domain.DayOfWeek) (*domain.ContentItem, error)

	// ListWeek returns all items published for a week, in slot order.
	ListWeek(ctx context.Context, week int) ([]domain.ContentItem, error)
}

// SubmissionRepository answers prerequisite queries against the submission
// history.
type SubmissionRepository interface {
	// HasCorrectSubmission reports whether the subscriber has a correct
	// submission whose answer matches expected.
	HasCorrectSubmission(ctx context.Context, subscriberID, expected string) (bool, error)
}

// LedgerRepository is the idempotent delivery ledger. The composite key
// (subscriber, week, day) is unique; RecordDelivery upserts the timestamp
// and a concurrent insert on the same key counts as recorded.
type LedgerRepository interface {
	HasDelivery(ctx context.Context, subscriberID string, week int, day domain.DayOfWeek) (bool, error)
	RecordDelivery(ctx context.Context, rec domain.DeliveryRecord) error
}

// EmailSender is the mandatory delivery channel.
type EmailSender interface {
	Send(ctx context.Context, to string, msg domain.RenderedMessage) (*domain.SendResult, error)
}

// SMSSender is the best-effort supplementary channel.
type SMSSender interface {
	Send(ctx context.Context, to string, msg domain.RenderedMessage) (*domain.SendResult, error)
}
