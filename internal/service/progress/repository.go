package progress

import (
	"context"

	"github.com/cipheracademy/dispatch/internal/domain"
)

// ContentReader resolves published challenge items for grading and listing.
type ContentReader interface {
	// GetItem returns the item for (week, day). Returns ErrNotFound for
	// periods with no authored content.
	GetItem(ctx context.Context, week int, day domain.DayOfWeek) (*domain.ContentItem, error)

	// ListWeek returns all items published for a week, in slot order.
	ListWeek(ctx context.Context, week int) ([]domain.ContentItem, error)
}

// SubmissionStore persists graded attempts.
type SubmissionStore interface {
	Create(ctx context.Context, sub *domain.Submission) error
}

// Store persists progress records, one per subscriber.
type Store interface {
	// GetProgress returns the subscriber's record. Returns ErrNotFound for
	// subscribers who have never submitted.
	GetProgress(ctx context.Context, subscriberID string) (*domain.ProgressRecord, error)

	// Upsert writes the record, inserting on first submission.
	Upsert(ctx context.Context, rec *domain.ProgressRecord) error
}
