package delivery

import (
	"context"
	"errors"
	"log"

	"github.com/cipheracademy/dispatch/internal/domain"
)

// Evaluator decides whether a subscriber may receive a period's content.
// It has no side effects and never propagates errors to the caller: a
// missing item or a failed lookup makes the subscriber ineligible for this
// run, it must not halt the whole batch.
type Evaluator struct {
	content     ContentRepository
	submissions SubmissionRepository
}

// NewEvaluator creates an eligibility evaluator.
func NewEvaluator(content ContentRepository, submissions SubmissionRepository) *Evaluator {
	return &Evaluator{content: content, submissions: submissions}
}

// IsEligible reports whether the subscriber may receive (week, day).
// Standalone items are always eligible; gated items require a correct
// submission matching the prerequisite's expected answer.
func (e *Evaluator) IsEligible(ctx context.Context, subscriberID string, week int, day domain.DayOfWeek) bool {
	item, err := e.content.GetItem(ctx, week, day)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Printf("[Eligibility] Lookup failed for week %d %s: %v", week, day, err)
		}
		return false
	}

	if !item.RequiresPrevious {
		return true
	}
	if item.PreviousAnswer == "" {
		// Gated item with no recorded prerequisite answer is an authoring
		// mistake; deliver rather than strand every subscriber.
		log.Printf("[Eligibility] Week %d %s requires previous but has no expected answer", week, day)
		return true
	}

	solved, err := e.submissions.HasCorrectSubmission(ctx, subscriberID, item.PreviousAnswer)
	if err != nil {
		log.Printf("[Eligibility] Submission check failed for subscriber %s: %v", subscriberID, err)
		return false
	}
	return solved
}
