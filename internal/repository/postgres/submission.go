package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cipheracademy/dispatch/internal/domain"
)

// SubmissionRepo persists graded attempts and answers prerequisite
// queries for eligibility checks.
type SubmissionRepo struct{ db *sql.DB }

// NewSubmissionRepo creates a Postgres-backed submission repository.
func NewSubmissionRepo(db *sql.DB) *SubmissionRepo { return &SubmissionRepo{db: db} }

func (r *SubmissionRepo) Create(ctx context.Context, s *domain.Submission) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO submissions
			(id, subscriber_id, week_number, day_of_week, answer,
			 is_correct, points_earned, hint_used, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, s.ID, s.SubscriberID, s.WeekNumber, string(s.DayOfWeek), s.Answer,
		s.IsCorrect, s.PointsEarned, s.HintUsed, s.SubmittedAt)
	if err != nil {
		return fmt.Errorf("create submission: %w", err)
	}
	return nil
}

func (r *SubmissionRepo) HasCorrectSubmission(ctx context.Context, subscriberID, expected string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM submissions
			WHERE subscriber_id = $1 AND is_correct = true
			  AND LOWER(TRIM(answer)) = LOWER(TRIM($2))
		)
	`, subscriberID, expected).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check correct submission: %w", err)
	}
	return exists, nil
}
