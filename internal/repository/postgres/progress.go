package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cipheracademy/dispatch/internal/domain"
	"github.com/cipheracademy/dispatch/internal/service/progress"
	"github.com/cipheracademy/dispatch/internal/service/welcome"
)

// progressNotFound satisfies both consumers' sentinels: the progress
// service propagates a missing row, the welcome service substitutes
// personalization defaults for it.
var progressNotFound = errors.Join(progress.ErrNotFound, welcome.ErrNotFound)

// ProgressRepo implements progress.Store and welcome.ProgressReader
// against PostgreSQL.
type ProgressRepo struct{ db *sql.DB }

// NewProgressRepo creates a Postgres-backed progress repository.
func NewProgressRepo(db *sql.DB) *ProgressRepo { return &ProgressRepo{db: db} }

func (r *ProgressRepo) GetProgress(ctx context.Context, subscriberID string) (*domain.ProgressRecord, error) {
	rec := &domain.ProgressRecord{}
	err := r.db.QueryRowContext(ctx, `
		SELECT subscriber_id, current_week, total_solved, total_attempts,
		       total_points, current_streak, longest_streak, last_activity
		FROM user_progress
		WHERE subscriber_id = $1
	`, subscriberID).Scan(
		&rec.SubscriberID, &rec.CurrentWeek, &rec.TotalSolved, &rec.TotalAttempts,
		&rec.TotalPoints, &rec.CurrentStreak, &rec.LongestStreak, &rec.LastActivity,
	)
	if err == sql.ErrNoRows {
		return nil, progressNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}
	return rec, nil
}

func (r *ProgressRepo) Upsert(ctx context.Context, rec *domain.ProgressRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_progress
			(subscriber_id, current_week, total_solved, total_attempts,
			 total_points, current_streak, longest_streak, last_activity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (subscriber_id) DO UPDATE SET
			current_week = EXCLUDED.current_week,
			total_solved = EXCLUDED.total_solved,
			total_attempts = EXCLUDED.total_attempts,
			total_points = EXCLUDED.total_points,
			current_streak = EXCLUDED.current_streak,
			longest_streak = EXCLUDED.longest_streak,
			last_activity = EXCLUDED.last_activity
	`, rec.SubscriberID, rec.CurrentWeek, rec.TotalSolved, rec.TotalAttempts,
		rec.TotalPoints, rec.CurrentStreak, rec.LongestStreak, rec.LastActivity)
	if err != nil {
		return fmt.Errorf("upsert progress: %w", err)
	}
	return nil
}
