package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cipheracademy/dispatch/internal/domain"
	"github.com/cipheracademy/dispatch/internal/service/delivery"
	"github.com/cipheracademy/dispatch/internal/service/progress"
)

// ContentRepo reads published challenge items.
type ContentRepo struct{ db *sql.DB }

// NewContentRepo creates a Postgres-backed content repository.
func NewContentRepo(db *sql.DB) *ContentRepo { return &ContentRepo{db: db} }

// notFound satisfies both reading services' sentinels; each gates on its
// own with errors.Is.
var notFound = errors.Join(delivery.ErrNotFound, progress.ErrNotFound)

const contentCols = `
	id, week_number, day_of_week, sequence_number, title, body,
	COALESCE(hint,''), answer, difficulty, points_value,
	requires_previous, COALESCE(previous_answer,''), created_at`

func (r *ContentRepo) GetItem(ctx context.Context, week int, day domain.DayOfWeek) (*domain.ContentItem, error) {
	it := &domain.ContentItem{}
	err := r.db.QueryRowContext(ctx, `
		SELECT `+contentCols+`
		FROM challenges
		WHERE week_number = $1 AND day_of_week = $2
	`, week, string(day)).Scan(
		&it.ID, &it.WeekNumber, &it.DayOfWeek, &it.SequenceNumber, &it.Title, &it.Body,
		&it.Hint, &it.Answer, &it.Difficulty, &it.PointsValue,
		&it.RequiresPrevious, &it.PreviousAnswer, &it.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, notFound
	}
	if err != nil {
		return nil, fmt.Errorf("get challenge: %w", err)
	}
	return it, nil
}

func (r *ContentRepo) ListWeek(ctx context.Context, week int) ([]domain.ContentItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+contentCols+`
		FROM challenges
		WHERE week_number = $1
		ORDER BY sequence_number
	`, week)
	if err != nil {
		return nil, fmt.Errorf("list week challenges: %w", err)
	}
	defer rows.Close()

	var out []domain.ContentItem
	for rows.Next() {
		var it domain.ContentItem
		if err := rows.Scan(
			&it.ID, &it.WeekNumber, &it.DayOfWeek, &it.SequenceNumber, &it.Title, &it.Body,
			&it.Hint, &it.Answer, &it.Difficulty, &it.PointsValue,
			&it.RequiresPrevious, &it.PreviousAnswer, &it.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan challenge: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
