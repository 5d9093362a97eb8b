package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cipheracademy/dispatch/internal/domain"
	"github.com/cipheracademy/dispatch/internal/service/welcome"
)

// SubscriberRepo reads subscriber rows for delivery and personalization.
type SubscriberRepo struct{ db *sql.DB }

// NewSubscriberRepo creates a Postgres-backed subscriber repository.
func NewSubscriberRepo(db *sql.DB) *SubscriberRepo { return &SubscriberRepo{db: db} }

func (r *SubscriberRepo) ListActiveWithContact(ctx context.Context) ([]domain.Subscriber, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, email, COALESCE(phone,''), is_active, current_week, created_at
		FROM subscribers
		WHERE is_active = true AND (email <> '' OR COALESCE(phone,'') <> '')
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list active subscribers: %w", err)
	}
	defer rows.Close()

	var out []domain.Subscriber
	for rows.Next() {
		var s domain.Subscriber
		if err := rows.Scan(&s.ID, &s.Email, &s.Phone, &s.IsActive, &s.CurrentWeek, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SubscriberRepo) Get(ctx context.Context, id string) (*domain.Subscriber, error) {
	s := &domain.Subscriber{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, COALESCE(phone,''), is_active, current_week, created_at
		FROM subscribers
		WHERE id = $1
	`, id).Scan(&s.ID, &s.Email, &s.Phone, &s.IsActive, &s.CurrentWeek, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, welcome.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	return s, nil
}
