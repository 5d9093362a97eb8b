package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/cipheracademy/dispatch/internal/domain"
)

// LedgerRepo is the Postgres delivery ledger. The table carries a unique
// constraint on (subscriber_id, week_number, day_of_week).
type LedgerRepo struct{ db *sql.DB }

// NewLedgerRepo creates a Postgres-backed delivery ledger.
func NewLedgerRepo(db *sql.DB) *LedgerRepo { return &LedgerRepo{db: db} }

func (r *LedgerRepo) HasDelivery(ctx context.Context, subscriberID string, week int, day domain.DayOfWeek) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM delivery_log
			WHERE subscriber_id = $1 AND week_number = $2 AND day_of_week = $3
		)
	`, subscriberID, week, string(day)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check delivery: %w", err)
	}
	return exists, nil
}

func (r *LedgerRepo) RecordDelivery(ctx context.Context, rec domain.DeliveryRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO delivery_log (subscriber_id, week_number, day_of_week, delivered_at, method)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (subscriber_id, week_number, day_of_week)
		DO UPDATE SET delivered_at = EXCLUDED.delivered_at, method = EXCLUDED.method
	`, rec.SubscriberID, rec.WeekNumber, string(rec.DayOfWeek), rec.DeliveredAt, string(rec.Method))
	if err != nil {
		// A unique violation means another writer recorded the same delivery
		// first; the success is on record either way.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil
		}
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}
