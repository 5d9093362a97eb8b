package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/cipheracademy/dispatch/internal/domain"
	"github.com/cipheracademy/dispatch/internal/service/welcome"
)

// WelcomeRepo implements welcome.EmailRepository and
// welcome.TemplateRepository against PostgreSQL.
type WelcomeRepo struct{ db *sql.DB }

// NewWelcomeRepo creates a Postgres-backed welcome repository.
func NewWelcomeRepo(db *sql.DB) *WelcomeRepo { return &WelcomeRepo{db: db} }

const welcomeCols = `
	id, subscriber_id, sequence_number, status, scheduled_at,
	sent_at, opened_at, clicked_at,
	COALESCE(provider_message_id,''), COALESCE(error_message,'')`

func scanWelcome(row interface{ Scan(...any) error }) (*domain.WelcomeEmail, error) {
	e := &domain.WelcomeEmail{}
	err := row.Scan(
		&e.ID, &e.SubscriberID, &e.SequenceNumber, &e.Status, &e.ScheduledAt,
		&e.SentAt, &e.OpenedAt, &e.ClickedAt,
		&e.ProviderMessageID, &e.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r *WelcomeRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.WelcomeEmail, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+welcomeCols+`
		FROM welcome_emails
		WHERE status = 'scheduled' AND scheduled_at <= $1
		ORDER BY scheduled_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due welcome emails: %w", err)
	}
	defer rows.Close()

	var out []domain.WelcomeEmail
	for rows.Next() {
		e, err := scanWelcome(rows)
		if err != nil {
			return nil, fmt.Errorf("scan welcome email: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (r *WelcomeRepo) Get(ctx context.Context, subscriberID string, sequence int) (*domain.WelcomeEmail, error) {
	e, err := scanWelcome(r.db.QueryRowContext(ctx, `
		SELECT `+welcomeCols+`
		FROM welcome_emails
		WHERE subscriber_id = $1 AND sequence_number = $2
	`, subscriberID, sequence))
	if err == sql.ErrNoRows {
		return nil, welcome.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get welcome email: %w", err)
	}
	return e, nil
}

func (r *WelcomeRepo) GetByProviderMessageID(ctx context.Context, messageID string) (*domain.WelcomeEmail, error) {
	if messageID == "" {
		return nil, welcome.ErrNotFound
	}
	e, err := scanWelcome(r.db.QueryRowContext(ctx, `
		SELECT `+welcomeCols+`
		FROM welcome_emails
		WHERE provider_message_id = $1
	`, messageID))
	if err == sql.ErrNoRows {
		return nil, welcome.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get welcome email by message id: %w", err)
	}
	return e, nil
}

func (r *WelcomeRepo) Schedule(ctx context.Context, emails []domain.WelcomeEmail) (int, error) {
	inserted := 0
	for _, e := range emails {
		res, err := r.db.ExecContext(ctx, `
			INSERT INTO welcome_emails (id, subscriber_id, sequence_number, status, scheduled_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (subscriber_id, sequence_number) DO NOTHING
		`, e.ID, e.SubscriberID, e.SequenceNumber, string(e.Status), e.ScheduledAt)
		if err != nil {
			return inserted, fmt.Errorf("schedule welcome email %d: %w", e.SequenceNumber, err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	return inserted, nil
}

func (r *WelcomeRepo) MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE welcome_emails
		SET status = 'sent', sent_at = $1, provider_message_id = $2, error_message = NULL
		WHERE id = $3
	`, at, providerMessageID, id)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return welcome.ErrNotFound
	}
	return nil
}

func (r *WelcomeRepo) MarkFailed(ctx context.Context, id, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE welcome_emails SET status = 'failed', error_message = $1 WHERE id = $2
	`, reason, id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return welcome.ErrNotFound
	}
	return nil
}

// ApplyEvent advances a row only when its stored status still ranks below
// the new one, so concurrent webhook deliveries cannot regress engagement.
func (r *WelcomeRepo) ApplyEvent(ctx context.Context, id string, status domain.WelcomeStatus, at time.Time) error {
	below := domain.StatusesBelow(status)
	allowed := make([]string, len(below))
	for i, s := range below {
		allowed[i] = string(s)
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE welcome_emails
		SET status = $1,
		    opened_at  = CASE WHEN $1 = 'opened'  THEN $2 ELSE opened_at END,
		    clicked_at = CASE WHEN $1 = 'clicked' THEN $2 ELSE clicked_at END
		WHERE id = $3 AND status = ANY($4)
	`, string(status), at, id, pq.Array(allowed))
	if err != nil {
		return fmt.Errorf("apply event: %w", err)
	}
	return nil
}

func (r *WelcomeRepo) ResetToScheduled(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE welcome_emails
		SET status = 'scheduled', scheduled_at = $1, sent_at = NULL, error_message = NULL
		WHERE id = $2
	`, at, id)
	if err != nil {
		return fmt.Errorf("reset to scheduled: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return welcome.ErrNotFound
	}
	return nil
}

func (r *WelcomeRepo) ListBySubscriber(ctx context.Context, subscriberID string) ([]domain.WelcomeEmail, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+welcomeCols+`
		FROM welcome_emails
		WHERE subscriber_id = $1
		ORDER BY sequence_number
	`, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("list welcome emails: %w", err)
	}
	defer rows.Close()

	var out []domain.WelcomeEmail
	for rows.Next() {
		e, err := scanWelcome(rows)
		if err != nil {
			return nil, fmt.Errorf("scan welcome email: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (r *WelcomeRepo) CountByStatus(ctx context.Context, subscriberID string) (map[domain.WelcomeStatus]int, error) {
	q := `SELECT status, COUNT(*) FROM welcome_emails`
	args := []interface{}{}
	if subscriberID != "" {
		q += ` WHERE subscriber_id = $1`
		args = append(args, subscriberID)
	}
	q += ` GROUP BY status`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("count welcome emails: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.WelcomeStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[domain.WelcomeStatus(status)] = n
	}
	return counts, rows.Err()
}

func (r *WelcomeRepo) GetActive(ctx context.Context, sequence int) (*domain.WelcomeTemplate, error) {
	t := &domain.WelcomeTemplate{}
	var vars pq.StringArray
	err := r.db.QueryRowContext(ctx, `
		SELECT sequence_number, name, subject, html_content, text_content,
		       delay_hours, COALESCE(required_vars, '{}'), is_active
		FROM welcome_templates
		WHERE sequence_number = $1 AND is_active = true
	`, sequence).Scan(
		&t.SequenceNumber, &t.Name, &t.Subject, &t.HTMLContent, &t.TextContent,
		&t.DelayHours, &vars, &t.IsActive,
	)
	if err == sql.ErrNoRows {
		return nil, welcome.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	t.RequiredVars = vars
	return t, nil
}

func (r *WelcomeRepo) ListActive(ctx context.Context) ([]domain.WelcomeTemplate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sequence_number, name, subject, html_content, text_content,
		       delay_hours, COALESCE(required_vars, '{}'), is_active
		FROM welcome_templates
		WHERE is_active = true
		ORDER BY sequence_number
	`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []domain.WelcomeTemplate
	for rows.Next() {
		var t domain.WelcomeTemplate
		var vars pq.StringArray
		if err := rows.Scan(
			&t.SequenceNumber, &t.Name, &t.Subject, &t.HTMLContent, &t.TextContent,
			&t.DelayHours, &vars, &t.IsActive,
		); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		t.RequiredVars = vars
		out = append(out, t)
	}
	return out, rows.Err()
}
