package welcome

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/cipheracademy/dispatch/internal/domain"
	"github.com/cipheracademy/dispatch/internal/pkg/logger"
)

// DefaultDrainBatch caps how many due emails one drain pass picks up.
const DefaultDrainBatch = 100

// Service drives the onboarding email series.
type Service struct {
	emails       EmailRepository
	templates    TemplateRepository
	subscribers  SubscriberReader
	progress     ProgressReader
	sender       Sender
	personalizer *Personalizer
	drainBatch   int
}

// NewService wires the welcome service.
func NewService(
	emails EmailRepository,
	templates TemplateRepository,
	subscribers SubscriberReader,
	progress ProgressReader,
	sender Sender,
	personalizer *Personalizer,
) *Service {
	return &Service{
		emails:       emails,
		templates:    templates,
		subscribers:  subscribers,
		progress:     progress,
		sender:       sender,
		personalizer: personalizer,
		drainBatch:   DefaultDrainBatch,
	}
}

// Onboard schedules the full active series for a new subscriber. Each
// email's send time is the signup moment plus the template's delay.
// Already-scheduled sequence positions are left untouched, so calling
// Onboard twice is harmless.
func (s *Service) Onboard(ctx context.Context, subscriberID string) (int, error) {
	sub, err := s.subscribers.Get(ctx, subscriberID)
	if err != nil {
		return 0, fmt.Errorf("get subscriber: %w", err)
	}

	templates, err := s.templates.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list templates: %w", err)
	}
	if len(templates) == 0 {
		return 0, nil
	}

	base := sub.CreatedAt
	if base.IsZero() {
		base = time.Now()
	}

	rows := make([]domain.WelcomeEmail, 0, len(templates))
	for _, tpl := range templates {
		rows = append(rows, domain.WelcomeEmail{
			ID:             uuid.New().String(),
			SubscriberID:   subscriberID,
			SequenceNumber: tpl.SequenceNumber,
			Status:         domain.WelcomeScheduled,
			ScheduledAt:    base.Add(time.Duration(tpl.DelayHours) * time.Hour),
		})
	}

	n, err := s.emails.Schedule(ctx, rows)
	if err != nil {
		return 0, fmt.Errorf("schedule series: %w", err)
	}
	log.Printf("[Welcome] Scheduled %d of %d series emails for subscriber %s", n, len(rows), subscriberID)
	return n, nil
}

// ProcessPending drains due scheduled emails. Each email is personalized,
// sent, and marked sent or failed independently; one subscriber's bad data
// never stalls the queue. Returns how many were sent.
func (s *Service) ProcessPending(ctx context.Context) (int, error) {
	due, err := s.emails.ListDue(ctx, time.Now(), s.drainBatch)
	if err != nil {
		return 0, fmt.Errorf("list due emails: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}
	log.Printf("[Welcome] Processing %d pending welcome emails", len(due))

	sent := 0
	for _, row := range due {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if s.processOne(ctx, row) {
			sent++
		}
	}
	log.Printf("[Welcome] Drain complete: %d of %d sent", sent, len(due))
	return sent, nil
}

func (s *Service) processOne(ctx context.Context, row domain.WelcomeEmail) bool {
	sub, err := s.subscribers.Get(ctx, row.SubscriberID)
	if err != nil {
		s.fail(ctx, row.ID, fmt.Sprintf("subscriber lookup: %v", err))
		return false
	}
	if sub.Email == "" {
		s.fail(ctx, row.ID, "subscriber has no email address")
		return false
	}

	tpl, err := s.templates.GetActive(ctx, row.SequenceNumber)
	if err != nil {
		s.fail(ctx, row.ID, fmt.Sprintf("template lookup: %v", err))
		return false
	}

	prog, err := s.progress.GetProgress(ctx, row.SubscriberID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		// Personalization degrades to defaults rather than blocking the send.
		logger.Warn("progress lookup failed, using defaults",
			"subscriber_id", row.SubscriberID, "error", err.Error())
		prog = nil
	}

	vars := s.personalizer.Variables(sub, prog, time.Now())
	msg, err := s.personalizer.Render(tpl, vars)
	if err != nil {
		s.fail(ctx, row.ID, err.Error())
		return false
	}

	res, err := s.sender.Send(ctx, sub.Email, msg)
	if err != nil {
		s.fail(ctx, row.ID, err.Error())
		return false
	}
	if !res.OK {
		s.fail(ctx, row.ID, res.Reason)
		return false
	}

	if err := s.emails.MarkSent(ctx, row.ID, res.ProviderMessageID, time.Now()); err != nil {
		logger.Error("mark sent failed", "email_id", row.ID, "error", err.Error())
		return false
	}
	logger.Info("welcome email sent",
		"subscriber_id", row.SubscriberID, "sequence", row.SequenceNumber,
		"email", logger.RedactEmail(sub.Email))
	return true
}

func (s *Service) fail(ctx context.Context, id, reason string) {
	logger.Warn("welcome email failed", "email_id", id, "reason", reason)
	if err := s.emails.MarkFailed(ctx, id, reason); err != nil {
		logger.Error("mark failed errored", "email_id", id, "error", err.Error())
	}
}

// ApplyEmailEvent folds one inbound provider event into the state machine.
// Unknown message ids and stale or unknown events are ignored: webhooks
// replay, batch, and arrive out of order, and none of that may corrupt
// recorded engagement.
func (s *Service) ApplyEmailEvent(ctx context.Context, ev domain.EmailEvent) error {
	next := domain.StatusForEvent(ev.Event)
	if next == "" {
		return nil
	}

	row, err := s.emails.GetByProviderMessageID(ctx, ev.ProviderMessageID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("resolve message id: %w", err)
	}

	if !row.Status.CanAdvanceTo(next) {
		logger.Debug("stale email event ignored",
			"email_id", row.ID, "status", string(row.Status), "event", string(ev.Event))
		return nil
	}

	at := ev.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	if err := s.emails.ApplyEvent(ctx, row.ID, next, at); err != nil {
		return fmt.Errorf("apply event: %w", err)
	}
	return nil
}

// Resend returns one series email to the scheduled state so the next drain
// picks it up again. sent_at and error_message are cleared.
func (s *Service) Resend(ctx context.Context, subscriberID string, sequence int) error {
	row, err := s.emails.Get(ctx, subscriberID, sequence)
	if err != nil {
		return err
	}
	if err := s.emails.ResetToScheduled(ctx, row.ID, time.Now()); err != nil {
		return fmt.Errorf("reset to scheduled: %w", err)
	}
	log.Printf("[Welcome] Email %d rescheduled for subscriber %s", sequence, subscriberID)
	return nil
}

// Progress returns a subscriber's series rows in sequence order.
func (s *Service) Progress(ctx context.Context, subscriberID string) ([]domain.WelcomeEmail, error) {
	return s.emails.ListBySubscriber(ctx, subscriberID)
}

// Stats aggregates series counters, scoped to one subscriber when
// subscriberID is non-empty. Sent counts every email that left the system,
// including ones later reported delivered, opened, or clicked.
func (s *Service) Stats(ctx context.Context, subscriberID string) (*domain.WelcomeStats, error) {
	counts, err := s.emails.CountByStatus(ctx, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}

	stats := &domain.WelcomeStats{
		FailedCount: counts[domain.WelcomeFailed],
	}
	// Each later state implies the earlier ones happened.
	stats.ClickedCount = counts[domain.WelcomeClicked]
	stats.OpenedCount = counts[domain.WelcomeOpened] + stats.ClickedCount
	stats.DeliveredCount = counts[domain.WelcomeDelivered] + stats.OpenedCount
	stats.SentCount = counts[domain.WelcomeSent] + stats.DeliveredCount
	for _, n := range counts {
		stats.TotalEmails += n
	}

	stats.OpenRate = percentage(stats.OpenedCount, stats.DeliveredCount)
	stats.ClickRate = percentage(stats.ClickedCount, stats.DeliveredCount)
	return stats, nil
}

// percentage returns num/den*100 rounded to two decimals, treating a zero
// denominator as one so empty series report zero rates.
func percentage(num, den int) float64 {
	if den < 1 {
		den = 1
	}
	return math.Round(float64(num)/float64(den)*100*100) / 100
}
