package delivery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cipheracademy/dispatch/internal/domain"
	"github.com/cipheracademy/dispatch/internal/pkg/logger"
)

// DefaultMaxConcurrent bounds how many subscribers are processed in
// parallel within one period run.
const DefaultMaxConcurrent = 10

// Orchestrator runs one delivery period end to end: enumerate, gate,
// render, fan out, record. All dependencies are injected; the orchestrator
// holds no ambient globals.
type Orchestrator struct {
	subscribers   SubscriberRepository
	ledger        LedgerRepository
	content       ContentRepository
	evaluator     *Evaluator
	renderer      *Renderer
	email         EmailSender
	sms           SMSSender // nil when the SMS channel is not configured
	maxConcurrent int
}

// NewOrchestrator creates a delivery orchestrator. sms may be nil.
func NewOrchestrator(
	subscribers SubscriberRepository,
	content ContentRepository,
	submissions SubmissionRepository,
	ledger LedgerRepository,
	email EmailSender,
	sms SMSSender,
	renderer *Renderer,
) *Orchestrator {
	return &Orchestrator{
		subscribers:   subscribers,
		ledger:        ledger,
		content:       content,
		evaluator:     NewEvaluator(content, submissions),
		renderer:      renderer,
		email:         email,
		sms:           sms,
		maxConcurrent: DefaultMaxConcurrent,
	}
}

// outcome is one subscriber's terminal state within a period run.
type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSucceeded
	outcomeFailed
)

// RunPeriod delivers the given day's content to every eligible active
// subscriber. Individual subscriber failures never abort the batch; only a
// batch-level failure (subscriber enumeration) propagates.
func (o *Orchestrator) RunPeriod(ctx context.Context, day domain.DayOfWeek) (*domain.BatchResult, error) {
	if !day.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDay, day)
	}

	started := time.Now()
	log.Printf("[Delivery] Starting %s delivery process", day)

	subs, err := o.subscribers.ListActiveWithContact(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active subscribers: %w", err)
	}
	log.Printf("[Delivery] Found %d active subscribers", len(subs))

	result := &domain.BatchResult{Day: day, Attempted: len(subs), StartedAt: started}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, o.maxConcurrent)
	)

	for _, sub := range subs {
		wg.Add(1)
		sem <- struct{}{}
		go func(sub domain.Subscriber) {
			defer wg.Done()
			defer func() { <-sem }()

			out := o.deliverOne(ctx, sub, day)

			mu.Lock()
			switch out {
			case outcomeSucceeded:
				result.Succeeded++
			case outcomeFailed:
				result.Failed++
			default:
				result.Skipped++
			}
			mu.Unlock()
		}(sub)
	}
	wg.Wait()

	result.Duration = time.Since(started).Round(time.Millisecond).String()
	log.Printf("[Delivery] Completed %s delivery: %d succeeded, %d failed, %d skipped of %d",
		day, result.Succeeded, result.Failed, result.Skipped, result.Attempted)
	return result, nil
}

// deliverOne processes a single subscriber for one period. Every path logs;
// no path panics or returns an error upward.
func (o *Orchestrator) deliverOne(ctx context.Context, sub domain.Subscriber, day domain.DayOfWeek) outcome {
	week := sub.CurrentWeek
	if week < 1 {
		week = 1
	}

	if !sub.HasContact() {
		logger.Warn("subscriber has no contact handles", "subscriber_id", sub.ID)
		return outcomeSkipped
	}

	// Idempotent re-run protection: skip before rendering or dispatching.
	already, err := o.ledger.HasDelivery(ctx, sub.ID, week, day)
	if err != nil {
		logger.Error("ledger check failed", "subscriber_id", sub.ID, "error", err.Error())
		return outcomeFailed
	}
	if already {
		logger.Debug("already delivered", "subscriber_id", sub.ID, "week", week, "day", string(day))
		return outcomeSkipped
	}

	if !o.evaluator.IsEligible(ctx, sub.ID, week, day) {
		logger.Info("subscriber not eligible", "subscriber_id", sub.ID, "week", week, "day", string(day))
		return outcomeSkipped
	}

	item, err := o.content.GetItem(ctx, week, day)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			logger.Warn("no content for period", "week", week, "day", string(day))
		} else {
			logger.Error("content lookup failed", "week", week, "day", string(day), "error", err.Error())
		}
		return outcomeSkipped
	}

	emailResult, smsResult := o.dispatch(ctx, sub, item)

	// Email is the mandatory channel; SMS is best-effort supplementary.
	if emailResult == nil || !emailResult.OK {
		reason := "no email handle"
		if emailResult != nil {
			reason = emailResult.Reason
			if emailResult.Class == domain.FailurePermanent {
				logger.Warn("permanent email failure, contact data needs correction",
					"subscriber_id", sub.ID, "reason", reason)
			}
		}
		logger.Error("delivery failed", "subscriber_id", sub.ID, "week", week, "day", string(day), "reason", reason)
		return outcomeFailed
	}

	method := domain.MethodEmail
	if smsResult != nil && smsResult.OK {
		method = domain.MethodEmailSMS
	}

	rec := domain.DeliveryRecord{
		SubscriberID: sub.ID,
		WeekNumber:   week,
		DayOfWeek:    day,
		DeliveredAt:  time.Now(),
		Method:       method,
	}
	if err := o.ledger.RecordDelivery(ctx, rec); err != nil {
		// The send went out; an unrecordable ledger row means the next run
		// could double-send, so surface loudly.
		logger.Error("record delivery failed", "subscriber_id", sub.ID, "error", err.Error())
		return outcomeFailed
	}

	logger.Info("delivered", "subscriber_id", sub.ID, "week", week, "day", string(day), "method", string(method))
	return outcomeSucceeded
}

// dispatch fans out to both channels concurrently and waits for both.
// One channel's failure never prevents or cancels the other's attempt.
func (o *Orchestrator) dispatch(ctx context.Context, sub domain.Subscriber, item *domain.ContentItem) (emailResult, smsResult *domain.SendResult) {
	var wg sync.WaitGroup

	if sub.Email != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := o.email.Send(ctx, sub.Email, o.renderer.Email(item))
			if err != nil {
				res = &domain.SendResult{OK: false, Class: domain.FailureTransient, Reason: err.Error()}
			}
			emailResult = res
		}()
	}

	if o.sms != nil && sub.Phone != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := o.sms.Send(ctx, sub.Phone, o.renderer.SMS(item))
			if err != nil {
				res = &domain.SendResult{OK: false, Class: domain.FailureTransient, Reason: err.Error()}
			}
			smsResult = res
			if res != nil && !res.OK {
				logger.Warn("sms channel failed", "subscriber_id", sub.ID,
					"class", string(res.Class), "reason", res.Reason)
			}
		}()
	}

	wg.Wait()
	return emailResult, smsResult
}
