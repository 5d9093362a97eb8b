package progress

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cipheracademy/dispatch/internal/domain"
	"github.com/cipheracademy/dispatch/internal/pkg/logger"
)

// hintPenalty is the fraction of base points kept when the hint was used.
const hintPenalty = 0.7

// Service grades submissions and maintains progress records.
type Service struct {
	content     ContentReader
	submissions SubmissionStore
	store       Store
}

// NewService wires the progress service.
func NewService(content ContentReader, submissions SubmissionStore, store Store) *Service {
	return &Service{content: content, submissions: submissions, store: store}
}

// SubmitInput is one answer attempt.
type SubmitInput struct {
	SubscriberID string           `json:"subscriber_id"`
	WeekNumber   int              `json:"week_number"`
	DayOfWeek    domain.DayOfWeek `json:"day_of_week"`
	Answer       string           `json:"answer"`
	HintUsed     bool             `json:"hint_used"`
}

// SubmitResult reports the grading outcome.
type SubmitResult struct {
	Correct      bool `json:"correct"`
	PointsEarned int  `json:"points_earned"`
	CurrentWeek  int  `json:"current_week"`
	TotalSolved  int  `json:"total_solved"`
	TotalPoints  int  `json:"total_points"`
	Streak       int  `json:"current_streak"`
}

// SubmitAnswer grades one attempt. Comparison is case-insensitive on
// trimmed strings. A correct answer earns the item's point value, reduced
// by thirty percent when the hint was used, and advances the subscriber's
// week pointer when the solved week is their current one.
func (s *Service) SubmitAnswer(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	if in.Answer == "" {
		return nil, fmt.Errorf("answer is required")
	}
	if !in.DayOfWeek.Valid() {
		return nil, fmt.Errorf("invalid day of week %q", in.DayOfWeek)
	}

	item, err := s.content.GetItem(ctx, in.WeekNumber, in.DayOfWeek)
	if err != nil {
		return nil, err
	}

	correct := gradeAnswer(in.Answer, item.Answer)
	points := 0
	if correct {
		points = item.PointsValue
		if in.HintUsed {
			points = int(float64(points) * hintPenalty)
		}
	}

	sub := &domain.Submission{
		ID:           uuid.New().String(),
		SubscriberID: in.SubscriberID,
		WeekNumber:   in.WeekNumber,
		DayOfWeek:    in.DayOfWeek,
		Answer:       in.Answer,
		IsCorrect:    correct,
		PointsEarned: points,
		HintUsed:     in.HintUsed,
		SubmittedAt:  time.Now(),
	}
	if err := s.submissions.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("record submission: %w", err)
	}

	rec, err := s.applyToProgress(ctx, in, correct, points)
	if err != nil {
		return nil, err
	}

	logger.Info("submission graded",
		"subscriber_id", in.SubscriberID, "week", in.WeekNumber,
		"day", string(in.DayOfWeek), "correct", correct, "points", points)

	return &SubmitResult{
		Correct:      correct,
		PointsEarned: points,
		CurrentWeek:  rec.CurrentWeek,
		TotalSolved:  rec.TotalSolved,
		TotalPoints:  rec.TotalPoints,
		Streak:       rec.CurrentStreak,
	}, nil
}

func (s *Service) applyToProgress(ctx context.Context, in SubmitInput, correct bool, points int) (*domain.ProgressRecord, error) {
	rec, err := s.store.GetProgress(ctx, in.SubscriberID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("get progress: %w", err)
		}
		rec = &domain.ProgressRecord{SubscriberID: in.SubscriberID, CurrentWeek: 1}
	}
	if rec.CurrentWeek < 1 {
		rec.CurrentWeek = 1
	}

	rec.TotalAttempts++
	rec.LastActivity = time.Now()

	if correct {
		rec.TotalSolved++
		rec.TotalPoints += points
		rec.CurrentStreak++
		if rec.CurrentStreak > rec.LongestStreak {
			rec.LongestStreak = rec.CurrentStreak
		}
		if in.WeekNumber == rec.CurrentWeek {
			rec.CurrentWeek++
		}
	} else {
		rec.CurrentStreak = 0
	}

	if err := s.store.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("save progress: %w", err)
	}
	return rec, nil
}

// GetProgress returns a subscriber's record, substituting a zero-valued
// week-one record for subscribers who have never submitted.
func (s *Service) GetProgress(ctx context.Context, subscriberID string) (*domain.ProgressRecord, error) {
	rec, err := s.store.GetProgress(ctx, subscriberID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &domain.ProgressRecord{SubscriberID: subscriberID, CurrentWeek: 1}, nil
		}
		return nil, err
	}
	return rec, nil
}

// WeekChallenges lists a week's published items. Answers never serialize;
// the domain type masks them.
func (s *Service) WeekChallenges(ctx context.Context, week int) ([]domain.ContentItem, error) {
	if week < 1 {
		return nil, fmt.Errorf("week must be positive")
	}
	return s.content.ListWeek(ctx, week)
}

// gradeAnswer compares a submitted answer against the expected one,
// ignoring case and surrounding whitespace.
func gradeAnswer(got, want string) bool {
	return strings.EqualFold(strings.TrimSpace(got), strings.TrimSpace(want))
}
