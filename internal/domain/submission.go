package domain

import "time"

// Submission is one graded answer attempt against a challenge period.
// Incorrect attempts are kept too; they feed the accuracy rate.
type Submission struct {
	ID           string    `json:"id" db:"id"`
	SubscriberID string    `json:"subscriber_id" db:"subscriber_id"`
	WeekNumber   int       `json:"week_number" db:"week_number"`
	DayOfWeek    DayOfWeek `json:"day_of_week" db:"day_of_week"`
	Answer       string    `json:"answer" db:"answer"`
	IsCorrect    bool      `json:"is_correct" db:"is_correct"`
	PointsEarned int       `json:"points_earned" db:"points_earned"`
	HintUsed     bool      `json:"hint_used" db:"hint_used"`
	SubmittedAt  time.Time `json:"submitted_at" db:"submitted_at"`
}
