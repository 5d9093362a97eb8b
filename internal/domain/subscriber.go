package domain

import "time"

// Subscriber represents a single challenge recipient. The account subsystem
// owns these rows; the delivery core only reads them.
type Subscriber struct {
	ID          string    `json:"id" db:"id"`
	Email       string    `json:"email" db:"email"`
	Phone       string    `json:"phone,omitempty" db:"phone"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	CurrentWeek int       `json:"current_week" db:"current_week"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// HasContact reports whether the subscriber can be reached on any channel.
func (s Subscriber) HasContact() bool {
	return s.Email != "" || s.Phone != ""
}

// ProgressRecord tracks a subscriber's advancement through the curriculum.
// Invariants: CurrentWeek >= 1 and CurrentStreak <= TotalSolved.
type ProgressRecord struct {
	SubscriberID  string    `json:"subscriber_id" db:"subscriber_id"`
	CurrentWeek   int       `json:"current_week" db:"current_week"`
	TotalSolved   int       `json:"total_solved" db:"total_solved"`
	TotalAttempts int       `json:"total_attempts" db:"total_attempts"`
	TotalPoints   int       `json:"total_points" db:"total_points"`
	CurrentStreak int       `json:"current_streak" db:"current_streak"`
	LongestStreak int       `json:"longest_streak" db:"longest_streak"`
	LastActivity  time.Time `json:"last_activity" db:"last_activity"`
}

// AccuracyRate returns the percentage of attempts that were correct,
// rounded to the nearest whole number. Zero attempts yields zero.
func AccuracyRate(correct, attempts int) int {
	if attempts <= 0 {
		return 0
	}
	return int(float64(correct)/float64(attempts)*100 + 0.5)
}
