package domain

import "time"

// DeliveryMethod tags which channels carried a recorded delivery.
type DeliveryMethod string

const (
	MethodEmail    DeliveryMethod = "email"
	MethodEmailSMS DeliveryMethod = "email_sms"
)

// DeliveryRecord is one row of the delivery ledger. The composite key
// (SubscriberID, WeekNumber, DayOfWeek) is unique; re-delivery updates
// DeliveredAt rather than inserting a second row.
type DeliveryRecord struct {
	SubscriberID string         `json:"subscriber_id" db:"subscriber_id"`
	WeekNumber   int            `json:"week_number" db:"week_number"`
	DayOfWeek    DayOfWeek      `json:"day_of_week" db:"day_of_week"`
	DeliveredAt  time.Time      `json:"delivered_at" db:"delivered_at"`
	Method       DeliveryMethod `json:"method" db:"method"`
}

// BatchResult summarizes one period run. Partial success is a normal,
// reportable outcome, not an error state.
type BatchResult struct {
	Day       DayOfWeek `json:"day"`
	Attempted int       `json:"attempted"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
}
