package domain

import "time"

// WelcomeStatus enumerates the lifecycle states of one onboarding email.
// The happy path is scheduled → sent → delivered → opened → clicked.
// failed is a parallel terminal reachable from scheduled or sent.
type WelcomeStatus string

const (
	WelcomeScheduled WelcomeStatus = "scheduled"
	WelcomeSent      WelcomeStatus = "sent"
	WelcomeDelivered WelcomeStatus = "delivered"
	WelcomeOpened    WelcomeStatus = "opened"
	WelcomeClicked   WelcomeStatus = "clicked"
	WelcomeFailed    WelcomeStatus = "failed"
)

// statusRank orders the happy-path states so that event application is
// monotonic: a state may only advance to a strictly higher rank.
var statusRank = map[WelcomeStatus]int{
	WelcomeScheduled: 0,
	WelcomeSent:      1,
	WelcomeDelivered: 2,
	WelcomeOpened:    3,
	WelcomeClicked:   4,
}

// CanAdvanceTo reports whether a transition from s to next moves forward in
// the happy-path sequence. failed is handled separately and never ranks.
func (s WelcomeStatus) CanAdvanceTo(next WelcomeStatus) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// StatusesBelow returns the happy-path states ranked strictly below s, in
// rank order. Storage layers use it to make event updates conditional.
func StatusesBelow(s WelcomeStatus) []WelcomeStatus {
	limit, ok := statusRank[s]
	if !ok {
		return nil
	}
	out := make([]WelcomeStatus, 0, limit)
	for _, st := range []WelcomeStatus{WelcomeScheduled, WelcomeSent, WelcomeDelivered, WelcomeOpened} {
		if statusRank[st] < limit {
			out = append(out, st)
		}
	}
	return out
}

// StatusForEvent maps an inbound provider event to the lifecycle state it
// implies. Unknown events map to "" and are ignored by callers.
func StatusForEvent(e EmailEventType) WelcomeStatus {
	switch e {
	case EventDelivered:
		return WelcomeDelivered
	case EventOpened:
		return WelcomeOpened
	case EventClicked:
		return WelcomeClicked
	}
	return ""
}

// WelcomeEmail is one row of the onboarding queue, unique per
// (SubscriberID, SequenceNumber).
type WelcomeEmail struct {
	ID                string        `json:"id" db:"id"`
	SubscriberID      string        `json:"subscriber_id" db:"subscriber_id"`
	SequenceNumber    int           `json:"sequence_number" db:"sequence_number"`
	Status            WelcomeStatus `json:"status" db:"status"`
	ScheduledAt       time.Time     `json:"scheduled_at" db:"scheduled_at"`
	SentAt            *time.Time    `json:"sent_at,omitempty" db:"sent_at"`
	OpenedAt          *time.Time    `json:"opened_at,omitempty" db:"opened_at"`
	ClickedAt         *time.Time    `json:"clicked_at,omitempty" db:"clicked_at"`
	ProviderMessageID string        `json:"provider_message_id,omitempty" db:"provider_message_id"`
	ErrorMessage      string        `json:"error_message,omitempty" db:"error_message"`
}

// WelcomeTemplate is one email in the onboarding series, identified by its
// position in the sequence. Subject and bodies carry liquid placeholders
// resolved at send time.
type WelcomeTemplate struct {
	SequenceNumber int    `json:"sequence_number" db:"sequence_number"`
	Name           string `json:"name" db:"name"`
	Subject        string `json:"subject" db:"subject"`
	HTMLContent    string `json:"html_content" db:"html_content"`
	TextContent    string `json:"text_content" db:"text_content"`
	// DelayHours offsets this email's send time from the subscriber's
	// signup. Sequence 1 is typically zero.
	DelayHours   int      `json:"delay_hours" db:"delay_hours"`
	RequiredVars []string `json:"required_vars,omitempty" db:"required_vars"`
	IsActive     bool     `json:"is_active" db:"is_active"`
}

// WelcomeStats aggregates series counters, optionally scoped to one
// subscriber. Rates are percentages of delivered mail, two-decimal rounded.
type WelcomeStats struct {
	TotalEmails    int     `json:"total_emails"`
	SentCount      int     `json:"sent_count"`
	DeliveredCount int     `json:"delivered_count"`
	OpenedCount    int     `json:"opened_count"`
	ClickedCount   int     `json:"clicked_count"`
	FailedCount    int     `json:"failed_count"`
	OpenRate       float64 `json:"open_rate"`
	ClickRate      float64 `json:"click_rate"`
}
