package domain

import "time"

// EmailEventType enumerates inbound provider events for sent email.
type EmailEventType string

const (
	EventDelivered EmailEventType = "delivered"
	EventOpened    EmailEventType = "open"
	EventClicked   EmailEventType = "click"
)

// EmailEvent is one inbound provider webhook event, keyed by the provider's
// message id from the original send.
type EmailEvent struct {
	ProviderMessageID string         `json:"provider_message_id"`
	Event             EmailEventType `json:"event"`
	Timestamp         time.Time      `json:"timestamp"`
}
