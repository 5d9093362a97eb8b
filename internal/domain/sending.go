package domain

import "time"

// FailureClass partitions transport failures by how the caller should react.
// Transient failures are safe to retry on the next scheduled period;
// permanent failures need contact-data correction out of band.
type FailureClass string

const (
	FailureTransient FailureClass = "transient"
	FailurePermanent FailureClass = "permanent"
)

// RenderedMessage is a channel-ready payload produced from a ContentItem.
// By the time a message reaches this struct, all truncation and formatting
// for the target channel is complete.
type RenderedMessage struct {
	Subject string `json:"subject,omitempty"`
	HTML    string `json:"html,omitempty"`
	Text    string `json:"text"`
}

// SendResult is returned by a channel sender after one delivery attempt.
// Ordinary provider-side errors (bounces, bad numbers, throttling) come back
// as OK=false with a classification, never as a Go error.
type SendResult struct {
	OK                bool         `json:"ok"`
	ProviderMessageID string       `json:"provider_message_id,omitempty"`
	Class             FailureClass `json:"class,omitempty"`
	Reason            string       `json:"reason,omitempty"`
	SentAt            time.Time    `json:"sent_at"`
}

// Retryable reports whether a failed result may be retried on a later period.
func (r SendResult) Retryable() bool {
	return !r.OK && r.Class == FailureTransient
}
