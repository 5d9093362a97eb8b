package delivery

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/cipheracademy/dispatch/internal/domain"
)

// Renderer turns a ContentItem into channel-specific payloads. Email gets
// the full body plus the hint; SMS gets a truncated body with the hint
// omitted, under a fixed character limit.
type Renderer struct {
	siteBaseURL  string
	smsCharLimit int
}

// NewRenderer creates a renderer. smsCharLimit bounds the SMS body text
// (not the whole message); truncation appends an ellipsis marker.
func NewRenderer(siteBaseURL string, smsCharLimit int) *Renderer {
	return &Renderer{siteBaseURL: siteBaseURL, smsCharLimit: smsCharLimit}
}

// Email renders the full challenge for the email channel.
func (r *Renderer) Email(item *domain.ContentItem) domain.RenderedMessage {
	subject := fmt.Sprintf("Week %d %s: %s", item.WeekNumber, item.DayOfWeek, item.Title)

	var b strings.Builder
	fmt.Fprintf(&b, `<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">`)
	fmt.Fprintf(&b, `<div style="background: #1e3c72; color: white; padding: 20px; text-align: center;">`)
	fmt.Fprintf(&b, `<h1>The Cipher Academy Journey</h1><h2>Week %d &bull; %s</h2></div>`, item.WeekNumber, item.DayOfWeek)
	fmt.Fprintf(&b, `<div style="padding: 30px; background: #f8f9fa;">`)
	fmt.Fprintf(&b, `<h2 style="color: #1e3c72;">%s</h2>`, html.EscapeString(item.Title))
	fmt.Fprintf(&b, `<div style="background: white; padding: 20px; border-left: 4px solid #2a5298;"><p>%s</p></div>`, html.EscapeString(item.Body))
	if item.Hint != "" {
		fmt.Fprintf(&b, `<p style="color: #6c757d;"><strong>Hint:</strong> %s</p>`, html.EscapeString(item.Hint))
	}
	fmt.Fprintf(&b, `<p><strong>Difficulty:</strong> %d/20</p>`, item.Difficulty)
	fmt.Fprintf(&b, `<p><a href="%s/submit/%d/%s">Submit Your Solution</a></p>`,
		r.siteBaseURL, item.WeekNumber, strings.ToLower(string(item.DayOfWeek)))
	fmt.Fprintf(&b, `</div></div>`)

	var text strings.Builder
	fmt.Fprintf(&text, "Week %d %s: %s\n\n%s\n", item.WeekNumber, item.DayOfWeek, item.Title, item.Body)
	if item.Hint != "" {
		fmt.Fprintf(&text, "\nHint: %s\n", item.Hint)
	}
	fmt.Fprintf(&text, "\nDifficulty: %d/20\nSubmit: %s/submit/%d/%s\n",
		item.Difficulty, r.siteBaseURL, item.WeekNumber, strings.ToLower(string(item.DayOfWeek)))

	return domain.RenderedMessage{
		Subject: subject,
		HTML:    b.String(),
		Text:    text.String(),
	}
}

// SMS renders the short form for the SMS channel. The hint is omitted and
// the body is truncated at the character limit with an ellipsis marker
// rather than silently dropped.
func (r *Renderer) SMS(item *domain.ContentItem) domain.RenderedMessage {
	body := truncate(item.Body, r.smsCharLimit)

	text := fmt.Sprintf("CIPHER ACADEMY - Week %d %s\n\n%s\n\n%s\n\nDifficulty: %d/20\nFull message: %s/week%d",
		item.WeekNumber, item.DayOfWeek, item.Title, body, item.Difficulty, r.siteBaseURL, item.WeekNumber)

	return domain.RenderedMessage{Text: text}
}

// truncate cuts s to limit characters plus an ellipsis marker. The limit
// counts runes, not bytes, so a multi-byte character is never split.
func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}
