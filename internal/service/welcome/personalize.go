package welcome

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/osteele/liquid"

	"github.com/cipheracademy/dispatch/internal/domain"
)

// DefaultUserName is substituted when a subscriber has no usable name.
const DefaultUserName = "Fellow Cryptographer"

// Personalizer renders welcome templates against per-subscriber bindings.
// Templates are liquid sources; unresolved optional placeholders render
// empty, but a template's required variables must all be bound.
type Personalizer struct {
	engine      *liquid.Engine
	siteBaseURL string
}

// NewPersonalizer creates a personalizer rooted at the public site URL.
func NewPersonalizer(siteBaseURL string) *Personalizer {
	return &Personalizer{
		engine:      liquid.NewEngine(),
		siteBaseURL: strings.TrimRight(siteBaseURL, "/"),
	}
}

// Variables builds the binding map for one subscriber. prog may be nil for
// fresh signups; defaults then apply (week zero, level one, zero accuracy).
func (p *Personalizer) Variables(sub *domain.Subscriber, prog *domain.ProgressRecord, now time.Time) map[string]any {
	vars := map[string]any{
		"user_name":       DefaultUserName,
		"weeks_completed": 0,
		"current_level":   1,
		"accuracy_rate":   0,
		"community_url":   p.siteBaseURL + "/community",
		"practice_url":    p.siteBaseURL + "/practice",
	}

	if sub != nil {
		if name := nameFromEmail(sub.Email); name != "" {
			vars["user_name"] = name
		}
		vars["user_email"] = sub.Email
		vars["dashboard_url"] = fmt.Sprintf("%s/dashboard?user=%s", p.siteBaseURL, sub.ID)
		if !sub.CreatedAt.IsZero() {
			vars["days_since_signup"] = int(now.Sub(sub.CreatedAt).Hours() / 24)
		}
	}

	if prog != nil {
		weeks := prog.CurrentWeek - 1
		if weeks < 0 {
			weeks = 0
		}
		vars["weeks_completed"] = weeks
		// Levels advance every four completed weeks.
		vars["current_level"] = weeks/4 + 1
		vars["accuracy_rate"] = domain.AccuracyRate(prog.TotalSolved, prog.TotalAttempts)
		vars["current_streak"] = prog.CurrentStreak
		vars["total_points"] = prog.TotalPoints
	}

	return vars
}

// Render personalizes one template. All of the template's required
// variables must be present in vars; a gap returns ErrMissingVariable and
// the caller marks the email failed rather than sending a broken message.
func (p *Personalizer) Render(tpl *domain.WelcomeTemplate, vars map[string]any) (domain.RenderedMessage, error) {
	for _, name := range tpl.RequiredVars {
		if _, ok := vars[name]; !ok {
			return domain.RenderedMessage{}, fmt.Errorf("%w: %q in template %q", ErrMissingVariable, name, tpl.Name)
		}
	}

	subject, err := p.engine.ParseAndRenderString(tpl.Subject, vars)
	if err != nil {
		return domain.RenderedMessage{}, fmt.Errorf("render subject: %w", err)
	}
	html, err := p.engine.ParseAndRenderString(tpl.HTMLContent, vars)
	if err != nil {
		return domain.RenderedMessage{}, fmt.Errorf("render html: %w", err)
	}
	text, err := p.engine.ParseAndRenderString(tpl.TextContent, vars)
	if err != nil {
		return domain.RenderedMessage{}, fmt.Errorf("render text: %w", err)
	}

	return domain.RenderedMessage{Subject: subject, HTML: html, Text: text}, nil
}

// nameFromEmail derives a display name from the address local part, the
// way the onboarding series has always greeted people.
func nameFromEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return ""
	}
	local := email[:at]
	runes := []rune(local)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
