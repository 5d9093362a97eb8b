// Package sms contains the outbound SMS channel adapter.
//
// Like the email adapters, provider-side rejections are returned as
// classified failure results rather than Go errors, so the orchestrator's
// retry logic is driven by type, not string inspection.
package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cipheracademy/dispatch/internal/config"
	"github.com/cipheracademy/dispatch/internal/domain"
	"github.com/cipheracademy/dispatch/internal/pkg/logger"
)

// Twilio error codes that indicate the destination itself is bad.
// These suppress further SMS attempts until the contact data is corrected.
var permanentTwilioCodes = map[int]bool{
	21211: true, // invalid 'To' phone number
	21610: true, // recipient has opted out
	21614: true, // 'To' number is not a valid mobile number
}

// TwilioSender sends SMS via the Twilio Messages API.
type TwilioSender struct {
	accountSID string
	authToken  string
	fromNumber string
	baseURL    string
	client     *http.Client
}

// NewTwilioSender creates a Twilio sender from configuration.
func NewTwilioSender(cfg config.TwilioConfig) *TwilioSender {
	return &TwilioSender{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		fromNumber: cfg.FromNumber,
		baseURL:    cfg.BaseURL,
		client:     &http.Client{Timeout: cfg.Timeout()},
	}
}

// Send delivers a single SMS through Twilio.
func (s *TwilioSender) Send(ctx context.Context, to string, msg domain.RenderedMessage) (*domain.SendResult, error) {
	if s.accountSID == "" || s.authToken == "" {
		return nil, fmt.Errorf("Twilio credentials not configured")
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", s.fromNumber)
	form.Set("Body", msg.Text)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, s.accountSID)
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return &domain.SendResult{
			OK:     false,
			Class:  domain.FailureTransient,
			Reason: fmt.Sprintf("twilio unreachable: %v", err),
		}, nil
	}
	defer resp.Body.Close()

	var twResp struct {
		SID     string `json:"sid"`
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	json.NewDecoder(resp.Body).Decode(&twResp)

	if resp.StatusCode >= 400 {
		class := domain.FailureTransient
		if permanentTwilioCodes[twResp.Code] {
			class = domain.FailurePermanent
		} else if resp.StatusCode != 429 && resp.StatusCode < 500 {
			class = domain.FailurePermanent
		}
		return &domain.SendResult{
			OK:     false,
			Class:  class,
			Reason: fmt.Sprintf("twilio error %d (code %d): %s", resp.StatusCode, twResp.Code, twResp.Message),
		}, nil
	}

	log.Printf("[Twilio] Sent to %s (sid: %s)", logger.RedactPhone(to), twResp.SID)
	return &domain.SendResult{
		OK:                true,
		ProviderMessageID: twResp.SID,
		SentAt:            time.Now(),
	}, nil
}
