package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/cipheracademy/dispatch/internal/config"
	"github.com/cipheracademy/dispatch/internal/domain"
	"github.com/cipheracademy/dispatch/internal/pkg/logger"
)

// SendGridSender sends email via the SendGrid v3 Mail Send API.
type SendGridSender struct {
	apiKey    string
	baseURL   string
	fromEmail string
	fromName  string
	client    *http.Client
}

// NewSendGridSender creates a SendGrid sender from configuration.
func NewSendGridSender(cfg config.SendGridConfig) *SendGridSender {
	return &SendGridSender{
		apiKey:    cfg.APIKey,
		baseURL:   cfg.BaseURL,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		client:    &http.Client{Timeout: cfg.Timeout()},
	}
}

// Send delivers a single email through SendGrid. Provider rejections come
// back as a classified failure result, not an error.
func (s *SendGridSender) Send(ctx context.Context, to string, msg domain.RenderedMessage) (*domain.SendResult, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("SendGrid API key not configured")
	}

	content := []map[string]string{}
	if msg.Text != "" {
		content = append(content, map[string]string{"type": "text/plain", "value": msg.Text})
	}
	if msg.HTML != "" {
		content = append(content, map[string]string{"type": "text/html", "value": msg.HTML})
	}

	payload := map[string]interface{}{
		"personalizations": []map[string]interface{}{
			{"to": []map[string]string{{"email": to}}},
		},
		"from":    map[string]string{"email": s.fromEmail, "name": s.fromName},
		"subject": msg.Subject,
		"content": content,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/mail/send", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		// Network trouble reaching the provider: retryable next period.
		return &domain.SendResult{
			OK:     false,
			Class:  domain.FailureTransient,
			Reason: fmt.Sprintf("sendgrid unreachable: %v", err),
		}, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		return &domain.SendResult{
			OK:     false,
			Class:  classifyStatus(resp.StatusCode),
			Reason: fmt.Sprintf("sendgrid error %d: %s", resp.StatusCode, string(body)),
		}, nil
	}

	messageID := resp.Header.Get("X-Message-Id")
	if messageID == "" {
		messageID = uuid.New().String()
	}

	log.Printf("[SendGrid] Sent to %s (id: %s)", logger.RedactEmail(to), messageID)
	return &domain.SendResult{
		OK:                true,
		ProviderMessageID: messageID,
		SentAt:            time.Now(),
	}, nil
}
