package email

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	appconfig "github.com/cipheracademy/dispatch/internal/config"
	"github.com/cipheracademy/dispatch/internal/domain"
	"github.com/cipheracademy/dispatch/internal/pkg/logger"
)

// SESSender sends email via AWS SES using the SDK v2. Selected when the
// ses config section is enabled; otherwise SendGrid is the email channel.
type SESSender struct {
	client    *sesv2.Client
	fromEmail string
	fromName  string
	region    string
}

// NewSESSender creates an SES sender. Returns an error when credentials are
// missing, since a half-configured channel would fail every period.
func NewSESSender(ctx context.Context, cfg appconfig.SESConfig, fromEmail, fromName string) (*SESSender, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("SES credentials not configured")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &SESSender{
		client:    sesv2.NewFromConfig(awsCfg),
		fromEmail: fromEmail,
		fromName:  fromName,
		region:    cfg.Region,
	}, nil
}

// Send delivers a single email through AWS SES.
func (s *SESSender) Send(ctx context.Context, to string, msg domain.RenderedMessage) (*domain.SendResult, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{to}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	if msg.Text != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return &domain.SendResult{
			OK:     false,
			Class:  classifySESError(err),
			Reason: err.Error(),
		}, nil
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}

	log.Printf("[SES] Sent to %s (id: %s)", logger.RedactEmail(to), messageID)
	return &domain.SendResult{
		OK:                true,
		ProviderMessageID: messageID,
		SentAt:            time.Now(),
	}, nil
}

// classifySESError sorts SES API errors into retryable and not. Rejected
// messages and bad destinations are permanent; everything else (throttling,
// account sending pause, service trouble) may clear up by the next period.
func classifySESError(err error) domain.FailureClass {
	var reject *types.MessageRejected
	if errors.As(err, &reject) {
		return domain.FailurePermanent
	}
	var badRequest *types.BadRequestException
	if errors.As(err, &badRequest) {
		return domain.FailurePermanent
	}
	return domain.FailureTransient
}
