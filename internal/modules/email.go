package modules

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/google/uuid"

	"github.com/ignite/sendfabric/internal/domain"
	"github.com/ignite/sendfabric/internal/pkg/logger"
)

// EmailModule dispatches to a provider (ses, resend, mock) chosen by each
// recipient's resolved SendConfig.Provider, generalizing the teacher's
// internal/worker/esp_profile.go database-driven ESP resolver into the
// spec's "provider lookup happens inside the module" rule.
type EmailModule struct {
	ses *sesSender
}

// NewEmailModule creates the email module. SES credentials are optional;
// when absent, SES sends return a configuration error and only mock/Resend
// payloads succeed.
func NewEmailModule(accessKey, secretKey, region string) *EmailModule {
	return &EmailModule{ses: newSESSender(accessKey, secretKey, region)}
}

func (m *EmailModule) Type() domain.Module  { return domain.ModuleEmail }
func (m *EmailModule) Name() string         { return "email" }
func (m *EmailModule) SupportsBatch() bool  { return false }

func (m *EmailModule) ValidateConfig(cfg ProviderConfig) ValidationResult {
	switch cfg.Provider {
	case "ses", "resend", "mock":
	default:
		return invalid(fmt.Sprintf("unsupported email provider %q", cfg.Provider))
	}
	if _, ok := cfg.Settings["fromEmail"]; !ok && cfg.Provider != "mock" {
		return invalid("fromEmail is required")
	}
	return valid()
}

func (m *EmailModule) ValidatePayload(p Payload) ValidationResult {
	if p.Identifier == "" {
		return invalid("identifier (recipient email) is required")
	}
	if _, ok := p.Fields["subject"]; !ok {
		return invalid("subject is required")
	}
	return valid()
}

func (m *EmailModule) Execute(ctx context.Context, p Payload, cfg ProviderConfig) (ExecResult, error) {
	start := time.Now()

	switch cfg.Provider {
	case "mock":
		return ExecResult{
			Success:           true,
			ProviderMessageID: "mock-" + uuid.New().String(),
			StatusCode:        200,
			Latency:           time.Since(start),
		}, nil
	case "ses":
		return m.executeSES(ctx, p, cfg, start)
	case "resend":
		return m.executeResend(ctx, p, cfg, start)
	default:
		return ExecResult{}, fmt.Errorf("unsupported email provider %q", cfg.Provider)
	}
}

func (m *EmailModule) executeSES(ctx context.Context, p Payload, cfg ProviderConfig, start time.Time) (ExecResult, error) {
	if m.ses == nil || m.ses.client == nil {
		return ExecResult{}, fmt.Errorf("ses client not initialized - check credentials")
	}

	fromEmail, _ := cfg.Settings["fromEmail"].(string)
	fromName, _ := cfg.Settings["fromName"].(string)
	subject, _ := p.Fields["subject"].(string)
	html, _ := p.Fields["html"].(string)
	text, _ := p.Fields["text"].(string)

	messageID, err := m.ses.send(ctx, fromEmail, fromName, p.Identifier, subject, html, text)
	if err != nil {
		logger.Warn("ses send failed", "recipient", logger.RedactEmail(p.Identifier), "error", err.Error())
		return ExecResult{Success: false, Error: err.Error(), Latency: time.Since(start)}, nil
	}
	return ExecResult{Success: true, ProviderMessageID: messageID, StatusCode: 200, Latency: time.Since(start)}, nil
}

func (m *EmailModule) executeResend(ctx context.Context, p Payload, cfg ProviderConfig, start time.Time) (ExecResult, error) {
	// Resend's HTTP transport is shared with the webhook module's generic
	// HTTP path via internal/pkg/httpretry; wired lazily per apiKey so tests
	// that never configure a Resend SendConfig don't need network access.
	apiKey, _ := cfg.Settings["apiKey"].(string)
	if apiKey == "" {
		return ExecResult{}, fmt.Errorf("resend apiKey is required")
	}
	client := newResendClient(apiKey)
	fromEmail, _ := cfg.Settings["fromEmail"].(string)
	subject, _ := p.Fields["subject"].(string)
	html, _ := p.Fields["html"].(string)

	messageID, status, err := client.send(ctx, fromEmail, p.Identifier, subject, html)
	if err != nil {
		return ExecResult{Success: false, StatusCode: status, Error: err.Error(), Latency: time.Since(start)}, nil
	}
	return ExecResult{Success: true, ProviderMessageID: messageID, StatusCode: status, Latency: time.Since(start)}, nil
}

// sesSender wraps the AWS SDK v2 SES v2 client, grounded verbatim on the
// teacher's internal/worker/esp_ses.go SESSender.
type sesSender struct {
	region string
	client *sesv2.Client
}

func newSESSender(accessKey, secretKey, region string) *sesSender {
	if region == "" {
		region = "us-east-1"
	}
	s := &sesSender{region: region}
	if accessKey == "" || secretKey == "" {
		return s
	}
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		logger.Warn("failed to initialize aws config for ses", "error", err.Error())
		return s
	}
	s.client = sesv2.NewFromConfig(cfg)
	return s
}

func (s *sesSender) send(ctx context.Context, fromEmail, fromName, to, subject, html, text string) (string, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", fromName, fromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{to}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(html), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	if text != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(text), Charset: aws.String("UTF-8")}
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", err
	}
	if result.MessageId != nil {
		return *result.MessageId, nil
	}
	return "", nil
}
