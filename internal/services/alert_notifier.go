package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/bastionsec/bastion/internal/models"
)

// SlogNotifier writes alerts to the structured log. Always registered so
// an alert is visible even when no external channel is configured.
type SlogNotifier struct {
	logger *slog.Logger
}

// NewSlogNotifier creates a new SlogNotifier
func NewSlogNotifier(logger *slog.Logger) *SlogNotifier {
	return &SlogNotifier{logger: logger}
}

// Notify logs the alert
func (n *SlogNotifier) Notify(ctx context.Context, alert models.Alert) error {
	n.logger.ErrorContext(ctx, "SECURITY ALERT",
		slog.String("level", string(alert.Level)),
		slog.Int64("count", alert.Count),
		slog.Int64("threshold", alert.Threshold),
		slog.String("window", alert.Window),
		slog.String("last_event_id", alert.LastEventID.String()),
		slog.String("last_message", alert.LastMessage))
	return nil
}

// SESNotifier delivers alerts by email using AWS SES
type SESNotifier struct {
	sesClient   *ses.Client
	fromAddress string
	toAddresses []string
	logger      *slog.Logger
}

// NewSESNotifier creates a new AWS SES alert notifier
func NewSESNotifier(region, fromAddress string, toAddresses []string, logger *slog.Logger) (*SESNotifier, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESNotifier{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		toAddresses: toAddresses,
		logger:      logger,
	}, nil
}

// Notify sends the alert email to all configured recipients
func (n *SESNotifier) Notify(ctx context.Context, alert models.Alert) error {
	subject := fmt.Sprintf("[%s] Security alert: %d %s events in %s",
		alert.Level, alert.Count, alert.Level, alert.Window)

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #b91c1c; color: white; padding: 20px; text-align: center; border-radius: 4px; }
        .content { padding: 20px 0; }
        .detail { background-color: #f8f9fa; padding: 10px; border-left: 4px solid #b91c1c; margin: 10px 0; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Security Alert</h1>
        </div>
        <div class="content">
            <p>The security event log crossed an alert threshold.</p>
            <div class="detail">
                <strong>Level:</strong> %s<br>
                <strong>Events:</strong> %d (threshold %d) within %s<br>
                <strong>Triggered:</strong> %s<br>
                <strong>Last event:</strong> %s (%s)
            </div>
            <p>Review the recent event feed and the admin security overview for details.</p>
        </div>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`, alert.Level, alert.Count, alert.Threshold, alert.Window,
		alert.TriggeredAt.Format("2006-01-02 15:04:05 UTC"),
		alert.LastMessage, alert.LastEventID)

	textBody := fmt.Sprintf(`Security Alert

The security event log crossed an alert threshold.

Level:      %s
Events:     %d (threshold %d) within %s
Triggered:  %s
Last event: %s (%s)

Review the recent event feed and the admin security overview for details.

This is an automated message. Please do not reply to this email.
`, alert.Level, alert.Count, alert.Threshold, alert.Window,
		alert.TriggeredAt.Format("2006-01-02 15:04:05 UTC"),
		alert.LastMessage, alert.LastEventID)

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: n.toAddresses,
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := n.sesClient.SendEmail(ctx, input)
	if err != nil {
		n.logger.Error("failed to send alert email via SES",
			slog.String("level", string(alert.Level)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send alert email: %w", err)
	}

	n.logger.Info("alert email sent",
		slog.String("level", string(alert.Level)),
		slog.String("message_id", *result.MessageId))

	return nil
}
