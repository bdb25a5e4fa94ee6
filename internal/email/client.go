package email

import (
	"context"
	"fmt"

	"github.com/dynacloud/killbill/internal/config"
	"github.com/resend/resend-go/v2"
)

// Sender delivers overdue notification emails. Sending is best effort: the
// overdue applicator logs failures and never aborts a state transition on a
// delivery error.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Client is a Sender backed by Resend. When disabled (no API key configured)
// every send is a silent no-op.
type Client struct {
	client      *resend.Client
	enabled     bool
	fromAddress string
	replyTo     string
}

// NewClient creates a new email client from configuration
func NewClient(cfg *config.Configuration) *Client {
	if !cfg.Email.Enabled || cfg.Email.APIKey == "" {
		return &Client{enabled: false}
	}

	return &Client{
		client:      resend.NewClient(cfg.Email.APIKey),
		enabled:     true,
		fromAddress: cfg.Email.FromAddress,
		replyTo:     cfg.Email.ReplyTo,
	}
}

// IsEnabled returns whether the email client is enabled
func (c *Client) IsEnabled() bool {
	return c.enabled
}

// Send sends a plain text email
func (c *Client) Send(ctx context.Context, to, subject, body string) error {
	if !c.enabled {
		return nil
	}

	params := &resend.SendEmailRequest{
		From:    c.fromAddress,
		To:      []string{to},
		Subject: subject,
		Text:    body,
	}
	if c.replyTo != "" {
		params.ReplyTo = c.replyTo
	}

	if _, err := c.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
