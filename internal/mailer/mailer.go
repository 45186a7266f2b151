// SPDX-License-Identifier: AGPL-3.0-only
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/resend/resend-go/v2"
	"github.com/yuin/goldmark"

	"github.com/jolks/persona-agent/internal/errors"
)

// Email is one outbound HTML message.
type Email struct {
	From    string
	To      []string
	Subject string
	HTML    string
}

// Validate checks the fields every transport needs.
func (e Email) Validate() error {
	if strings.TrimSpace(e.From) == "" {
		return errors.InvalidInput("email sender is required")
	}
	if len(e.To) == 0 {
		return errors.InvalidInput("at least one email recipient is required")
	}
	if strings.TrimSpace(e.Subject) == "" {
		return errors.InvalidInput("email subject is required")
	}
	return nil
}

// Sender delivers an email and returns the provider's message ID.
type Sender interface {
	Send(ctx context.Context, email Email) (string, error)
}

// ResendSender delivers email through the Resend API.
type ResendSender struct {
	client *resend.Client
}

// NewResendSender creates a Resend-backed sender.
func NewResendSender(apiKey string) *ResendSender {
	return &ResendSender{client: resend.NewClient(apiKey)}
}

func (r *ResendSender) Send(ctx context.Context, email Email) (string, error) {
	if err := email.Validate(); err != nil {
		return "", err
	}

	sent, err := r.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    email.From,
		To:      email.To,
		Subject: email.Subject,
		Html:    email.HTML,
	})
	if err != nil {
		return "", fmt.Errorf("resend: %w", err)
	}
	return sent.Id, nil
}

// RenderMarkdown converts md to a self-contained HTML document suitable
// for an email body.
func RenderMarkdown(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5;">
%s
</body></html>`, buf.String()), nil
}

// LooksLikeHTML reports whether body already carries markup, in which case
// it should be sent as-is rather than rendered from markdown.
func LooksLikeHTML(body string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(body))
	return strings.HasPrefix(trimmed, "<!doctype") ||
		strings.HasPrefix(trimmed, "<html") ||
		(strings.HasPrefix(trimmed, "<") && strings.Contains(trimmed, "</"))
}
