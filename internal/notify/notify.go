// SPDX-License-Identifier: AGPL-3.0-only

// Package notify delivers short free-text notifications to the persona's
// owner. Delivery is fire-and-forget: callers enqueue and move on, and
// failures surface only in the logs.
package notify

import (
	"context"
	"fmt"

	"github.com/gregdel/pushover"

	"github.com/jolks/persona-agent/internal/logging"
)

// Sender delivers one notification.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// PushoverSender sends notifications through the Pushover API.
type PushoverSender struct {
	app       *pushover.Pushover
	recipient *pushover.Recipient
}

// NewPushoverSender creates a sender for the given application token and
// user key.
func NewPushoverSender(token, user string) *PushoverSender {
	return &PushoverSender{
		app:       pushover.New(token),
		recipient: pushover.NewRecipient(user),
	}
}

// Send posts text as a Pushover message. The pushover client has no
// context support, so ctx only bounds how long we wait for it.
func (p *PushoverSender) Send(ctx context.Context, text string) error {
	errCh := make(chan error, 1)
	go func() {
		_, err := p.app.SendMessage(pushover.NewMessage(text), p.recipient)
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("pushover: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pushover: %w", ctx.Err())
	}
}

// LogSender writes notifications to the log. It stands in when no push
// credentials are configured.
type LogSender struct {
	logger *logging.Logger
}

// NewLogSender creates a sender that logs at info level.
func NewLogSender(logger *logging.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (l *LogSender) Send(_ context.Context, text string) error {
	l.logger.Infof("Notification: %s", text)
	return nil
}
