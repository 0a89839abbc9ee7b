// Package notify delivers outbound e-mail.  The background workflows only
// depend on the Notifier interface; SMTP delivery and the log-only
// notifier used when mail is disabled both satisfy it.
package notify

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
)

// Notifier sends one message to one recipient.  Body is HTML.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// ErrNoRecipient is returned when the destination address is empty.
var ErrNoRecipient = errors.New("notify: empty recipient")

// LogNotifier writes messages to the log instead of sending them.
type LogNotifier struct{}

// Send logs the message envelope.  The body is logged at debug level only.
func (LogNotifier) Send(_ context.Context, to, subject, body string) error {
	if strings.TrimSpace(to) == "" {
		return ErrNoRecipient
	}
	entry := logrus.WithFields(logrus.Fields{"component": "notify", "to": to, "subject": subject})
	entry.Info("mail disabled, message logged")
	entry.WithField("body_bytes", len(body)).Debug(body)
	return nil
}
