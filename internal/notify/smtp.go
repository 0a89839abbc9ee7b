package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

// SMTPConfig holds SMTP settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	Timeout  time.Duration
}

// SMTPNotifier sends HTML mail through an SMTP relay.  A fresh connection
// is dialed per message so a long idle period never leaves a stale session.
type SMTPNotifier struct {
	client *mail.Client
	cfg    SMTPConfig
}

// NewSMTPNotifier builds the go-mail client.  SMTP auth is enabled only when
// a username is configured; STARTTLS is used opportunistically.
func NewSMTPNotifier(cfg SMTPConfig) (*SMTPNotifier, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("notify: smtp host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("notify: sender address is required")
	}
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(cfg.Timeout))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	c, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("notify: smtp client: %w", err)
	}
	return &SMTPNotifier{client: c, cfg: cfg}, nil
}

// Send delivers one HTML message.
func (n *SMTPNotifier) Send(ctx context.Context, to, subject, body string) error {
	msg, err := n.message(to, subject, body)
	if err != nil {
		return err
	}
	if err := n.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("notify: send to %s: %w", to, err)
	}
	return nil
}

func (n *SMTPNotifier) message(to, subject, body string) (*mail.Msg, error) {
	if strings.TrimSpace(to) == "" {
		return nil, ErrNoRecipient
	}
	msg := mail.NewMsg()
	if err := msg.FromFormat(n.cfg.FromName, n.cfg.From); err != nil {
		return nil, fmt.Errorf("notify: from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("notify: to address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, body)
	return msg, nil
}
