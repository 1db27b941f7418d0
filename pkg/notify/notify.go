// Package notify sends fire-and-forget email notifications. A send failure
// is logged and absorbed; it never rolls back the transition that triggered
// it.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/maybeizen/fluxo-sub000/pkg/observability"
)

// Email is a single outbound message
type Email struct {
	To      string
	Subject string
	HTML    string
}

// Sender delivers email
type Sender interface {
	Send(ctx context.Context, email Email) error
}

// SMTPConfig holds SMTP transport settings
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// SMTPSender delivers mail over SMTP with plain auth
type SMTPSender struct {
	config SMTPConfig
}

// NewSMTPSender creates a new SMTPSender
func NewSMTPSender(config SMTPConfig) *SMTPSender {
	return &SMTPSender{config: config}
}

// Send delivers one email
func (s *SMTPSender) Send(ctx context.Context, email Email) error {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", s.config.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", email.To))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", email.Subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(email.HTML)

	addr := s.config.Host + ":" + s.config.Port
	auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	if err := smtp.SendMail(addr, auth, s.config.From, []string{email.To}, []byte(msg.String())); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", email.To, err)
	}
	return nil
}

// LogSender logs instead of delivering. Used in development and tests.
type LogSender struct {
	logger *observability.Logger
}

// NewLogSender creates a new LogSender
func NewLogSender(logger *observability.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the email
func (s *LogSender) Send(ctx context.Context, email Email) error {
	s.logger.WithField("to", email.To).WithField("subject", email.Subject).Info("email (log sender)")
	return nil
}

// Bulk delivery runs in batches of 50 with a pause between batches so a
// large run does not trip provider rate limits.
const (
	bulkBatchSize    = 50
	defaultBulkPause = 10 * time.Second
)

// Notifier wraps a Sender with logging and batching
type Notifier struct {
	sender    Sender
	logger    *observability.Logger
	bulkPause time.Duration
}

// NewNotifier creates a new Notifier
func NewNotifier(sender Sender, logger *observability.Logger) *Notifier {
	return &Notifier{
		sender:    sender,
		logger:    logger,
		bulkPause: defaultBulkPause,
	}
}

// Send delivers one email; failures are logged and swallowed
func (n *Notifier) Send(ctx context.Context, email Email) bool {
	if err := n.sender.Send(ctx, email); err != nil {
		n.logger.WithError(err).WithField("to", email.To).Error("email send failed")
		return false
	}
	return true
}

// SendBulk delivers emails in batches, pausing between batches. Returns how
// many sends succeeded. Stops early when the context is cancelled.
func (n *Notifier) SendBulk(ctx context.Context, emails []Email) int {
	sent := 0
	for start := 0; start < len(emails); start += bulkBatchSize {
		end := start + bulkBatchSize
		if end > len(emails) {
			end = len(emails)
		}

		for _, email := range emails[start:end] {
			if n.Send(ctx, email) {
				sent++
			}
		}

		if end < len(emails) {
			select {
			case <-time.After(n.bulkPause):
			case <-ctx.Done():
				return sent
			}
		}
	}
	return sent
}
