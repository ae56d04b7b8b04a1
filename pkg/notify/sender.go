package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/Itqan-community/cms-backend-sub002/pkg/observability"
)

// Sender delivers a composed notification to its recipients
type Sender interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// SMTPSender sends mail through a plain SMTP relay
type SMTPSender struct {
	addr string
	from string
}

// NewSMTPSender creates a sender for the given relay address
func NewSMTPSender(addr, from string) *SMTPSender {
	return &SMTPSender{addr: addr, from: from}
}

// Send delivers a message. The context deadline is not honored by
// net/smtp itself; the dispatcher bounds each attempt instead.
func (s *SMTPSender) Send(_ context.Context, to []string, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		s.from, strings.Join(to, ", "), subject, body)
	if err := smtp.SendMail(s.addr, nil, s.from, to, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}

// LogSender writes notifications to the log instead of delivering them.
// Used in development and tests.
type LogSender struct {
	logger *observability.Logger
}

// NewLogSender creates a log-only sender
func NewLogSender(logger *observability.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the notification
func (s *LogSender) Send(_ context.Context, to []string, subject, _ string) error {
	s.logger.WithFields(map[string]interface{}{
		"to":      strings.Join(to, ","),
		"subject": subject,
	}).Info("notification (log sender)")
	return nil
}
