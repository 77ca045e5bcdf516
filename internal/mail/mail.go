// Package mail sends transactional email.
//
// Every email in this application is a best-effort side effect: callers log
// a failed Send and carry on, so a mail outage never fails a registration
// or a form submission.
package mail

import (
	"context"
	"log/slog"
	"strings"
)

// Message is a single HTML email.
type Message struct {
	To      []string
	Subject string
	HTML    string
	ReplyTo string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log instead of delivering them. It is
// used when no mail provider is configured (local development, tests).
type LogSender struct {
	logger *slog.Logger
}

var _ Sender = (*LogSender)(nil)

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("email not sent (no mail provider configured)",
		slog.String("to", strings.Join(msg.To, ",")),
		slog.String("subject", msg.Subject),
		slog.Int("html_bytes", len(msg.HTML)),
	)
	return nil
}
