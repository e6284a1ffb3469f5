// Package email delivers plain-text alert mail. The integrity monitor uses
// it to page a duty address when a custody chain breaks.
package email

import (
	"context"

	"go.uber.org/zap"
)

// Sender delivers a plain-text message.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogSender writes alerts to the log instead of delivering them.
// Use in development or when SMTP is not configured.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a LogSender backed by the given logger.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the alert and returns nil.
func (l *LogSender) Send(_ context.Context, to, subject, body string) error {
	l.logger.Info("alert mail (not sent — SMTP not configured)",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.String("body", body),
	)
	return nil
}
