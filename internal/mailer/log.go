package mailer

import (
	"context"
	"log/slog"
)

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (l *LogSender) Send(ctx context.Context, msg Message) error {
	l.logger.InfoContext(ctx, "mail", "to", msg.To, "subject", msg.Subject, "html", msg.HTML)
	return nil
}
