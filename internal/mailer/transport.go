package mailer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quill-blog/apiserver/config"
	"github.com/quill-blog/apiserver/internal/mq"
)

// NewSender builds the Sender for the configured transport. Queue senders
// own a broker connection and implement io.Closer.
func NewSender(ctx context.Context, cfg config.MailConfig, logger *slog.Logger) (Sender, error) {
	switch cfg.Transport {
	case config.MailTransportSMTP:
		return NewSMTPSender(cfg.SMTP)
	case config.MailTransportRabbitMQ, config.MailTransportPubSub:
		queue, err := mq.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewQueueSender(queue, cfg.Queue), nil
	case config.MailTransportLog:
		return NewLogSender(logger), nil
	default:
		return nil, fmt.Errorf("unknown mail transport %q", cfg.Transport)
	}
}
