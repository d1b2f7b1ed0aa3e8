package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/quill-blog/apiserver/internal/mq"
)

// QueueSender publishes messages to a broker for the mail worker to deliver.
type QueueSender struct {
	queue   *mq.MQ
	channel string
}

func NewQueueSender(queue *mq.MQ, channel string) *QueueSender {
	return &QueueSender{queue: queue, channel: channel}
}

func (q *QueueSender) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := q.queue.Publish(ctx, q.channel, data, map[string]string{mq.ContentTypeAttr: "application/json"}); err != nil {
		return fmt.Errorf("enqueue mail: %w", err)
	}
	return nil
}

func (q *QueueSender) Close() error {
	return q.queue.Close()
}

// Worker drains the mail queue into a Sender.
type Worker struct {
	queue   *mq.MQ
	channel string
	sender  Sender
	logger  *slog.Logger
}

func NewWorker(queue *mq.MQ, channel string, sender Sender, logger *slog.Logger) *Worker {
	return &Worker{
		queue:   queue,
		channel: channel,
		sender:  sender,
		logger:  logger,
	}
}

// Run blocks until ctx is done or the subscription fails. Messages that fail
// to send are returned to the broker for redelivery; undecodable ones are
// dropped.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("mail worker started", "channel", w.channel)
	err := w.queue.Subscribe(ctx, w.channel, w.handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) handle(ctx context.Context, m mq.Message) error {
	var msg Message
	if err := json.Unmarshal(m.Data, &msg); err != nil {
		w.logger.Error("dropping undecodable mail message", "id", m.ID, "error", err)
		return nil
	}
	if err := w.sender.Send(ctx, msg); err != nil {
		w.logger.Warn("mail delivery failed", "id", m.ID, "to", msg.To, "error", err)
		return err
	}
	w.logger.Info("mail delivered", "id", m.ID, "to", msg.To, "subject", msg.Subject)
	return nil
}
