package mq

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/quill-blog/apiserver/config"
	"google.golang.org/api/option"
)

// DeliveryAttemptAttr is set on received messages when the subscription
// tracks delivery attempts.
const DeliveryAttemptAttr = "delivery-attempt"

const (
	defaultContentType      = "application/octet-stream"
	mailAckDeadline         = 60 * time.Second
	mailOutstandingMessages = 16
)

// PubSubClient publishes to and consumes from Google Cloud Pub/Sub topics.
// Each topic is consumed through one subscription shared by every worker.
type PubSubClient struct {
	client             *pubsub.Client
	subscriptionSuffix string
}

// NewPubSubClient constructs a Pub/Sub client from config.
func NewPubSubClient(ctx context.Context, cfg config.PubSubConfig) (*PubSubClient, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("pubsub project id is required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, err
	}

	suffix := cfg.SubscriptionSuffix
	if suffix == "" {
		suffix = config.DefaultSubscriptionSuffix
	}

	return &PubSubClient{
		client:             client,
		subscriptionSuffix: suffix,
	}, nil
}

// Publish sends a message to the named topic, creating the topic on first use.
func (p *PubSubClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("pubsub channel is required")
	}

	topic, err := p.ensureTopic(ctx, channel)
	if err != nil {
		return "", err
	}
	result := topic.Publish(ctx, toPubSubMessage(data, attrs))
	return result.Get(ctx)
}

// Subscribe consumes messages from the topic's mail worker subscription until
// ctx is done. Handler errors nack the message for redelivery.
func (p *PubSubClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("pubsub channel is required")
	}

	topic, err := p.ensureTopic(ctx, channel)
	if err != nil {
		return err
	}

	sub, err := p.ensureSubscription(ctx, p.subscriptionName(channel), topic)
	if err != nil {
		return err
	}
	sub.ReceiveSettings.MaxOutstandingMessages = mailOutstandingMessages

	return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if err := handler(ctx, fromPubSubMessage(msg)); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Close closes the underlying Pub/Sub client.
func (p *PubSubClient) Close() error {
	return p.client.Close()
}

func (p *PubSubClient) ensureTopic(ctx context.Context, name string) (*pubsub.Topic, error) {
	topic := p.client.Topic(name)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return p.client.CreateTopic(ctx, name)
	}
	return topic, nil
}

func (p *PubSubClient) ensureSubscription(ctx context.Context, name string, topic *pubsub.Topic) (*pubsub.Subscription, error) {
	sub := p.client.Subscription(name)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return p.client.CreateSubscription(ctx, name, pubsub.SubscriptionConfig{
			Topic:       topic,
			AckDeadline: mailAckDeadline,
		})
	}
	return sub, nil
}

func (p *PubSubClient) subscriptionName(channel string) string {
	return channel + p.subscriptionSuffix
}

// toPubSubMessage carries attrs as Pub/Sub attributes. Empty values are
// dropped and the content type defaults to application/octet-stream.
func toPubSubMessage(data []byte, attrs map[string]string) *pubsub.Message {
	attributes := map[string]string{ContentTypeAttr: defaultContentType}
	for key, value := range attrs {
		if key == "" || value == "" {
			continue
		}
		attributes[key] = value
	}
	return &pubsub.Message{Data: data, Attributes: attributes}
}

func fromPubSubMessage(msg *pubsub.Message) Message {
	message := Message{
		ID:   msg.ID,
		Data: msg.Data,
	}
	if len(msg.Attributes) > 0 || msg.DeliveryAttempt != nil {
		message.Attributes = make(map[string]string, len(msg.Attributes)+1)
	}
	for key, value := range msg.Attributes {
		message.Attributes[key] = value
	}
	if msg.DeliveryAttempt != nil {
		message.Attributes[DeliveryAttemptAttr] = strconv.Itoa(*msg.DeliveryAttempt)
	}
	return message
}
