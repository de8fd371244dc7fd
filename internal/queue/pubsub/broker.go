// Package pubsub implements the broker on Google Cloud Pub/Sub. Trace context
// travels in message attributes.
package pubsub

import (
	"context"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsfeeds/internal/metrics"
	"github.com/JakeFAU/newsfeeds/internal/queue"
	"github.com/JakeFAU/newsfeeds/internal/retry"
)

const backendName = "pubsub"

// Config identifies the topic and subscription. Set PUBSUB_EMULATOR_HOST to
// target the emulator.
type Config struct {
	ProjectID    string
	Topic        string
	Subscription string
}

// Publisher sends one message and waits for the server ID.
type Publisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) (string, error)
}

// Receiver streams messages to f until ctx ends. *pubsub.Subscriber satisfies it.
type Receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// Broker publishes tasks to a topic and consumes them from a subscription.
type Broker struct {
	publisher Publisher
	receiver  Receiver
	policy    *retry.Policy
	logger    *zap.Logger
	closers   []func() error
}

// New wires a broker from its parts. receiver may be nil for producers.
func New(publisher Publisher, receiver Receiver, policy *retry.Policy, logger *zap.Logger) (*Broker, error) {
	if publisher == nil {
		return nil, errors.New("pubsub publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		publisher: publisher,
		receiver:  receiver,
		policy:    policy,
		logger:    logger.Named("pubsub_broker"),
	}, nil
}

// Dial connects to Pub/Sub and checks that the topic is active.
func Dial(ctx context.Context, cfg Config, policy *retry.Policy, logger *zap.Logger) (*Broker, error) {
	if cfg.ProjectID == "" || cfg.Topic == "" {
		return nil, errors.New("pubsub project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topicName := fmt.Sprintf("projects/%s/topics/%s", cfg.ProjectID, cfg.Topic)
	topic, err := client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: topicName})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("get pubsub topic %q: %w", cfg.Topic, err)
	}
	if topic.GetState() != pubsubpb.Topic_ACTIVE {
		_ = client.Close()
		return nil, fmt.Errorf("pubsub topic %q is not active in project %q", cfg.Topic, cfg.ProjectID)
	}

	pub := client.Publisher(topicName)
	var receiver Receiver
	if cfg.Subscription != "" {
		receiver = client.Subscriber(cfg.Subscription)
	}
	b, err := New(&topicPublisher{publisher: pub}, receiver, policy, logger)
	if err != nil {
		pub.Stop()
		_ = client.Close()
		return nil, err
	}
	b.closers = append(b.closers,
		func() error { pub.Stop(); return nil },
		client.Close,
	)
	return b, nil
}

// Submit publishes the task and waits for the server to accept it.
func (b *Broker) Submit(ctx context.Context, task queue.Task) (queue.Receipt, error) {
	if err := b.publish(ctx, task); err != nil {
		return queue.Receipt{}, err
	}
	return queue.Receipt{TaskID: task.ID, Status: queue.StatusPending}, nil
}

func (b *Broker) publish(ctx context.Context, task queue.Task) error {
	data, err := task.Encode()
	if err != nil {
		return err
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"task":    task.Name,
			"task_id": task.ID,
		},
	}
	otel.GetTextMapPropagator().Inject(ctx, &carrier{attrs: msg.Attributes})
	if _, err := b.publisher.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish task %s: %w", task.ID, err)
	}
	return nil
}

// Consume receives until ctx ends. Pub/Sub flow control bounds concurrency
// when the receiver is a *pubsub.Subscriber.
func (b *Broker) Consume(ctx context.Context, concurrency int, handler queue.Handler) error {
	if b.receiver == nil {
		return errors.New("pubsub subscription is not configured")
	}
	if sub, ok := b.receiver.(*pubsub.Subscriber); ok && concurrency > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = concurrency
	}
	err := b.receiver.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if b.handle(ctx, msg.Data, msg.Attributes, handler) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("receive: %w", err)
	}
	return nil
}

// handle runs one delivery and reports whether it should be acked.
func (b *Broker) handle(ctx context.Context, data []byte, attrs map[string]string, handler queue.Handler) bool {
	ctx = otel.GetTextMapPropagator().Extract(ctx, &carrier{attrs: attrs})
	task, err := queue.Decode(data)
	if err != nil {
		b.logger.Error("dropping undecodable task", zap.Error(err))
		return true
	}

	outcome, wait := queue.Decide(b.policy, task, handler(ctx, task))
	if outcome == queue.Ack {
		return true
	}
	if !queue.Sleep(ctx, wait) {
		return false
	}
	if err := b.publish(ctx, task.Next()); err != nil {
		b.logger.Error("redelivery failed", zap.String("task_id", task.ID), zap.Error(err))
		return false
	}
	metrics.ObserveRedelivery(backendName)
	return true
}

// Close flushes the publisher and closes the client when Dial created it.
func (b *Broker) Close() error {
	var errs []error
	for _, c := range b.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close pubsub broker: %w", err)
	}
	return nil
}

type topicPublisher struct {
	publisher *pubsub.Publisher
}

func (p *topicPublisher) Publish(ctx context.Context, msg *pubsub.Message) (string, error) {
	id, err := p.publisher.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// carrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type carrier struct {
	attrs map[string]string
}

func (c *carrier) Get(key string) string {
	return c.attrs[key]
}

func (c *carrier) Set(key, value string) {
	if c.attrs == nil {
		c.attrs = make(map[string]string)
	}
	c.attrs[key] = value
}

func (c *carrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
