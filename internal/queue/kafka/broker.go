// Package kafka implements the broker on a Kafka topic with a consumer group.
//
// Offsets are marked only after a task is acked or its redelivery has been
// produced, so an interrupted backoff replays the message after a rebalance.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsfeeds/internal/metrics"
	"github.com/JakeFAU/newsfeeds/internal/queue"
	"github.com/JakeFAU/newsfeeds/internal/retry"
)

const backendName = "kafka"

// Config identifies the cluster, topic, and consumer group.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Broker produces tasks synchronously and consumes them as a group member.
type Broker struct {
	producer sarama.SyncProducer
	group    sarama.ConsumerGroup
	topic    string
	policy   *retry.Policy
	logger   *zap.Logger
}

// New wires a broker from existing clients. group may be nil for producers.
func New(producer sarama.SyncProducer, group sarama.ConsumerGroup, topic string, policy *retry.Policy, logger *zap.Logger) (*Broker, error) {
	if producer == nil {
		return nil, errors.New("kafka producer is required")
	}
	if topic == "" {
		topic = queue.DefaultRoutingKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		producer: producer,
		group:    group,
		topic:    topic,
		policy:   policy,
		logger:   logger.Named("kafka_broker"),
	}, nil
}

// NewSaramaConfig returns the client settings both sides share.
func NewSaramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_6_0_0
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true
	return cfg
}

// Dial connects a producer and, when GroupID is set, a consumer group.
func Dial(cfg Config, policy *retry.Policy, logger *zap.Logger) (*Broker, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	scfg := NewSaramaConfig()
	producer, err := sarama.NewSyncProducer(cfg.Brokers, scfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	var group sarama.ConsumerGroup
	if cfg.GroupID != "" {
		group, err = sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, scfg)
		if err != nil {
			_ = producer.Close()
			return nil, fmt.Errorf("create kafka consumer group: %w", err)
		}
	}
	return New(producer, group, cfg.Topic, policy, logger)
}

// Submit produces the task keyed by company so a company's tasks share a
// partition.
func (b *Broker) Submit(_ context.Context, task queue.Task) (queue.Receipt, error) {
	if err := b.produce(task); err != nil {
		return queue.Receipt{}, err
	}
	return queue.Receipt{TaskID: task.ID, Status: queue.StatusPending}, nil
}

func (b *Broker) produce(task queue.Task) error {
	data, err := task.Encode()
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: b.topic,
		Key:   sarama.StringEncoder(task.Kwargs.Company),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("task"), Value: []byte(task.Name)},
			{Key: []byte("task_id"), Value: []byte(task.ID)},
		},
	}
	if _, _, err := b.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("produce task %s: %w", task.ID, err)
	}
	return nil
}

// Consume joins the group and processes claims until ctx ends. At most
// concurrency handlers run at once across all claimed partitions.
func (b *Broker) Consume(ctx context.Context, concurrency int, handler queue.Handler) error {
	if b.group == nil {
		return errors.New("kafka consumer group is not configured")
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	gh := &groupHandler{broker: b, handler: handler, slots: make(chan struct{}, concurrency)}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range b.group.Errors() {
			b.logger.Warn("consumer group error", zap.Error(err))
		}
	}()
	defer func() {
		if err := b.group.Close(); err != nil {
			b.logger.Warn("close consumer group", zap.Error(err))
		}
		b.group = nil
		wg.Wait()
	}()

	for {
		if err := b.group.Consume(ctx, []string{b.topic}, gh); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("consume %s: %w", b.topic, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close closes the producer and any consumer group not already closed.
func (b *Broker) Close() error {
	var errs []error
	if b.group != nil {
		if err := b.group.Close(); err != nil {
			errs = append(errs, err)
		}
		b.group = nil
	}
	if err := b.producer.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close kafka broker: %w", err)
	}
	return nil
}

// groupHandler implements sarama.ConsumerGroupHandler.
type groupHandler struct {
	broker  *Broker
	handler queue.Handler
	slots   chan struct{}
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim handles one partition in offset order.
func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok || msg == nil {
				return nil
			}
			mark, err := h.process(ctx, msg)
			if err != nil {
				return err
			}
			if !mark {
				return nil
			}
			session.MarkMessage(msg, "")
		}
	}
}

// process reports whether the message's offset may be committed.
func (h *groupHandler) process(ctx context.Context, msg *sarama.ConsumerMessage) (bool, error) {
	b := h.broker
	task, err := queue.Decode(msg.Value)
	if err != nil {
		b.logger.Error("dropping undecodable task",
			zap.Int32("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err))
		return true, nil
	}

	select {
	case h.slots <- struct{}{}:
	case <-ctx.Done():
		return false, nil
	}
	herr := h.handler(ctx, task)
	<-h.slots

	outcome, wait := queue.Decide(b.policy, task, herr)
	if outcome == queue.Ack {
		return true, nil
	}
	if !queue.Sleep(ctx, wait) {
		return false, nil
	}
	if err := b.produce(task.Next()); err != nil {
		return false, fmt.Errorf("redeliver task %s: %w", task.ID, err)
	}
	metrics.ObserveRedelivery(backendName)
	return true, nil
}
