// Package redis implements the broker on Redis lists.
//
// Producers LPUSH encoded tasks onto the queue key. Consumers atomically move
// each task to a processing list with BLMOVE and remove it once handled, so a
// crashed worker leaves its task behind for RecoverInflight.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsfeeds/internal/metrics"
	"github.com/JakeFAU/newsfeeds/internal/queue"
	"github.com/JakeFAU/newsfeeds/internal/retry"
)

const (
	backendName        = "redis"
	processingSuffix   = ":processing"
	defaultPollTimeout = time.Second
	errorBackoff       = time.Second
)

// Config names the queue and controls polling.
type Config struct {
	// Key is the list tasks are pushed to. Defaults to queue.DefaultRoutingKey.
	Key string
	// PollTimeout bounds each blocking pop so consumers notice shutdown.
	PollTimeout time.Duration
}

// Broker is a Redis-list backed queue.
type Broker struct {
	client     goredis.Cmdable
	key        string
	processing string
	poll       time.Duration
	policy     *retry.Policy
	logger     *zap.Logger
	closed     atomic.Bool
}

// New wraps an existing client. The caller owns the client's lifecycle.
func New(client goredis.Cmdable, cfg Config, policy *retry.Policy, logger *zap.Logger) (*Broker, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Key == "" {
		cfg.Key = queue.DefaultRoutingKey
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		client:     client,
		key:        cfg.Key,
		processing: cfg.Key + processingSuffix,
		poll:       cfg.PollTimeout,
		policy:     policy,
		logger:     logger.Named("redis_broker"),
	}, nil
}

// Key returns the queue list name.
func (b *Broker) Key() string { return b.key }

// ProcessingKey returns the in-flight list name.
func (b *Broker) ProcessingKey() string { return b.processing }

// Submit pushes the encoded task onto the queue.
func (b *Broker) Submit(ctx context.Context, task queue.Task) (queue.Receipt, error) {
	if b.closed.Load() {
		return queue.Receipt{}, queue.ErrClosed
	}
	data, err := task.Encode()
	if err != nil {
		return queue.Receipt{}, err
	}
	if err := b.client.LPush(ctx, b.key, data).Err(); err != nil {
		return queue.Receipt{}, fmt.Errorf("push task %s: %w", task.ID, err)
	}
	return queue.Receipt{TaskID: task.ID, Status: queue.StatusPending}, nil
}

// Len reports pending and in-flight counts.
func (b *Broker) Len(ctx context.Context) (pending, inflight int64, err error) {
	pending, err = b.client.LLen(ctx, b.key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("queue length: %w", err)
	}
	inflight, err = b.client.LLen(ctx, b.processing).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("processing length: %w", err)
	}
	return pending, inflight, nil
}

// RecoverInflight moves every task left in the processing list back to the
// head of the queue and returns how many were moved. Call it before starting
// consumers, never while other workers share the queue.
func (b *Broker) RecoverInflight(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := b.client.LMove(ctx, b.processing, b.key, "RIGHT", "RIGHT").Err()
		if errors.Is(err, goredis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("recover in-flight tasks: %w", err)
		}
		moved++
	}
}

// Consume runs concurrency pollers until ctx ends or the broker closes.
func (b *Broker) Consume(ctx context.Context, concurrency int, handler queue.Handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.loop(ctx, handler)
		}()
	}
	wg.Wait()
	return nil
}

func (b *Broker) loop(ctx context.Context, handler queue.Handler) {
	for ctx.Err() == nil && !b.closed.Load() {
		raw, err := b.client.BLMove(ctx, b.key, b.processing, "RIGHT", "LEFT", b.poll).Result()
		switch {
		case errors.Is(err, goredis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("pop task failed", zap.Error(err))
			queue.Sleep(ctx, errorBackoff)
			continue
		}
		b.deliver(ctx, raw, handler)
	}
}

func (b *Broker) deliver(ctx context.Context, raw string, handler queue.Handler) {
	task, err := queue.Decode([]byte(raw))
	if err != nil {
		b.logger.Error("dropping undecodable task", zap.Error(err))
		b.ack(ctx, raw)
		return
	}

	outcome, wait := queue.Decide(b.policy, task, handler(ctx, task))
	if outcome == queue.Ack {
		b.ack(ctx, raw)
		return
	}
	if !queue.Sleep(ctx, wait) {
		// Left in the processing list for RecoverInflight.
		return
	}
	if err := b.requeue(ctx, raw, task.Next()); err != nil {
		b.logger.Error("redelivery failed", zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	metrics.ObserveRedelivery(backendName)
}

func (b *Broker) ack(ctx context.Context, raw string) {
	ctx = context.WithoutCancel(ctx)
	if err := b.client.LRem(ctx, b.processing, 1, raw).Err(); err != nil {
		b.logger.Warn("ack failed", zap.Error(err))
	}
}

func (b *Broker) requeue(ctx context.Context, raw string, next queue.Task) error {
	data, err := next.Encode()
	if err != nil {
		return err
	}
	pipe := b.client.TxPipeline()
	pipe.LPush(ctx, b.key, data)
	pipe.LRem(ctx, b.processing, 1, raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("requeue task %s: %w", next.ID, err)
	}
	return nil
}

// Close stops pollers after their current pop and rejects submissions.
func (b *Broker) Close() error {
	b.closed.Store(true)
	return nil
}
