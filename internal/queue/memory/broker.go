// Package memory provides an in-process broker for local development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/newsfeeds/internal/metrics"
	"github.com/JakeFAU/newsfeeds/internal/queue"
	"github.com/JakeFAU/newsfeeds/internal/retry"
)

const backendName = "memory"

// Broker is a bounded channel with context-aware operations. Tasks are lost
// when the process exits.
type Broker struct {
	ch     chan queue.Task
	done   chan struct{}
	policy *retry.Policy
	logger *zap.Logger

	closeOnce sync.Once
	retries   sync.WaitGroup
}

// New constructs a broker holding up to capacity pending tasks.
func New(capacity int, policy *retry.Policy, logger *zap.Logger) *Broker {
	if capacity <= 0 {
		capacity = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		ch:     make(chan queue.Task, capacity),
		done:   make(chan struct{}),
		policy: policy,
		logger: logger.Named("memory_broker"),
	}
}

// Submit enqueues the task or returns when the context ends.
func (b *Broker) Submit(ctx context.Context, task queue.Task) (queue.Receipt, error) {
	select {
	case <-b.done:
		return queue.Receipt{}, queue.ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return queue.Receipt{}, fmt.Errorf("submit canceled: %w", ctx.Err())
	case <-b.done:
		return queue.Receipt{}, queue.ErrClosed
	case b.ch <- task:
		return queue.Receipt{TaskID: task.ID, Status: queue.StatusPending}, nil
	}
}

// Len reports how many tasks are waiting.
func (b *Broker) Len() int {
	return len(b.ch)
}

// Consume runs concurrency workers until ctx ends or the broker closes.
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
	b.retries.Wait()
	return nil
}

func (b *Broker) loop(ctx context.Context, handler queue.Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case task := <-b.ch:
			b.deliver(ctx, task, handler)
		}
	}
}

func (b *Broker) deliver(ctx context.Context, task queue.Task, handler queue.Handler) {
	err := handler(ctx, task)
	outcome, wait := queue.Decide(b.policy, task, err)
	if outcome != queue.Redeliver {
		return
	}
	next := task.Next()
	b.retries.Add(1)
	go func() {
		defer b.retries.Done()
		if !queue.Sleep(ctx, wait) {
			b.logger.Warn("redelivery abandoned", zap.String("task_id", task.ID), zap.Int("attempt", next.Attempt))
			return
		}
		if _, err := b.Submit(ctx, next); err != nil {
			b.logger.Warn("redelivery failed", zap.String("task_id", task.ID), zap.Error(err))
			return
		}
		metrics.ObserveRedelivery(backendName)
	}()
}

// Close stops consumers and rejects further submissions. Safe to call twice.
func (b *Broker) Close() error {
	b.closeOnce.Do(func() { close(b.done) })
	return nil
}
