package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/newsfeeds/internal/metrics"
	"github.com/JakeFAU/newsfeeds/internal/queue"
)

// PoolConfig controls a Pool.
type PoolConfig struct {
	// Concurrency below one means one.
	Concurrency int
	// TaskName is the name producers submit under; other names are still
	// run but logged. Empty means queue.DefaultTaskName.
	TaskName string
}

// Pool consumes tasks from a broker and runs them through an Executor.
type Pool struct {
	broker      queue.Broker
	executor    *Executor
	concurrency int
	taskName    string
	logger      *zap.Logger
}

// NewPool constructs a Pool.
func NewPool(broker queue.Broker, executor *Executor, cfg PoolConfig, logger *zap.Logger) (*Pool, error) {
	if broker == nil || executor == nil {
		return nil, errors.New("pool requires broker and executor")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.TaskName == "" {
		cfg.TaskName = queue.DefaultTaskName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		broker:      broker,
		executor:    executor,
		concurrency: cfg.Concurrency,
		taskName:    cfg.TaskName,
		logger:      logger.Named("worker_pool"),
	}, nil
}

// Run blocks until ctx ends or the broker fails.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool starting", zap.Int("concurrency", p.concurrency))
	if err := p.broker.Consume(ctx, p.concurrency, p.Handle); err != nil {
		return fmt.Errorf("consume tasks: %w", err)
	}
	p.logger.Info("worker pool stopped")
	return nil
}

// Handle adapts Execute to queue.Handler.
func (p *Pool) Handle(ctx context.Context, task queue.Task) error {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	log := p.logger.With(zap.String("task_id", task.ID), zap.Int("attempt", task.Attempt))
	if task.Name != "" && task.Name != p.taskName {
		log.Warn("unexpected task name", zap.String("task", task.Name))
	}
	result, err := p.executor.Execute(ctx, task.Kwargs)
	if err != nil {
		return err
	}
	log.Debug("task finished", zap.String("object_path", result.ObjectPath))
	return nil
}
