// Package dispatcher turns batches of (company, source) pairs into queued
// fetch tasks.
package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/newsfeeds/internal/metrics"
	"github.com/JakeFAU/newsfeeds/internal/newsfeed"
	"github.com/JakeFAU/newsfeeds/internal/queue"
)

// Config fixes the task name and routing key every submission carries.
type Config struct {
	TaskName   string
	RoutingKey string
	// Backend labels the enqueue metric.
	Backend string
}

// Submission reports one accepted task.
type Submission struct {
	Company string       `json:"company"`
	Source  string       `json:"source"`
	TaskID  string       `json:"task_id"`
	Status  queue.Status `json:"status"`
}

// Dispatcher submits work items to a broker without waiting for execution.
type Dispatcher struct {
	broker queue.Broker
	ids    newsfeed.IDGenerator
	clock  newsfeed.Clock
	cfg    Config
	logger *zap.Logger
}

// New creates a Dispatcher.
func New(broker queue.Broker, ids newsfeed.IDGenerator, clock newsfeed.Clock, cfg Config, logger *zap.Logger) (*Dispatcher, error) {
	if broker == nil || ids == nil || clock == nil {
		return nil, errors.New("dispatcher requires broker, id generator, and clock")
	}
	if cfg.TaskName == "" {
		cfg.TaskName = queue.DefaultTaskName
	}
	if cfg.RoutingKey == "" {
		cfg.RoutingKey = queue.DefaultRoutingKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{broker: broker, ids: ids, clock: clock, cfg: cfg, logger: logger.Named("dispatcher")}, nil
}

// Enqueue validates the whole batch before submitting anything, then submits
// one task per item in order. If the broker rejects a submission midway, the
// submissions accepted so far are returned with the error.
func (d *Dispatcher) Enqueue(ctx context.Context, items []newsfeed.WorkItem) ([]Submission, error) {
	if len(items) == 0 {
		return nil, newsfeed.Validationf("no work items to enqueue")
	}
	clean := make([]newsfeed.WorkItem, 0, len(items))
	for i, item := range items {
		normalized, err := newsfeed.NewWorkItem(item.Company, item.Source)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		clean = append(clean, normalized)
	}

	out := make([]Submission, 0, len(clean))
	for _, item := range clean {
		sub, err := d.submit(ctx, item)
		if err != nil {
			metrics.ObserveEnqueued(d.cfg.Backend, len(out))
			return out, err
		}
		out = append(out, sub)
	}
	metrics.ObserveEnqueued(d.cfg.Backend, len(out))
	d.logger.Info("enqueued batch", zap.Int("tasks", len(out)))
	return out, nil
}

// Submit enqueues a single item. Scheduler passes use it to keep going past
// per-pair failures.
func (d *Dispatcher) Submit(ctx context.Context, item newsfeed.WorkItem) (Submission, error) {
	normalized, err := newsfeed.NewWorkItem(item.Company, item.Source)
	if err != nil {
		return Submission{}, err
	}
	sub, err := d.submit(ctx, normalized)
	if err != nil {
		return Submission{}, err
	}
	metrics.ObserveEnqueued(d.cfg.Backend, 1)
	return sub, nil
}

func (d *Dispatcher) submit(ctx context.Context, item newsfeed.WorkItem) (Submission, error) {
	id, err := d.ids.NewID()
	if err != nil {
		return Submission{}, fmt.Errorf("generate task id: %w", err)
	}
	receipt, err := d.broker.Submit(ctx, queue.Task{
		ID:          id,
		Name:        d.cfg.TaskName,
		RoutingKey:  d.cfg.RoutingKey,
		Kwargs:      item,
		Attempt:     1,
		SubmittedAt: d.clock.Now().UTC(),
	})
	if err != nil {
		return Submission{}, fmt.Errorf("submit %s: %w", item, err)
	}
	d.logger.Debug("task submitted",
		zap.String("task_id", receipt.TaskID),
		zap.String("company", item.Company),
		zap.String("source", item.Source),
	)
	return Submission{
		Company: item.Company,
		Source:  item.Source,
		TaskID:  receipt.TaskID,
		Status:  receipt.Status,
	}, nil
}
