// Package queue defines the task envelope and the broker contract shared by
// the producer side (dispatcher) and the consumer side (worker pool).
//
// Delivery is at-least-once. A broker owns redelivery: when a handler fails
// with a retryable error the broker resubmits the task with Attempt+1 after
// the policy's backoff, otherwise it acknowledges and drops it.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/newsfeeds/internal/newsfeed"
	"github.com/JakeFAU/newsfeeds/internal/retry"
)

const (
	// DefaultTaskName identifies fetch tasks on the wire.
	DefaultTaskName = "newsfeeds.fetch_article"
	// DefaultRoutingKey is the single queue every fetch task is routed to.
	DefaultRoutingKey = "newsfeeds"
)

// ErrClosed is returned when submitting to a closed broker.
var ErrClosed = errors.New("broker closed")

// Status is the state reported for a submitted task.
type Status string

// StatusPending is the initial state of every accepted task.
const StatusPending Status = "PENDING"

// Task is the wire envelope for one WorkItem.
type Task struct {
	ID          string            `json:"id"`
	Name        string            `json:"task"`
	RoutingKey  string            `json:"routing_key"`
	Kwargs      newsfeed.WorkItem `json:"kwargs"`
	Attempt     int               `json:"attempt"`
	SubmittedAt time.Time         `json:"submitted_at"`
}

// Encode serializes the task.
func (t Task) Encode() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}
	return data, nil
}

// Decode parses a task and validates its kwargs.
func Decode(data []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return Task{}, fmt.Errorf("decode task: %w", errors.Join(newsfeed.ErrValidation, err))
	}
	if err := t.Kwargs.Validate(); err != nil {
		return Task{}, fmt.Errorf("decode task %s: %w", t.ID, err)
	}
	if t.Attempt < 1 {
		t.Attempt = 1
	}
	return t, nil
}

// Next returns the redelivery of t.
func (t Task) Next() Task {
	t.Attempt++
	return t
}

// Receipt is returned by Submit without waiting for execution.
type Receipt struct {
	TaskID string
	Status Status
}

// Handler executes one delivered task.
type Handler func(ctx context.Context, task Task) error

// Broker moves tasks from producers to consumers.
type Broker interface {
	// Submit enqueues task and returns once the broker has accepted it.
	Submit(ctx context.Context, task Task) (Receipt, error)
	// Consume delivers tasks to handler on up to concurrency goroutines and
	// blocks until ctx ends or the broker fails.
	Consume(ctx context.Context, concurrency int, handler Handler) error
	// Close releases broker resources.
	Close() error
}

// Outcome is what a broker should do with a delivery after the handler ran.
type Outcome int

const (
	// Ack marks the delivery complete.
	Ack Outcome = iota
	// Redeliver resubmits the task with the next attempt number.
	Redeliver
)

// Decide applies the retry policy to a handler result and returns the
// outcome plus the backoff to wait before redelivering.
func Decide(policy *retry.Policy, task Task, err error) (Outcome, time.Duration) {
	if err == nil || policy == nil || !policy.ShouldRetry(err, task.Attempt) {
		return Ack, 0
	}
	return Redeliver, policy.Backoff(task.Attempt)
}

// Sleep waits for d or until ctx ends, reporting whether the full wait elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
