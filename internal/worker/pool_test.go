package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/newsfeeds/internal/newsfeed"
	"github.com/JakeFAU/newsfeeds/internal/objectstore/memory"
	"github.com/JakeFAU/newsfeeds/internal/queue"
	qmemory "github.com/JakeFAU/newsfeeds/internal/queue/memory"
	"github.com/JakeFAU/newsfeeds/internal/retry"
)

func TestPoolRunsTasksFromBroker(t *testing.T) {
	t.Parallel()

	h := newHarness(t, memory.New("news", 0))
	broker := qmemory.New(8, retry.New(retry.Config{MaxAttempts: 1}), zap.NewNop())
	pool, err := NewPool(broker, h.exec, PoolConfig{Concurrency: 2}, zap.NewNop())
	require.NoError(t, err)

	for _, source := range []string{"Reuters", "CNBC"} {
		_, err := broker.Submit(context.Background(), queue.Task{
			ID:      source,
			Name:    queue.DefaultTaskName,
			Kwargs:  newsfeed.WorkItem{Company: "Acme", Source: source},
			Attempt: 1,
		})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	require.Eventually(t, func() bool {
		companies, err := h.store.ListSources(context.Background(), "Acme")
		return err == nil && len(companies) == 2
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestPoolHandleReturnsExecutorError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, memory.New("news", 0))
	h.provider.err = &newsfeed.ProviderError{Op: "search", StatusCode: 404, Err: errors.New("missing")}
	pool, err := NewPool(qmemory.New(1, nil, nil), h.exec, PoolConfig{}, nil)
	require.NoError(t, err)

	err = pool.Handle(context.Background(), queue.Task{
		ID:      "t-1",
		Kwargs:  newsfeed.WorkItem{Company: "Acme", Source: "Reuters"},
		Attempt: 1,
	})
	var perr *newsfeed.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Len(t, h.dead.Entries(), 1)
}

func TestNewPoolRequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := NewPool(nil, nil, PoolConfig{Concurrency: 1}, nil)
	require.Error(t, err)
}

func TestPoolWarnsOnlyForOtherTaskNames(t *testing.T) {
	t.Parallel()

	h := newHarness(t, memory.New("news", 0))
	core, logs := observer.New(zap.WarnLevel)
	pool, err := NewPool(qmemory.New(1, nil, nil), h.exec, PoolConfig{TaskName: "custom.fetch"}, zap.New(core))
	require.NoError(t, err)

	for _, name := range []string{"custom.fetch", "", queue.DefaultTaskName} {
		require.NoError(t, pool.Handle(context.Background(), queue.Task{
			ID:      "t-" + name,
			Name:    name,
			Kwargs:  newsfeed.WorkItem{Company: "Acme", Source: "Reuters"},
			Attempt: 1,
		}))
	}

	warned := logs.FilterMessage("unexpected task name").All()
	require.Len(t, warned, 1)
	assert.Equal(t, queue.DefaultTaskName, warned[0].ContextMap()["task"])
}
