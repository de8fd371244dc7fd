package pubsub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/propagation"

	"github.com/JakeFAU/newsfeeds/internal/newsfeed"
	"github.com/JakeFAU/newsfeeds/internal/queue"
	"github.com/JakeFAU/newsfeeds/internal/retry"
	"github.com/JakeFAU/newsfeeds/internal/telemetry"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, msg *pubsub.Message) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

type fakeReceiver struct {
	data [][]byte
	err  error
}

func (f *fakeReceiver) Receive(ctx context.Context, fn func(context.Context, *pubsub.Message)) error {
	for _, d := range f.data {
		fn(ctx, &pubsub.Message{Data: d})
	}
	return f.err
}

func policy(attempts int) *retry.Policy {
	return retry.New(retry.Config{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond})
}

func task(id string) queue.Task {
	return queue.Task{
		ID:      id,
		Name:    queue.DefaultTaskName,
		Kwargs:  newsfeed.WorkItem{Company: "Acme", Source: "Reuters"},
		Attempt: 1,
	}
}

func encode(t *testing.T, tk queue.Task) []byte {
	t.Helper()
	data, err := tk.Encode()
	require.NoError(t, err)
	return data
}

func TestSubmitPublishesTask(t *testing.T) {
	t.Parallel()

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(msg *pubsub.Message) bool {
		got, err := queue.Decode(msg.Data)
		return err == nil && got.ID == "t-1" && msg.Attributes["task_id"] == "t-1"
	})).Return("server-1", nil).Once()

	b, err := New(pub, nil, policy(1), nil)
	require.NoError(t, err)

	receipt, err := b.Submit(context.Background(), task("t-1"))
	require.NoError(t, err)
	assert.Equal(t, queue.Receipt{TaskID: "t-1", Status: queue.StatusPending}, receipt)
	pub.AssertExpectations(t)
}

func TestSubmitPropagatesPublishError(t *testing.T) {
	t.Parallel()

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return("", errors.New("unavailable"))

	b, err := New(pub, nil, nil, nil)
	require.NoError(t, err)
	_, err = b.Submit(context.Background(), task("t-1"))
	require.ErrorContains(t, err, "unavailable")
}

func TestHandleAcksSuccess(t *testing.T) {
	t.Parallel()

	pub := &mockPublisher{}
	b, err := New(pub, nil, policy(3), nil)
	require.NoError(t, err)

	ack := b.handle(context.Background(), encode(t, task("t-1")), nil, func(context.Context, queue.Task) error {
		return nil
	})
	assert.True(t, ack)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestHandleRepublishesRetryableFailure(t *testing.T) {
	t.Parallel()

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(msg *pubsub.Message) bool {
		got, err := queue.Decode(msg.Data)
		return err == nil && got.Attempt == 2
	})).Return("server-2", nil).Once()

	b, err := New(pub, nil, policy(3), nil)
	require.NoError(t, err)

	ack := b.handle(context.Background(), encode(t, task("t-1")), nil, func(context.Context, queue.Task) error {
		return &newsfeed.ProviderError{Op: "request", Err: errors.New("reset")}
	})
	assert.True(t, ack)
	pub.AssertExpectations(t)
}

func TestHandleNacksWhenRepublishFails(t *testing.T) {
	t.Parallel()

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return("", errors.New("unavailable"))

	b, err := New(pub, nil, policy(3), nil)
	require.NoError(t, err)

	ack := b.handle(context.Background(), encode(t, task("t-1")), nil, func(context.Context, queue.Task) error {
		return &newsfeed.ProviderError{Op: "request", Err: errors.New("reset")}
	})
	assert.False(t, ack)
}

func TestHandleAcksPermanentFailureAndPoison(t *testing.T) {
	t.Parallel()

	b, err := New(&mockPublisher{}, nil, policy(3), nil)
	require.NoError(t, err)

	ack := b.handle(context.Background(), encode(t, task("t-1")), nil, func(context.Context, queue.Task) error {
		return newsfeed.Validationf("bad")
	})
	assert.True(t, ack)

	called := false
	ack = b.handle(context.Background(), []byte("garbage"), nil, func(context.Context, queue.Task) error {
		called = true
		return nil
	})
	assert.True(t, ack)
	assert.False(t, called)
}

func TestTraceContextRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(telemetry.Propagator())
	t.Cleanup(func() { otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator()) })

	member, err := baggage.NewMember("request_id", "r-42")
	require.NoError(t, err)
	bag, err := baggage.New(member)
	require.NoError(t, err)
	ctx := baggage.ContextWithBaggage(context.Background(), bag)

	var captured *pubsub.Message
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		captured = args.Get(1).(*pubsub.Message)
	}).Return("id", nil)

	b, err := New(pub, nil, policy(1), nil)
	require.NoError(t, err)
	_, err = b.Submit(ctx, task("t-1"))
	require.NoError(t, err)
	require.NotNil(t, captured)
	assert.Contains(t, captured.Attributes["baggage"], "request_id=r-42")

	var seen string
	b.handle(context.Background(), captured.Data, captured.Attributes, func(ctx context.Context, _ queue.Task) error {
		seen = baggage.FromContext(ctx).Member("request_id").Value()
		return nil
	})
	assert.Equal(t, "r-42", seen)
}

func TestConsumeDelivers(t *testing.T) {
	t.Parallel()

	recv := &fakeReceiver{data: [][]byte{encode(t, task("a")), encode(t, task("b"))}}
	b, err := New(&mockPublisher{}, recv, policy(1), nil)
	require.NoError(t, err)

	var mu sync.Mutex
	var ids []string
	require.NoError(t, b.Consume(context.Background(), 2, func(_ context.Context, tk queue.Task) error {
		mu.Lock()
		ids = append(ids, tk.ID)
		mu.Unlock()
		return nil
	}))
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestConsumeErrors(t *testing.T) {
	t.Parallel()

	b, err := New(&mockPublisher{}, nil, nil, nil)
	require.NoError(t, err)
	require.Error(t, b.Consume(context.Background(), 1, nil))

	b, err = New(&mockPublisher{}, &fakeReceiver{err: errors.New("permission denied")}, nil, nil)
	require.NoError(t, err)
	require.ErrorContains(t, b.Consume(context.Background(), 1, nil), "permission denied")

	b, err = New(&mockPublisher{}, &fakeReceiver{err: context.Canceled}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, b.Consume(context.Background(), 1, nil))
}

func TestNewRequiresPublisher(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil, nil, nil)
	require.Error(t, err)
}

func TestCloseWithoutClient(t *testing.T) {
	t.Parallel()

	b, err := New(&mockPublisher{}, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, b.Close())
}
