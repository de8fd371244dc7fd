package app

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsfeeds/internal/clock/system"
	"github.com/JakeFAU/newsfeeds/internal/config"
	"github.com/JakeFAU/newsfeeds/internal/newsfeed"
	"github.com/JakeFAU/newsfeeds/internal/objectstore"
	objmemory "github.com/JakeFAU/newsfeeds/internal/objectstore/memory"
	"github.com/JakeFAU/newsfeeds/internal/provider/stub"
	"github.com/JakeFAU/newsfeeds/internal/queue"
)

func testConfig(t *testing.T, providerURL string) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Provider.BaseURL = providerURL
	cfg.Provider.Timeout = time.Second
	cfg.Storage.Backend = config.BackendMemory
	cfg.DeadLetter.Backend = config.BackendMemory
	cfg.Queue.Backend = config.BackendMemory
	cfg.Queue.Retry.MaxAttempts = 1
	cfg.Worker.Concurrency = 2
	cfg.Worker.ProviderLimit = 3
	return cfg
}

func items(t *testing.T, pairs ...[2]string) []newsfeed.WorkItem {
	t.Helper()
	out := make([]newsfeed.WorkItem, 0, len(pairs))
	for _, p := range pairs {
		item, err := newsfeed.NewWorkItem(p[0], p[1])
		require.NoError(t, err)
		out = append(out, item)
	}
	return out
}

func runPool(t *testing.T, a *App) context.CancelFunc {
	t.Helper()
	pool, err := a.Pool(context.Background(), 0)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()
	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

func TestPipelineWithMemoryBackends(t *testing.T) {
	t.Parallel()

	search := httptest.NewServer(stub.New(system.New(), zap.NewNop()).Handler())
	defer search.Close()

	a := New(testConfig(t, search.URL), zap.NewNop())
	defer func() { require.NoError(t, a.Close()) }()
	ctx := context.Background()

	d, err := a.Dispatcher(ctx)
	require.NoError(t, err)
	subs, err := d.Enqueue(ctx, items(t, [2]string{"Acme", "Reuters"}, [2]string{"Acme", "Yahoo Finance"}))
	require.NoError(t, err)
	require.Len(t, subs, 2)

	stop := runPool(t, a)
	store, err := a.Store(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		sources, err := store.ListSources(ctx, "Acme")
		return err == nil && len(sources) == 2
	}, 5*time.Second, 10*time.Millisecond)
	stop()

	srv, err := a.APIServer(ctx)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/companies/Acme", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body newsfeed.CompanyArticles
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.SourceCount)
	assert.Equal(t, 6, body.TotalArticlesAvailable)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWorkerCreatesMissingBucket(t *testing.T) {
	t.Parallel()

	search := httptest.NewServer(stub.New(system.New(), zap.NewNop()).Handler())
	defer search.Close()

	a := New(testConfig(t, search.URL), zap.NewNop())
	defer func() { require.NoError(t, a.Close()) }()
	bucket := objmemory.NewMissing("newsfeeds", 0)
	a.store = objectstore.New(bucket, objectstore.Options{}, zap.NewNop())
	ctx := context.Background()

	d, err := a.Dispatcher(ctx)
	require.NoError(t, err)
	_, err = d.Enqueue(ctx, items(t, [2]string{"Acme", "Reuters"}))
	require.NoError(t, err)

	stop := runPool(t, a)
	require.Eventually(t, func() bool {
		_, found, err := a.store.Get(ctx, "Acme", "Reuters")
		return err == nil && found
	}, 5*time.Second, 10*time.Millisecond)
	stop()

	dead, err := a.DeadLetters(ctx)
	require.NoError(t, err)
	entries, err := dead.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAPIServerCreatesMissingBucket(t *testing.T) {
	t.Parallel()

	a := New(testConfig(t, "http://localhost:8002"), zap.NewNop())
	a.store = objectstore.New(objmemory.NewMissing("newsfeeds", 0), objectstore.Options{}, zap.NewNop())

	srv, err := a.APIServer(context.Background())
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTracingInstallsPropagatorOnce(t *testing.T) {
	t.Parallel()

	a := New(testConfig(t, "http://localhost:8002"), zap.NewNop())
	ctx := context.Background()
	first, err := a.Tracing(ctx)
	require.NoError(t, err)
	second, err := a.Tracing(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.ElementsMatch(t, []string{"traceparent", "tracestate", "baggage"}, otel.GetTextMapPropagator().Fields())

	require.Len(t, a.closers, 1)
	assert.Equal(t, "tracer", a.closers[0].name)
	require.NoError(t, a.Close())
}

func TestFailedFetchIsDeadLetteredInRedis(t *testing.T) {
	t.Parallel()

	redisSrv := miniredis.RunT(t)
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	cfg := testConfig(t, down.URL)
	cfg.Redis.URL = "redis://" + redisSrv.Addr()
	cfg.Queue.Backend = config.BackendRedis
	cfg.Queue.PollTimeout = 50 * time.Millisecond
	cfg.DeadLetter.Backend = config.BackendRedis

	a := New(cfg, zap.NewNop())
	defer func() { require.NoError(t, a.Close()) }()
	ctx := context.Background()

	d, err := a.Dispatcher(ctx)
	require.NoError(t, err)
	_, err = d.Enqueue(ctx, items(t, [2]string{"Acme", "Reuters"}))
	require.NoError(t, err)

	stop := runPool(t, a)
	dead, err := a.DeadLetters(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		entries, err := dead.Recent(ctx, 10)
		return err == nil && len(entries) == 1
	}, 5*time.Second, 10*time.Millisecond)
	stop()

	entries, err := dead.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, newsfeed.StageSearchAPI, entries[0].Stage)
	assert.Equal(t, "Acme", entries[0].Company)
}

func TestTasksCarryBrokerDestination(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "http://localhost:8002")
	cfg.Queue.Name = "newsfeeds-dev"
	a := New(cfg, zap.NewNop())
	ctx := context.Background()

	d, err := a.Dispatcher(ctx)
	require.NoError(t, err)
	_, err = d.Enqueue(ctx, items(t, [2]string{"Acme", "Reuters"}))
	require.NoError(t, err)

	broker, err := a.Broker(ctx)
	require.NoError(t, err)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var seen queue.Task
	require.NoError(t, broker.Consume(runCtx, 1, func(_ context.Context, task queue.Task) error {
		seen = task
		cancel()
		return nil
	}))
	assert.Equal(t, "newsfeeds-dev", seen.RoutingKey)
	assert.Equal(t, cfg.Queue.TaskName, seen.Name)
}

func TestUnknownBackendsFail(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "http://localhost:8002")
	cfg.Storage.Backend = "ftp"
	cfg.DeadLetter.Backend = "sqs"
	cfg.Queue.Backend = "rabbit"
	a := New(cfg, nil)
	ctx := context.Background()

	_, err := a.Store(ctx)
	require.Error(t, err)
	_, err = a.DeadLetters(ctx)
	require.Error(t, err)
	_, err = a.Broker(ctx)
	require.Error(t, err)
	assert.NoError(t, a.Close())
}

func TestComponentsAreBuiltOnce(t *testing.T) {
	t.Parallel()

	a := New(testConfig(t, "http://localhost:8002"), nil)
	ctx := context.Background()

	first, err := a.Broker(ctx)
	require.NoError(t, err)
	second, err := a.Broker(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)

	store, err := a.Store(ctx)
	require.NoError(t, err)
	again, err := a.Store(ctx)
	require.NoError(t, err)
	assert.Same(t, store, again)
	assert.Len(t, a.closers, 1)
}

func TestCloseRunsInReverseAndJoinsErrors(t *testing.T) {
	t.Parallel()

	a := New(config.Config{}, nil)
	var order []string
	boom := errors.New("boom")
	a.onClose("first", func() error { order = append(order, "first"); return nil })
	a.onClose("second", func() error { order = append(order, "second"); return boom })

	err := a.Close()
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "close second")
	assert.Equal(t, []string{"second", "first"}, order)
	assert.NoError(t, a.Close())
}

func TestServeListenerStopsOnCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := HTTPServer(0, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ServeListener(ctx, srv, ln, zap.NewNop()) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String())
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusNoContent
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
