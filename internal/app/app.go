// Package app builds the long-lived services selected by configuration and
// releases them on shutdown. Components are created on first use so each
// command only connects to the backends it needs.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsfeeds/internal/aggregate"
	"github.com/JakeFAU/newsfeeds/internal/api"
	"github.com/JakeFAU/newsfeeds/internal/catalog"
	"github.com/JakeFAU/newsfeeds/internal/clock/system"
	"github.com/JakeFAU/newsfeeds/internal/config"
	dlmemory "github.com/JakeFAU/newsfeeds/internal/deadletter/memory"
	dlredis "github.com/JakeFAU/newsfeeds/internal/deadletter/redis"
	"github.com/JakeFAU/newsfeeds/internal/dispatcher"
	"github.com/JakeFAU/newsfeeds/internal/id/uuid"
	"github.com/JakeFAU/newsfeeds/internal/newsfeed"
	"github.com/JakeFAU/newsfeeds/internal/objectstore"
	"github.com/JakeFAU/newsfeeds/internal/objectstore/gcs"
	objmemory "github.com/JakeFAU/newsfeeds/internal/objectstore/memory"
	objs3 "github.com/JakeFAU/newsfeeds/internal/objectstore/s3"
	"github.com/JakeFAU/newsfeeds/internal/provider"
	"github.com/JakeFAU/newsfeeds/internal/queue"
	"github.com/JakeFAU/newsfeeds/internal/queue/kafka"
	qmemory "github.com/JakeFAU/newsfeeds/internal/queue/memory"
	qpubsub "github.com/JakeFAU/newsfeeds/internal/queue/pubsub"
	qredis "github.com/JakeFAU/newsfeeds/internal/queue/redis"
	"github.com/JakeFAU/newsfeeds/internal/redisconn"
	"github.com/JakeFAU/newsfeeds/internal/retry"
	"github.com/JakeFAU/newsfeeds/internal/scheduler"
	"github.com/JakeFAU/newsfeeds/internal/telemetry"
	"github.com/JakeFAU/newsfeeds/internal/worker"
)

const readHeaderTimeout = 5 * time.Second

// DeadLetters records and lists failed executions.
type DeadLetters interface {
	newsfeed.DeadLetterRecorder
	newsfeed.DeadLetterReader
}

// App holds the configured services. It is not safe for concurrent
// construction; commands build what they need before starting goroutines.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  newsfeed.Clock

	redis       *goredis.Client
	store       *objectstore.Client
	deadLetters DeadLetters
	broker      queue.Broker
	catalog     *catalog.Store
	provider    *provider.Client
	tracer      *sdktrace.TracerProvider

	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// New creates an App for cfg. Nothing is connected until first use.
func New(cfg config.Config, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{cfg: cfg, logger: logger, clock: system.New()}
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// Redis returns the shared Redis client.
func (a *App) Redis(ctx context.Context) (*goredis.Client, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	client, err := redisconn.Connect(ctx, a.cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("redis init failed: %w", err)
	}
	a.redis = client
	a.onClose("redis", client.Close)
	return client, nil
}

// Store returns the object store for the configured backend.
func (a *App) Store(ctx context.Context) (*objectstore.Client, error) {
	if a.store != nil {
		return a.store, nil
	}
	bucket, err := a.bucket(ctx)
	if err != nil {
		return nil, err
	}
	a.store = objectstore.New(bucket, objectstore.Options{
		Timeout:  a.cfg.Storage.Timeout,
		MaxPages: a.cfg.Storage.MaxPages,
	}, a.logger)
	a.logger.Info("object store ready",
		zap.String("backend", a.cfg.Storage.Backend),
		zap.String("bucket", bucket.Name()),
	)
	return a.store, nil
}

func (a *App) bucket(ctx context.Context) (objectstore.Bucket, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendS3:
		client, err := objs3.NewClient(ctx, a.cfg.Storage.S3Bucket())
		if err != nil {
			return nil, fmt.Errorf("s3 client init failed: %w", err)
		}
		bucket, err := objs3.New(client, a.cfg.Storage.S3Bucket())
		if err != nil {
			return nil, fmt.Errorf("s3 bucket init failed: %w", err)
		}
		return bucket, nil
	case config.BackendGCS:
		client, err := gcs.NewClient(ctx, a.cfg.Storage.GCSBucket())
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.onClose("gcs", client.Close)
		bucket, err := gcs.New(client, a.cfg.Storage.GCSBucket())
		if err != nil {
			return nil, fmt.Errorf("gcs bucket init failed: %w", err)
		}
		return bucket, nil
	case config.BackendMemory:
		a.logger.Warn("using in-memory object store; results do not outlive the process")
		return objmemory.New(a.cfg.Storage.Bucket, a.cfg.Storage.PageSize), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", a.cfg.Storage.Backend)
	}
}

// DeadLetters returns the dead-letter list for the configured backend.
func (a *App) DeadLetters(ctx context.Context) (DeadLetters, error) {
	if a.deadLetters != nil {
		return a.deadLetters, nil
	}
	switch a.cfg.DeadLetter.Backend {
	case config.BackendRedis:
		client, err := a.Redis(ctx)
		if err != nil {
			return nil, err
		}
		recorder, err := dlredis.New(client, a.cfg.DeadLetter.Key, a.clock)
		if err != nil {
			return nil, fmt.Errorf("dead-letter init failed: %w", err)
		}
		a.deadLetters = recorder
	case config.BackendMemory:
		a.logger.Warn("using in-memory dead-letter list")
		a.deadLetters = dlmemory.New(a.clock)
	default:
		return nil, fmt.Errorf("unknown dead-letter backend: %s", a.cfg.DeadLetter.Backend)
	}
	return a.deadLetters, nil
}

// Tracing installs the global tracer provider and trace context propagator.
// The provider is flushed on Close.
func (a *App) Tracing(ctx context.Context) (*sdktrace.TracerProvider, error) {
	if a.tracer != nil {
		return a.tracer, nil
	}
	tp, err := telemetry.InitTracerProvider(ctx, a.cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.tracer = tp
	a.onClose("tracer", func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tp.Shutdown(shutdownCtx)
	})
	return tp, nil
}

// RetryPolicy returns the broker redelivery policy.
func (a *App) RetryPolicy() *retry.Policy {
	return retry.New(a.cfg.Queue.Retry)
}

// Broker returns the task broker for the configured backend.
func (a *App) Broker(ctx context.Context) (queue.Broker, error) {
	if a.broker != nil {
		return a.broker, nil
	}
	policy := a.RetryPolicy()
	qc := a.cfg.Queue
	var (
		broker queue.Broker
		err    error
	)
	switch qc.Backend {
	case config.BackendRedis:
		var client *goredis.Client
		client, err = a.Redis(ctx)
		if err != nil {
			return nil, err
		}
		broker, err = qredis.New(client, qredis.Config{Key: qc.Name, PollTimeout: qc.PollTimeout}, policy, a.logger)
	case config.BackendMemory:
		a.logger.Warn("using in-memory broker; tasks are only visible to this process")
		broker = qmemory.New(qc.Capacity, policy, a.logger)
	case config.BackendPubSub:
		if _, terr := a.Tracing(ctx); terr != nil {
			return nil, terr
		}
		broker, err = qpubsub.Dial(ctx, qpubsub.Config{
			ProjectID:    qc.PubSub.ProjectID,
			Topic:        qc.PubSub.Topic,
			Subscription: qc.PubSub.Subscription,
		}, policy, a.logger)
	case config.BackendKafka:
		broker, err = kafka.Dial(kafka.Config{
			Brokers: qc.Kafka.Brokers,
			Topic:   qc.Kafka.Topic,
			GroupID: qc.Kafka.GroupID,
		}, policy, a.logger)
	default:
		return nil, fmt.Errorf("unknown queue backend: %s", qc.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("%s broker init failed: %w", qc.Backend, err)
	}
	a.broker = broker
	a.onClose("broker", broker.Close)
	a.logger.Info("broker ready", zap.String("backend", qc.Backend))
	return broker, nil
}

// Catalog returns the Postgres catalog.
func (a *App) Catalog(ctx context.Context) (*catalog.Store, error) {
	if a.catalog != nil {
		return a.catalog, nil
	}
	store, err := catalog.Connect(ctx, catalog.Config{
		DSN:             a.cfg.Catalog.DSN,
		MaxConns:        a.cfg.Catalog.MaxConns,
		MinConns:        a.cfg.Catalog.MinConns,
		MaxConnLifetime: a.cfg.Catalog.MaxConnLifetime,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("catalog init failed: %w", err)
	}
	a.catalog = store
	a.onClose("catalog", func() error { store.Close(); return nil })
	return store, nil
}

// Provider returns the search API client.
func (a *App) Provider() (*provider.Client, error) {
	if a.provider != nil {
		return a.provider, nil
	}
	client, err := provider.New(a.cfg.Provider, nil, a.logger)
	if err != nil {
		return nil, fmt.Errorf("provider init failed: %w", err)
	}
	a.provider = client
	return client, nil
}

// Dispatcher builds the enqueue front end over the configured broker.
func (a *App) Dispatcher(ctx context.Context) (*dispatcher.Dispatcher, error) {
	broker, err := a.Broker(ctx)
	if err != nil {
		return nil, err
	}
	return dispatcher.New(broker, uuid.New(), a.clock, dispatcher.Config{
		TaskName:   a.cfg.Queue.TaskName,
		RoutingKey: a.cfg.Queue.RoutingKey(),
		Backend:    a.cfg.Queue.Backend,
	}, a.logger)
}

// Executor builds the fetch executor from the provider, store and
// dead-letter list.
func (a *App) Executor(ctx context.Context) (*worker.Executor, error) {
	client, err := a.Provider()
	if err != nil {
		return nil, err
	}
	store, err := a.Store(ctx)
	if err != nil {
		return nil, err
	}
	deadLetters, err := a.DeadLetters(ctx)
	if err != nil {
		return nil, err
	}
	tp, err := a.Tracing(ctx)
	if err != nil {
		return nil, err
	}
	return worker.NewExecutor(client, store, deadLetters, a.clock, worker.Config{
		ProviderLimit:    a.cfg.Worker.ProviderLimit,
		ExecutionTimeout: a.cfg.Worker.ExecutionTimeout,
		TracerProvider:   tp,
	}, a.logger)
}

// Pool builds the worker pool with concurrency goroutines, or
// worker.concurrency when it is zero. For the Redis broker it first moves
// tasks left in flight by a crashed worker back onto the queue.
func (a *App) Pool(ctx context.Context, concurrency int) (*worker.Pool, error) {
	if concurrency <= 0 {
		concurrency = a.cfg.Worker.Concurrency
	}
	executor, err := a.Executor(ctx)
	if err != nil {
		return nil, err
	}
	broker, err := a.Broker(ctx)
	if err != nil {
		return nil, err
	}
	if rb, ok := broker.(*qredis.Broker); ok {
		n, err := rb.RecoverInflight(ctx)
		if err != nil {
			return nil, fmt.Errorf("recover in-flight tasks: %w", err)
		}
		if n > 0 {
			a.logger.Warn("requeued in-flight tasks", zap.Int("count", n))
		}
	}
	a.ensureBucket(ctx)
	a.logger.Info("worker pool ready", zap.Int("concurrency", concurrency))
	return worker.NewPool(broker, executor, worker.PoolConfig{
		Concurrency: concurrency,
		TaskName:    a.cfg.Queue.TaskName,
	}, a.logger)
}

// Scheduler builds the periodic enqueue loop over the catalog.
func (a *App) Scheduler(ctx context.Context) (*scheduler.Scheduler, error) {
	cat, err := a.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	d, err := a.Dispatcher(ctx)
	if err != nil {
		return nil, err
	}
	return scheduler.New(cat, d, a.cfg.Scheduler.Interval, a.logger)
}

// APIServer builds the read API over the object store with readiness
// checks for every backend it depends on.
func (a *App) APIServer(ctx context.Context) (*api.Server, error) {
	store, err := a.Store(ctx)
	if err != nil {
		return nil, err
	}
	a.ensureBucket(ctx)
	reader, err := aggregate.New(store)
	if err != nil {
		return nil, err
	}
	checks := map[string]api.ReadyCheck{"storage": store.Ping}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}
	return api.NewServer(reader, checks, api.Config{RequestTimeout: a.cfg.Server.RequestTimeout}, a.logger), nil
}

// ensureBucket creates the configured bucket when it is missing. A failure
// only warns; writes then fail as storage errors and readiness reports it.
func (a *App) ensureBucket(ctx context.Context) {
	store, err := a.Store(ctx)
	if err != nil {
		a.logger.Warn("bucket check skipped", zap.Error(err))
		return
	}
	if _, err := store.EnsureBucket(ctx); err != nil {
		a.logger.Warn("bucket init failed", zap.String("bucket", store.Bucket()), zap.Error(err))
	}
}

// HTTPServer wraps handler in an http.Server listening on port.
func HTTPServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// Close releases every service in reverse creation order and flushes the
// logger.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("close failed", zap.String("service", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
