// Package worker executes fetch tasks: call the search provider, persist the
// result, and dead-letter any failure with the stage it happened in.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsfeeds/internal/logging"
	"github.com/JakeFAU/newsfeeds/internal/metrics"
	"github.com/JakeFAU/newsfeeds/internal/newsfeed"
	"github.com/JakeFAU/newsfeeds/internal/telemetry"
)

const (
	// DefaultExecutionTimeout bounds one provider call plus one store write.
	DefaultExecutionTimeout = time.Minute
	deadLetterTimeout       = 10 * time.Second
)

// Config controls executor behavior.
type Config struct {
	ProviderLimit    int
	ExecutionTimeout time.Duration
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// Executor runs one WorkItem to completion.
type Executor struct {
	provider    newsfeed.Provider
	store       newsfeed.ResultStore
	deadLetters newsfeed.DeadLetterRecorder
	clock       newsfeed.Clock
	cfg         Config
	tracer      trace.Tracer
	logger      *zap.Logger
}

// NewExecutor constructs an Executor.
func NewExecutor(
	provider newsfeed.Provider,
	store newsfeed.ResultStore,
	deadLetters newsfeed.DeadLetterRecorder,
	clock newsfeed.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Executor, error) {
	if provider == nil || store == nil || deadLetters == nil || clock == nil {
		return nil, errors.New("executor requires provider, store, dead-letter recorder, and clock")
	}
	if cfg.ProviderLimit <= 0 {
		cfg.ProviderLimit = 5
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = DefaultExecutionTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Executor{
		provider:    provider,
		store:       store,
		deadLetters: deadLetters,
		clock:       clock,
		cfg:         cfg,
		tracer:      tp.Tracer(telemetry.TracerName),
		logger:      logger.Named("executor"),
	}, nil
}

// Execute fetches and stores one pair. Once started, the provider call and
// the store write ignore cancellation of ctx and are bounded by
// ExecutionTimeout instead. Every failure is dead-lettered and returned
// unchanged, joined with the dead-letter error if that write also failed.
func (e *Executor) Execute(ctx context.Context, item newsfeed.WorkItem) (newsfeed.ExecutionResult, error) {
	log := e.logger.With(logging.ItemFields(item)...)
	if err := item.Validate(); err != nil {
		metrics.ObserveExecution("invalid")
		log.Warn("rejecting invalid work item", zap.Error(err))
		return newsfeed.ExecutionResult{}, err
	}

	ctx, span := e.tracer.Start(ctx, "newsfeeds.execute", trace.WithAttributes(
		attribute.String("newsfeeds.company", item.Company),
		attribute.String("newsfeeds.source", item.Source),
	))
	defer span.End()

	startedAt := e.clock.Now().UTC()
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.ExecutionTimeout)
	defer cancel()

	log.Debug("calling search provider", zap.Int("limit", e.cfg.ProviderLimit))
	result, err := e.provider.Search(runCtx, item.Company, item.Source, e.cfg.ProviderLimit)
	if err != nil {
		return newsfeed.ExecutionResult{}, e.fail(ctx, span, log, item, newsfeed.StageSearchAPI, startedAt, err)
	}

	result = result.WithDefaults(item, e.clock.Now())
	key, err := e.store.Put(runCtx, item.Company, item.Source, result)
	if err != nil {
		return newsfeed.ExecutionResult{}, e.fail(ctx, span, log, item, newsfeed.StageStorage, startedAt, err)
	}

	out := newsfeed.ExecutionResult{
		Status:        newsfeed.StatusSuccess,
		Company:       item.Company,
		Source:        item.Source,
		ObjectPath:    key,
		ArticlesCount: len(result.Articles),
		StartedAt:     startedAt,
		FinishedAt:    e.clock.Now().UTC(),
	}
	span.SetAttributes(
		attribute.String("newsfeeds.object_path", key),
		attribute.Int("newsfeeds.articles", out.ArticlesCount),
	)
	metrics.ObserveExecution(string(newsfeed.StatusSuccess))
	log.Info("stored search result",
		zap.String("object_path", key),
		zap.Int("articles", out.ArticlesCount),
		zap.Duration("elapsed", out.FinishedAt.Sub(startedAt)),
	)
	return out, nil
}

func (e *Executor) fail(
	ctx context.Context,
	span trace.Span,
	log *zap.Logger,
	item newsfeed.WorkItem,
	stage newsfeed.Stage,
	startedAt time.Time,
	cause error,
) error {
	span.RecordError(cause)
	span.SetStatus(codes.Error, string(stage))
	metrics.ObserveExecution("dead_lettered")
	metrics.ObserveDeadLetter(string(stage))
	log.Error("execution failed", zap.String("stage", string(stage)), zap.Error(cause))

	dlCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deadLetterTimeout)
	defer cancel()
	err := e.deadLetters.Record(dlCtx, newsfeed.DeadLetterEntry{
		Company:   item.Company,
		Source:    item.Source,
		Error:     cause.Error(),
		Stage:     stage,
		StartedAt: startedAt,
	})
	if err != nil {
		log.Error("dead letter write failed", zap.String("stage", string(stage)), zap.Error(err))
		return errors.Join(cause, fmt.Errorf("record dead letter: %w", err))
	}
	return cause
}
