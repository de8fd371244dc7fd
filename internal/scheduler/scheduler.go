// Package scheduler periodically enqueues every (company, source) pair in the
// catalog.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newsfeeds/internal/dispatcher"
	"github.com/JakeFAU/newsfeeds/internal/newsfeed"
)

// DefaultInterval is the pause between passes.
const DefaultInterval = 4 * time.Hour

// Submitter enqueues one item.
type Submitter interface {
	Submit(ctx context.Context, item newsfeed.WorkItem) (dispatcher.Submission, error)
}

// Report summarizes one pass.
type Report struct {
	Enqueued int
	Failed   int
}

// Scheduler reads the catalog and submits its pairs.
type Scheduler struct {
	catalog   newsfeed.Catalog
	submitter Submitter
	interval  time.Duration
	logger    *zap.Logger
}

// New constructs a Scheduler.
func New(catalog newsfeed.Catalog, submitter Submitter, interval time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if catalog == nil || submitter == nil {
		return nil, errors.New("scheduler requires catalog and submitter")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{catalog: catalog, submitter: submitter, interval: interval, logger: logger.Named("scheduler")}, nil
}

// RunOnce enqueues every catalog pair. A failed submission is logged and
// counted; only a catalog read failure aborts the pass.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	entries, err := s.catalog.ListCompaniesWithSources(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("read catalog: %w", err)
	}

	var report Report
	for _, entry := range entries {
		for _, source := range entry.Sources {
			item := newsfeed.WorkItem{Company: entry.Company, Source: source}
			sub, err := s.submitter.Submit(ctx, item)
			if err != nil {
				report.Failed++
				s.logger.Error("enqueue failed",
					zap.String("company", entry.Company), zap.String("source", source), zap.Error(err))
				continue
			}
			report.Enqueued++
			s.logger.Info("enqueued task",
				zap.String("company", sub.Company), zap.String("source", sub.Source), zap.String("task_id", sub.TaskID))
		}
	}
	s.logger.Info("scheduler pass complete", zap.Int("enqueued", report.Enqueued), zap.Int("failed", report.Failed))
	return report, nil
}

// Run executes a pass immediately and then once per interval until ctx ends.
// Pass errors are logged and retried on the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler starting", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("scheduler pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}
