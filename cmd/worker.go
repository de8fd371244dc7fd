package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/newsfeeds/internal/app"
	"github.com/JakeFAU/newsfeeds/internal/metrics"
	"github.com/JakeFAU/newsfeeds/internal/scheduler"
)

func newWorkerCmd() *cobra.Command {
	var (
		concurrency   int
		metricsPort   int
		withScheduler bool
	)
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume fetch tasks from the queue",
		Long: `Runs a pool of workers that take (company, source) tasks from the
configured broker, call the search API and persist the result. Failures are
dead-lettered and redelivered according to queue.retry.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if concurrency < 0 {
				return errors.New("--concurrency must be >= 0")
			}
			return runWorker(cmd.Context(), a, concurrency, metricsPort, withScheduler)
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "worker goroutines (default worker.concurrency)")
	cmd.Flags().IntVar(&metricsPort, "metrics-port", 0, "serve /metrics on this port (0 disables)")
	cmd.Flags().BoolVar(&withScheduler, "with-scheduler", false, "also run the catalog scheduler in this process")
	return cmd
}

func runWorker(ctx context.Context, a *app.App, concurrency, metricsPort int, withScheduler bool) error {
	logger := a.Logger().Named("worker")
	pool, err := a.Pool(ctx, concurrency)
	if err != nil {
		return err
	}

	var sched *scheduler.Scheduler
	if withScheduler {
		if sched, err = a.Scheduler(ctx); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 2)
	background := 0

	if metricsPort > 0 {
		r := chi.NewRouter()
		r.Handle("/metrics", metrics.Handler())
		background++
		go func() {
			errCh <- app.Serve(ctx, app.HTTPServer(metricsPort, r), logger.Named("metrics"))
		}()
	}
	if sched != nil {
		background++
		go func() { errCh <- sched.Run(ctx) }()
	}

	logger.Info("worker pool starting")
	runErr := pool.Run(ctx)
	cancel()
	var errs []error
	if runErr != nil {
		errs = append(errs, fmt.Errorf("worker pool: %w", runErr))
	}
	for i := 0; i < background; i++ {
		if err := <-errCh; err != nil {
			errs = append(errs, err)
		}
	}
	logger.Info("worker pool stopped")
	return errors.Join(errs...)
}
