package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsfeeds/internal/retry"
)

func newInitBucketCmd() *cobra.Command {
	var (
		attempts int
		delay    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "init-bucket",
		Short: "Create the storage bucket if it is missing",
		Long: `Ensures the configured bucket exists, retrying with a fixed delay while
the object store (for example a local MinIO container) is still starting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if attempts < 1 || delay < 0 {
				return errors.New("--attempts must be >= 1 and --delay must not be negative")
			}
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			store, err := a.Store(cmd.Context())
			if err != nil {
				return err
			}
			logger := a.Logger().With(zap.String("bucket", store.Bucket()))

			policy := retry.New(retry.Config{
				MaxAttempts:    attempts,
				InitialBackoff: delay,
				MaxBackoff:     delay,
				Multiplier:     1,
			})
			var created bool
			err = retry.Do(cmd.Context(), policy, func(ctx context.Context, attempt int) error {
				var err error
				created, err = store.EnsureBucket(ctx)
				if err != nil && attempt < attempts {
					logger.Warn("bucket init attempt failed",
						zap.Int("attempt", attempt),
						zap.Int("max_attempts", attempts),
						zap.Duration("retry_in", delay),
						zap.Error(err),
					)
				}
				return err
			})
			if err != nil {
				return fmt.Errorf("initialize bucket %q: %w", store.Bucket(), err)
			}
			logger.Info("bucket ready", zap.Bool("created", created))
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Bucket %s ready (created=%t)\n", store.Bucket(), created)
			return err
		},
	}
	cmd.Flags().IntVar(&attempts, "attempts", 10, "maximum attempts")
	cmd.Flags().DurationVar(&delay, "delay", 2*time.Second, "wait between attempts")
	return cmd
}
