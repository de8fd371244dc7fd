// Package cmd defines and implements the CLI commands for the newsfeeds
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsfeeds/internal/app"
	"github.com/JakeFAU/newsfeeds/internal/config"
	"github.com/JakeFAU/newsfeeds/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// session carries the state shared by the root command and its subcommands
// for one execution.
type session struct {
	cfgFile string
	envFile string
	app     *app.App
}

func (s *session) close() {
	if s.app == nil {
		return
	}
	logger := s.app.Logger()
	if err := s.app.Close(); err != nil {
		logger.Warn("shutdown finished with errors", zap.Error(err))
	}
	_ = logger.Sync()
	s.app = nil
}

// newRootCmd creates the root command and registers every subcommand.
func newRootCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "newsfeeds",
		Short: "Fetch, store and serve company news by source.",
		Long: `newsfeeds enqueues (company, source) work items, runs workers that query
the search API and persist one JSON record per pair in object storage, and
serves aggregated results over HTTP.`,
		SilenceUsage: true,

		// Runs before every subcommand: loads .env and config, then builds the
		// App and stores it in the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadDotEnv(s.envFile, cmd.Flags().Changed("env-file")); err != nil {
				return err
			}
			cfg, err := config.Load(s.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)

			s.app = app.New(cfg, logger)
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, s.app))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&s.cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&s.envFile, "env-file", ".env", "dotenv file loaded before reading config")

	cmd.AddCommand(
		newServeCmd(),
		newWorkerCmd(),
		newEnqueueCmd(),
		newScheduleCmd(),
		newSeedCmd(),
		newInitBucketCmd(),
		newDeadLettersCmd(),
		newSearchStubCmd(),
	)
	return cmd
}

// loadDotEnv loads path into the environment. A missing default file is not
// an error.
func loadDotEnv(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// run executes the CLI with args and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	s := &session{}
	defer s.close()

	root := newRootCmd(s)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
