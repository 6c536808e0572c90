package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskflow/taskflow-api/internal/config"
	"github.com/taskflow/taskflow-api/internal/database"
	"github.com/taskflow/taskflow-api/internal/di"
	"github.com/taskflow/taskflow-api/internal/observability"
	"github.com/taskflow/taskflow-api/internal/tools/common"
	"github.com/taskflow/taskflow-api/internal/tools/ui"
)

type options struct {
	envFile string
	ci      bool
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "taskflow",
		Short:         "taskflow API server, revocation worker and operator tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return common.LoadEnvFile(opts.envFile)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file exported before config is read")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.AddCommand(
		newServeCommand(),
		newWorkerCommand(),
		newMigrateCommand(opts),
		newRevokeUserCommand(opts),
	)
	return cmd
}

func loadConfig() (*config.Config, error) {
	return config.LoadFile("")
}

// bootstrap loads config and starts telemetry for long-running processes.
func bootstrap(ctx context.Context) (*config.Config, *slog.Logger, *observability.Runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	logger, lp, err := observability.NewLogger(ctx, cfg, os.Stdout)
	if err != nil {
		return nil, nil, nil, err
	}
	slog.SetDefault(logger)
	runtime, err := observability.InitRuntime(ctx, cfg, logger, lp)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, runtime, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			cfg, logger, runtime, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			a, cleanup, err := di.InitializeApp(ctx, cfg, logger, runtime)
			if err != nil {
				_ = runtime.Shutdown(context.Background())
				return err
			}
			defer cleanup()
			return a.Run(ctx)
		},
	}
}

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume revocation jobs from the configured queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			cfg, logger, runtime, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			if cfg.QueueDriver == config.QueueDriverMemory {
				_ = runtime.Shutdown(context.Background())
				return errors.New("the memory queue is drained inside serve; set QUEUE_DRIVER to redis or amqp")
			}
			w, cleanup, err := di.InitializeWorker(ctx, cfg, logger, runtime)
			if err != nil {
				_ = runtime.Shutdown(context.Background())
				return err
			}
			defer cleanup()
			return w.Run(ctx)
		},
	}
}

func newMigrateCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back schema migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{database.DirectionUp, database.DirectionDown},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := args[0]
			title := "migrate " + direction
			details, err := run(opts, title, func(ctx context.Context) ([]string, error) {
				cfg, err := loadConfig()
				if err != nil {
					return nil, err
				}
				return migrate(ctx, cfg.DatabaseURL, direction)
			})
			return report(cmd, opts, title, details, err)
		},
	}
	return cmd
}

// migrate runs versioned SQL migrations on PostgreSQL. SQLite databases only support
// "up", which maps to AutoMigrate.
func migrate(ctx context.Context, dsn, direction string) ([]string, error) {
	if database.IsPostgres(dsn) {
		if err := database.Migrate(dsn, direction); err != nil {
			return nil, err
		}
		return []string{"driver=postgres", "direction=" + direction}, nil
	}
	if direction != database.DirectionUp {
		return nil, database.ErrUnsupportedDriver
	}
	db, err := database.Open(ctx, dsn, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = database.Close(db) }()
	if err := database.AutoMigrate(ctx, db); err != nil {
		return nil, err
	}
	return []string{"driver=sqlite", "direction=up", "mode=automigrate"}, nil
}

func newRevokeUserCommand(opts *options) *cobra.Command {
	var (
		userID uint
		reason string
		now    bool
	)
	cmd := &cobra.Command{
		Use:   "revoke-user",
		Short: "Revoke every session and refresh token of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == 0 {
				return errors.New("--user-id is required")
			}
			title := fmt.Sprintf("revoke-user %d", userID)
			details, err := run(opts, title, func(ctx context.Context) ([]string, error) {
				cfg, err := loadConfig()
				if err != nil {
					return nil, err
				}
				logger := slog.New(slog.DiscardHandler)
				coordinator, cleanup, err := di.InitializeRevoker(ctx, cfg, logger)
				if err != nil {
					return nil, err
				}
				defer cleanup()
				if now {
					res, err := coordinator.RevokeAll(ctx, userID, reason)
					if err != nil {
						return nil, err
					}
					return []string{
						fmt.Sprintf("sessions_revoked=%d", res.SessionsRevoked),
						fmt.Sprintf("tokens_revoked=%d", res.TokensRevoked),
					}, nil
				}
				if cfg.QueueDriver == config.QueueDriverMemory {
					return nil, errors.New("the memory queue does not outlive this command; use --now or a redis/amqp queue")
				}
				correlationID, err := coordinator.EnqueueRevokeAll(ctx, userID, reason)
				if err != nil {
					return nil, err
				}
				return []string{"correlation_id=" + correlationID, "queue=" + cfg.QueueDriver}, nil
			})
			return report(cmd, opts, title, details, err)
		},
	}
	cmd.Flags().UintVar(&userID, "user-id", 0, "id of the user to revoke")
	cmd.Flags().StringVar(&reason, "reason", "operator_revoke", "reason recorded on revoked sessions")
	cmd.Flags().BoolVar(&now, "now", false, "revoke synchronously instead of enqueueing a job")
	return cmd
}

func run(opts *options, title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		return fn(ctx)
	}
	return ui.Run(title, fn)
}

func report(cmd *cobra.Command, opts *options, title string, details []string, err error) error {
	if opts.ci {
		common.WriteCIResult(cmd.OutOrStdout(), err == nil, title, details, err)
	}
	return err
}
