package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/taskflow/taskflow-api/internal/config"
	"github.com/taskflow/taskflow-api/internal/health"
	"github.com/taskflow/taskflow-api/internal/observability"
	"github.com/taskflow/taskflow-api/internal/queue"
)

// App is the API process: the HTTP server plus, for the memory queue, an in-process
// revocation worker.
type App struct {
	Config          *config.Config
	Logger          *slog.Logger
	Server          *http.Server
	Observability   *observability.Runtime
	Readiness       *health.ProbeRunner
	Queue           queue.Queue
	Worker          *queue.Worker
	ShutdownTimeout time.Duration
}

func New(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	readiness *health.ProbeRunner,
	q queue.Queue,
	worker *queue.Worker,
) *App {
	return &App{
		Config:          cfg,
		Logger:          logger,
		Server:          server,
		Observability:   runtime,
		Readiness:       readiness,
		Queue:           q,
		Worker:          worker,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}
}

// Run serves until ctx is cancelled or the server fails, then shuts everything down
// within ShutdownTimeout.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.InfoContext(gctx, "http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if a.Worker != nil {
		g.Go(func() error { return a.Worker.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})
	return g.Wait()
}

func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	a.Logger.InfoContext(ctx, "shutting down")

	var errs []error
	if err := a.Server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("queue close: %w", err))
		}
	}
	if err := a.Observability.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	return errors.Join(errs...)
}

func (a *App) shutdownTimeout() time.Duration {
	if a.ShutdownTimeout <= 0 {
		return 20 * time.Second
	}
	return a.ShutdownTimeout
}

// WorkerApp is the standalone revocation worker process.
type WorkerApp struct {
	Logger        *slog.Logger
	Worker        *queue.Worker
	Queue         queue.Queue
	Observability *observability.Runtime
	timeout       time.Duration
}

func NewWorkerApp(cfg *config.Config, logger *slog.Logger, runtime *observability.Runtime, q queue.Queue, worker *queue.Worker) *WorkerApp {
	return &WorkerApp{Logger: logger, Worker: worker, Queue: q, Observability: runtime, timeout: cfg.ShutdownTimeout}
}

func (w *WorkerApp) Run(ctx context.Context) error {
	if err := w.Queue.Ping(ctx); err != nil {
		return fmt.Errorf("queue unavailable: %w", err)
	}
	runErr := w.Worker.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	timeout := w.timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return errors.Join(runErr, w.Queue.Close(), w.Observability.Shutdown(shutdownCtx))
}
