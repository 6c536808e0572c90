package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Worker drains a Consumer with one Handler and logs every delivery outcome.
type Worker struct {
	consumer Consumer
	handler  Handler
	logger   *slog.Logger
}

func NewWorker(consumer Consumer, handler Handler, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{consumer: consumer, handler: handler, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "worker started")
	defer w.logger.InfoContext(ctx, "worker stopped")
	return w.consumer.Consume(ctx, w.handle)
}

func (w *Worker) handle(ctx context.Context, job Job) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
		attrs := append(job.LogAttrs(), "duration_ms", time.Since(start).Milliseconds())
		if err != nil {
			w.logger.ErrorContext(ctx, "job failed", append(attrs, "error", err)...)
			return
		}
		w.logger.InfoContext(ctx, "job done", attrs...)
	}()
	return w.handler(ctx, job)
}
