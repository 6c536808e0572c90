package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MemoryQueue is the single-process driver used in dev and tests. Failed jobs are
// redelivered after a linear backoff until maxAttempts is reached. mu guards state only;
// nothing blocks on jobs while holding it.
type MemoryQueue struct {
	jobs        chan Job
	done        chan struct{}
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger

	mu     sync.Mutex
	closed bool
	dead   []Job
}

func NewMemoryQueue(buffer, maxAttempts int, backoff time.Duration, logger *slog.Logger) *MemoryQueue {
	if buffer < 1 {
		buffer = 128
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryQueue{
		jobs:        make(chan Job, buffer),
		done:        make(chan struct{}),
		maxAttempts: maxAttempts,
		backoff:     backoff,
		logger:      logger,
	}
}

func (q *MemoryQueue) Publish(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrClosed
	}
	select {
	case q.jobs <- job:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Consume(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-q.done:
			return nil
		case job := <-q.jobs:
			q.deliver(ctx, h, job)
		}
	}
}

func (q *MemoryQueue) deliver(ctx context.Context, h Handler, job Job) {
	job.Attempt++
	err := h(ctx, job)
	if err == nil {
		return
	}
	if job.Attempt >= q.maxAttempts {
		q.mu.Lock()
		q.dead = append(q.dead, job)
		q.mu.Unlock()
		q.logger.ErrorContext(ctx, "job exhausted retries", append(job.LogAttrs(), "error", err)...)
		return
	}
	q.logger.WarnContext(ctx, "job failed, scheduling retry", append(job.LogAttrs(), "error", err)...)
	delay := q.backoff * time.Duration(job.Attempt)
	time.AfterFunc(delay, func() {
		select {
		case <-q.done:
			return
		case q.jobs <- job:
		default:
			q.mu.Lock()
			q.dead = append(q.dead, job)
			q.mu.Unlock()
			q.logger.Error("retry buffer full, job dropped", job.LogAttrs()...)
		}
	})
}

// DeadLetters returns jobs that exhausted their attempts.
func (q *MemoryQueue) DeadLetters() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, len(q.dead))
	copy(out, q.dead)
	return out
}

func (q *MemoryQueue) Ping(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	return nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()
	return nil
}
