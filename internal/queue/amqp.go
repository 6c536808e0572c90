package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type AMQPOptions struct {
	URL         string
	Queue       string
	MaxAttempts int
	Backoff     time.Duration
	Prefetch    int
}

// AMQPQueue uses one durable queue on the default exchange. A failed job is published
// again with its attempt bumped and the original delivery acked afterwards, so a crash
// between the two steps duplicates a job but never loses it.
type AMQPQueue struct {
	opts   AMQPOptions
	logger *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	pub  *amqp.Channel
}

func NewAMQPQueue(opts AMQPOptions, logger *slog.Logger) *AMQPQueue {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Prefetch < 1 {
		opts.Prefetch = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AMQPQueue{opts: opts, logger: logger}
}

func (q *AMQPQueue) connection() (*amqp.Connection, error) {
	if q.conn != nil && !q.conn.IsClosed() {
		return q.conn, nil
	}
	conn, err := amqp.Dial(q.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	q.conn = conn
	q.pub = nil
	return conn, nil
}

func (q *AMQPQueue) publishChannel() (*amqp.Channel, error) {
	if q.pub != nil && !q.pub.IsClosed() {
		return q.pub, nil
	}
	conn, err := q.connection()
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(q.opts.Queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	q.pub = ch
	return ch, nil
}

func (q *AMQPQueue) Publish(ctx context.Context, job Job) error {
	body, err := encodeJob(job)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, err := q.publishChannel()
	if err != nil {
		return err
	}
	if err := ch.PublishWithContext(ctx, "", q.opts.Queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     job.ID,
		CorrelationId: job.CorrelationID,
		Timestamp:     time.Now().UTC(),
		Body:          body,
	}); err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Consume reconnects with exponential backoff until ctx is cancelled.
func (q *AMQPQueue) Consume(ctx context.Context, h Handler) error {
	backoff := time.Second
	for ctx.Err() == nil {
		err := q.consumeOnce(ctx, h)
		if ctx.Err() != nil {
			return nil
		}
		q.logger.WarnContext(ctx, "amqp consumer stopped, reconnecting", "queue", q.opts.Queue, "error", err, "backoff", backoff)
		sleepCtx(ctx, backoff)
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
	return nil
}

func (q *AMQPQueue) consumeOnce(ctx context.Context, h Handler) error {
	q.mu.Lock()
	conn, err := q.connection()
	q.mu.Unlock()
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(q.opts.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	if _, err := ch.QueueDeclare(q.opts.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	deliveries, err := ch.Consume(q.opts.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			q.handleDelivery(ctx, h, d)
		}
	}
}

func (q *AMQPQueue) handleDelivery(ctx context.Context, h Handler, d amqp.Delivery) {
	job, err := decodeJob(d.Body)
	if err != nil {
		q.logger.ErrorContext(ctx, "rejecting undecodable job", "message_id", d.MessageId, "error", err)
		_ = d.Nack(false, false)
		return
	}
	job.Attempt++
	herr := h(ctx, job)
	if herr == nil {
		_ = d.Ack(false)
		return
	}
	if job.Attempt >= q.opts.MaxAttempts {
		q.logger.ErrorContext(ctx, "job exhausted retries", append(job.LogAttrs(), "error", herr)...)
		_ = d.Nack(false, false)
		return
	}
	q.logger.WarnContext(ctx, "job failed, republishing", append(job.LogAttrs(), "error", herr)...)
	sleepCtx(ctx, q.opts.Backoff*time.Duration(job.Attempt))
	if err := q.Publish(ctx, job); err != nil {
		q.logger.ErrorContext(ctx, "republish failed, requeueing original", append(job.LogAttrs(), "error", err)...)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

func (q *AMQPQueue) Ping(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, err := q.publishChannel()
	return err
}

func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pub != nil {
		_ = q.pub.Close()
		q.pub = nil
	}
	if q.conn != nil && !q.conn.IsClosed() {
		return q.conn.Close()
	}
	return nil
}
