package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisJobField = "job"

type RedisStreamOptions struct {
	Stream      string
	Group       string
	Consumer    string
	MaxAttempts int
	// ClaimIdle is how long a failed delivery stays pending before it is reclaimed.
	ClaimIdle time.Duration
	Block     time.Duration
	BatchSize int64
}

// RedisStreamQueue publishes with XADD and consumes through a consumer group. A failed
// delivery is left unacknowledged and picked up again with XAUTOCLAIM.
type RedisStreamQueue struct {
	client redis.UniversalClient
	opts   RedisStreamOptions
	logger *slog.Logger
}

func NewRedisStreamQueue(client redis.UniversalClient, opts RedisStreamOptions, logger *slog.Logger) *RedisStreamQueue {
	if opts.Consumer == "" {
		host, _ := os.Hostname()
		opts.Consumer = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.ClaimIdle <= 0 {
		opts.ClaimIdle = 30 * time.Second
	}
	if opts.Block <= 0 {
		opts.Block = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStreamQueue{client: client, opts: opts, logger: logger}
}

func (q *RedisStreamQueue) Publish(ctx context.Context, job Job) error {
	body, err := encodeJob(job)
	if err != nil {
		return err
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.opts.Stream,
		ID:     "*",
		Values: map[string]any{redisJobField: string(body)},
	}).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", q.opts.Stream, err)
	}
	return nil
}

func (q *RedisStreamQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.opts.Stream, q.opts.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func (q *RedisStreamQueue) Consume(ctx context.Context, h Handler) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}
	for ctx.Err() == nil {
		if err := q.reclaim(ctx, h); err != nil && ctx.Err() == nil {
			q.logger.WarnContext(ctx, "reclaim pending jobs failed", "stream", q.opts.Stream, "error", err)
		}
		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.opts.Group,
			Consumer: q.opts.Consumer,
			Streams:  []string{q.opts.Stream, ">"},
			Count:    q.opts.BatchSize,
			Block:    q.opts.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			q.logger.ErrorContext(ctx, "read from stream failed", "stream", q.opts.Stream, "error", err)
			sleepCtx(ctx, time.Second)
			continue
		}
		for _, s := range streams {
			for _, msg := range s.Messages {
				q.process(ctx, h, msg)
			}
		}
	}
	return nil
}

func (q *RedisStreamQueue) reclaim(ctx context.Context, h Handler) error {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.opts.Stream,
		Group:    q.opts.Group,
		MinIdle:  q.opts.ClaimIdle,
		Start:    "0-0",
		Count:    q.opts.BatchSize,
		Consumer: q.opts.Consumer,
	}).Result()
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		q.process(ctx, h, msg)
	}
	return nil
}

func (q *RedisStreamQueue) process(ctx context.Context, h Handler, msg redis.XMessage) {
	raw, _ := msg.Values[redisJobField].(string)
	job, err := decodeJob([]byte(raw))
	if err != nil {
		q.logger.ErrorContext(ctx, "dropping undecodable job", "message_id", msg.ID, "error", err)
		q.ack(ctx, msg.ID)
		return
	}
	deliveries := q.deliveryCount(ctx, msg.ID)
	job.Attempt = int(deliveries)
	if err := h(ctx, job); err != nil {
		if deliveries >= int64(q.opts.MaxAttempts) {
			q.logger.ErrorContext(ctx, "job exhausted retries", append(job.LogAttrs(), "message_id", msg.ID, "error", err)...)
			q.ack(ctx, msg.ID)
			return
		}
		q.logger.WarnContext(ctx, "job failed, left pending for reclaim", append(job.LogAttrs(), "message_id", msg.ID, "error", err)...)
		return
	}
	q.ack(ctx, msg.ID)
}

func (q *RedisStreamQueue) deliveryCount(ctx context.Context, id string) int64 {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.opts.Stream,
		Group:  q.opts.Group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 1
	}
	return pending[0].RetryCount
}

func (q *RedisStreamQueue) ack(ctx context.Context, id string) {
	if err := q.client.XAck(ctx, q.opts.Stream, q.opts.Group, id).Err(); err != nil {
		q.logger.ErrorContext(ctx, "ack failed", "message_id", id, "error", err)
	}
}

func (q *RedisStreamQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisStreamQueue) Close() error {
	return q.client.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
