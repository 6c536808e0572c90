package queue

import (
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/taskflow/taskflow-api/internal/config"
)

// Open builds the queue driver selected by QUEUE_DRIVER.
func Open(cfg *config.Config, logger *slog.Logger) (Queue, error) {
	switch cfg.QueueDriver {
	case config.QueueDriverMemory:
		return NewMemoryQueue(256, cfg.JobMaxAttempts, cfg.JobRetryBackoff, logger), nil
	case config.QueueDriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedisStreamQueue(client, RedisStreamOptions{
			Stream:      cfg.RedisRevocationStream,
			Group:       cfg.RedisConsumerGroup,
			MaxAttempts: cfg.JobMaxAttempts,
			ClaimIdle:   cfg.JobRetryBackoff,
		}, logger), nil
	case config.QueueDriverAMQP:
		return NewAMQPQueue(AMQPOptions{
			URL:         cfg.AMQPURL,
			Queue:       cfg.AMQPRevocationQueue,
			MaxAttempts: cfg.JobMaxAttempts,
			Backoff:     cfg.JobRetryBackoff,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.QueueDriver)
	}
}
