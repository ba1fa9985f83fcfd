package queue

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jmehdipour/webhook-delivery/internal/config"
	"github.com/jmehdipour/webhook-delivery/internal/kafka"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Role says whether the opener only produces jobs or also consumes them.
type Role int

const (
	Producer Role = iota
	Consumer
)

// Open builds the configured driver. The Redis client is required for every
// driver because delayed jobs live in the Redis scheduler.
func Open(ctx context.Context, cfg config.Config, rdb *redis.Client, role Role, log *zap.Logger) (Queue, error) {
	if rdb == nil {
		return nil, fmt.Errorf("queue: redis client is required")
	}

	switch cfg.Queue.Driver {
	case "redis":
		return NewRedisQueue(ctx, rdb, RedisOptions{
			Stream:            cfg.Queue.Stream,
			Group:             cfg.Queue.Group,
			Consumer:          consumerName(),
			ScheduledKey:      cfg.Queue.ScheduledKey,
			PromoteBatch:      cfg.Queue.PromoteBatch,
			PollInterval:      cfg.Queue.PollInterval,
			BlockTimeout:      cfg.Queue.BlockTimeout,
			VisibilityTimeout: cfg.Queue.VisibilityTimeout,
			Logger:            log,
		})

	case "kafka":
		kc := kafka.Config{
			Brokers:        cfg.Kafka.Brokers,
			Topic:          cfg.Kafka.Topic,
			GroupID:        cfg.Kafka.GroupID,
			MinBytes:       cfg.Kafka.MinBytes,
			MaxBytes:       cfg.Kafka.MaxBytes,
			CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
		}
		var consumer Fetcher
		if role == Consumer {
			consumer = kafka.NewConsumer(kc)
		}
		sched := NewScheduler(rdb, cfg.Queue.ScheduledKey, cfg.Queue.PromoteBatch, log)
		return NewKafkaQueue(kafka.NewProducer(kc), consumer, sched, cfg.Queue.PollInterval, nil, log), nil
	}
	return nil, fmt.Errorf("unknown queue driver %q", cfg.Queue.Driver)
}

func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
