package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/finsight-labs/extractd/internal/metrics"
)

// StreamsConfig wires the Redis-backed queue.
type StreamsConfig struct {
	Addr        string
	Password    string
	DB          int
	Stream      string
	DLQStream   string
	Group       string
	Consumer    string
	MaxAttempts int
}

// StreamsQueue implements Producer+Consumer on Redis Streams with a
// consumer group, so multiple daemon replicas share one task stream.
type StreamsQueue struct {
	client      *redis.Client
	stream      string
	dlqStream   string
	group       string
	consumer    string
	maxAttempts int
	log         *zap.Logger
}

func NewStreamsQueue(ctx context.Context, cfg StreamsConfig, log *zap.Logger) (*StreamsQueue, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = "extractd:documents"
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = cfg.Stream + ":dlq"
	}
	if cfg.Group == "" {
		cfg.Group = "extractd-workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker-" + uuid.NewString()[:8]
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if log == nil {
		log = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	q := &StreamsQueue{
		client:      client,
		stream:      cfg.Stream,
		dlqStream:   cfg.DLQStream,
		group:       cfg.Group,
		consumer:    cfg.Consumer,
		maxAttempts: cfg.MaxAttempts,
		log:         log,
	}
	if err := q.ensureGroup(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return q, nil
}

func (q *StreamsQueue) Close() error {
	return q.client.Close()
}

// Client exposes the underlying connection for collaborators that share the
// same Redis (result publishing, health checks).
func (q *StreamsQueue) Client() *redis.Client {
	return q.client
}

func (q *StreamsQueue) Enqueue(ctx context.Context, task Task) error {
	_, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: taskValues(task),
	}).Result()
	if err != nil {
		return fmt.Errorf("enqueue to stream: %w", err)
	}
	return nil
}

func (q *StreamsQueue) Consume(ctx context.Context, handler func(context.Context, Task) error) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("xreadgroup: %w", err)
		}

		for _, stream := range streams {
			for _, item := range stream.Messages {
				task, parseErr := parseStreamTask(item)
				if parseErr != nil {
					_ = q.sendToDLQ(ctx, Task{}, item, parseErr.Error())
					_ = q.ackAndDelete(ctx, item.ID)
					continue
				}

				handleErr := handler(ctx, task)
				if handleErr == nil {
					metrics.QueueTasks.WithLabelValues("ok").Inc()
					_ = q.ackAndDelete(ctx, item.ID)
					continue
				}

				task.Attempt++
				if task.Attempt >= q.maxAttempts {
					metrics.QueueTasks.WithLabelValues("dead").Inc()
					q.log.Error("task moved to DLQ",
						zap.String("document_id", task.DocumentID.String()),
						zap.Error(handleErr))
					_ = q.sendToDLQ(ctx, task, item, handleErr.Error())
					_ = q.ackAndDelete(ctx, item.ID)
					continue
				}

				metrics.QueueTasks.WithLabelValues("retried").Inc()
				if requeueErr := q.Enqueue(ctx, task); requeueErr != nil {
					_ = q.sendToDLQ(ctx, task, item, fmt.Sprintf("requeue failed: %v", requeueErr))
				}
				_ = q.ackAndDelete(ctx, item.ID)
			}
		}
	}
}

func (q *StreamsQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("ensure stream group: %w", err)
}

func (q *StreamsQueue) ackAndDelete(ctx context.Context, streamID string) error {
	if err := q.client.XAck(ctx, q.stream, q.group, streamID).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	if err := q.client.XDel(ctx, q.stream, streamID).Err(); err != nil {
		return fmt.Errorf("xdel: %w", err)
	}
	return nil
}

func (q *StreamsQueue) sendToDLQ(ctx context.Context, task Task, item redis.XMessage, errorMessage string) error {
	values := taskValues(task)
	values["stream_id"] = item.ID
	values["error"] = errorMessage
	values["moved_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.dlqStream, Values: values}).Result(); err != nil {
		return fmt.Errorf("send to dlq: %w", err)
	}
	return nil
}

func taskValues(task Task) map[string]any {
	return map[string]any{
		"document_id": task.DocumentID.String(),
		"attempt":     task.Attempt,
		"enqueued_at": task.EnqueuedAt.Format(time.RFC3339Nano),
	}
}

func parseStreamTask(item redis.XMessage) (Task, error) {
	getString := func(key string) (string, error) {
		value, ok := item.Values[key]
		if !ok {
			return "", fmt.Errorf("missing field %s", key)
		}
		switch v := value.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		default:
			return fmt.Sprintf("%v", v), nil
		}
	}

	rawID, err := getString("document_id")
	if err != nil {
		return Task{}, err
	}
	documentID, err := uuid.Parse(rawID)
	if err != nil {
		return Task{}, fmt.Errorf("invalid document_id: %w", err)
	}

	rawAttempt, err := getString("attempt")
	if err != nil {
		return Task{}, err
	}
	attempt, err := strconv.Atoi(rawAttempt)
	if err != nil {
		return Task{}, fmt.Errorf("invalid attempt: %w", err)
	}

	rawEnqueued, err := getString("enqueued_at")
	if err != nil {
		return Task{}, err
	}
	enqueuedAt, err := time.Parse(time.RFC3339Nano, rawEnqueued)
	if err != nil {
		return Task{}, fmt.Errorf("invalid enqueued_at: %w", err)
	}

	return Task{DocumentID: documentID, Attempt: attempt, EnqueuedAt: enqueuedAt}, nil
}
