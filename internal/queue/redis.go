package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue on a redis list. Items travel as JSON
// envelopes (see codec.go); the sentinel is serializable like any other
// registered item, so shutdown works across processes too.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// RedisConfig holds connection settings for the redis queue backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// QueueName is the list key suffix; the full key is "aiproxy:queue:<name>".
	QueueName string
}

// NewRedisQueue connects to redis and returns a list-backed queue.
func NewRedisQueue(cfg RedisConfig) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	name := cfg.QueueName
	if name == "" {
		name = "accesslog"
	}

	return &RedisQueue{
		client: client,
		key:    "aiproxy:queue:" + name,
	}, nil
}

// Enqueue pushes a serialized item onto the list. RPUSH never waits on the
// consumer, so producers cannot block here.
func (q *RedisQueue) Enqueue(ctx context.Context, item any) error {
	data, err := marshalItem(item)
	if err != nil {
		return err
	}
	if err := q.client.RPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("failed to push to redis: %w", err)
	}
	return nil
}

// Dequeue blocks on the list until one item is available or ctx is
// cancelled.
func (q *RedisQueue) Dequeue(ctx context.Context) (any, error) {
	result, err := q.client.BLPop(ctx, 0, q.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to pop from redis: %w", err)
	}
	// result[0] is the key, result[1] the value.
	return unmarshalItem([]byte(result[1]))
}

// Len returns the list length.
func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return int(n), nil
}

// Close closes the redis connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
