// internal/queue/redis.go
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// Redis is a Queue shared between processes through a Redis list.
// Items are pushed on the left and popped from the right.
type Redis struct {
	client redis.UniversalClient
	key    string
}

// NewRedis connects to addr and checks the connection.
func NewRedis(ctx context.Context, addr, key string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisWithClient(client, key), nil
}

// NewRedisWithClient wraps a pre-configured client.
func NewRedisWithClient(client redis.UniversalClient, key string) *Redis {
	return &Redis{client: client, key: key}
}

// Push adds ids in order; the first id pushed is the first popped.
func (r *Redis) Push(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	values := make([]interface{}, len(ids))
	for i, id := range ids {
		values[i] = id
	}
	if err := r.client.LPush(ctx, r.key, values...).Err(); err != nil {
		return fmt.Errorf("failed to enqueue accounts: %w", err)
	}
	return nil
}

// Pop removes and returns the oldest id. An empty list is not an error.
func (r *Redis) Pop(ctx context.Context) (int64, bool, error) {
	val, err := r.client.RPop(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to dequeue account: %w", err)
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid queue item %q: %w", val, err)
	}
	return id, true, nil
}

// Len returns the length of the backing list.
func (r *Redis) Len(ctx context.Context) (int64, error) {
	return r.client.LLen(ctx, r.key).Result()
}

// Scoped returns a queue on its own key, derived from this one and runID, over the same client.
func (r *Redis) Scoped(runID string) Queue {
	return &Redis{client: r.client, key: r.key + ":run:" + runID}
}

// Clear deletes the backing list.
func (r *Redis) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("failed to clear queue %s: %w", r.key, err)
	}
	return nil
}

// Close closes the underlying client. Scoped queues share it and must not be closed.
func (r *Redis) Close() error {
	return r.client.Close()
}
