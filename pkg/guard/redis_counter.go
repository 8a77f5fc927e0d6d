package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "caseflow:rl"

// RedisCounter enforces ceilings exactly with atomic counters in fixed buckets:
// one per workflow per clock hour and one per workflow and entity per UTC day.
type RedisCounter struct {
	client redis.UniversalClient
}

func NewRedisCounter(client redis.UniversalClient) *RedisCounter {
	return &RedisCounter{client: client}
}

// Key returns the bucket key of the window.
func (c *RedisCounter) Key(window Window) string {
	now := window.Now.UTC()

	if window.Scope == ScopeDay {
		return fmt.Sprintf("%s:%s:%s:%s", redisKeyPrefix, window.WorkflowID, window.EntityID, now.Format("20060102"))
	}

	return fmt.Sprintf("%s:%s:%s", redisKeyPrefix, window.WorkflowID, now.Format("2006010215"))
}

func (c *RedisCounter) Acquire(ctx context.Context, window Window, limit int) error {
	key := c.Key(window)

	var incr *redis.IntCmd

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, 2*window.Size())

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to increment rate counter %s: %w", key, err)
	}

	current := int(incr.Val())
	if current <= limit {
		return nil
	}

	if err := c.client.Decr(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to roll back rate counter %s: %w", key, err)
	}

	return &RateLimitError{
		Scope:      window.Scope,
		WorkflowID: window.WorkflowID,
		EntityID:   window.EntityID,
		Current:    current - 1,
		Limit:      limit,
	}
}

func (c *RedisCounter) Release(ctx context.Context, window Window) error {
	key := c.Key(window)

	err := c.client.Decr(ctx, key).Err()
	if err != nil {
		return fmt.Errorf("failed to release rate counter %s: %w", key, err)
	}

	return nil
}

// Ping verifies the connection, used by health checks.
func (c *RedisCounter) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return c.client.Ping(ctx).Err()
}
