package cmd

import (
	"context"
	"fmt"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/guard"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/persistence"
	"github.com/redis/go-redis/v9"
)

// NewRateCounter returns a Redis-backed exact counter when redisURL is set and the ledger
// counter otherwise. The returned close function releases the Redis client.
func NewRateCounter(ctx context.Context, redisURL string, executions persistence.ExecutionRepository) (guard.RateCounter, func() error, error) {
	if redisURL == "" {
		return guard.NewLedgerCounter(executions), func() error { return nil }, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	counter := guard.NewRedisCounter(client)

	if err := counter.Ping(ctx); err != nil {
		_ = client.Close()

		return nil, nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	return counter, client.Close, nil
}
