// Package admission bounds how many workflow executions run concurrently.
// The gate is a single Redis counter mutated only through conditional Lua
// scripts, so stateless controller instances running in parallel can never
// admit past the configured limit.
package admission

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const counterKey = "conveyor:admission:active"

// acquireScript increments the active count only while it is below the
// limit. Returns the new count, or -1 when the gate is at capacity.
var acquireScript = redis.NewScript(`
	local active = tonumber(redis.call("GET", KEYS[1]) or "0")
	if active >= tonumber(ARGV[1]) then
		return -1
	end
	return redis.call("INCR", KEYS[1])
`)

// releaseScript decrements the active count with a floor of zero, so a
// double release can never underflow the gate.
var releaseScript = redis.NewScript(`
	local active = tonumber(redis.call("GET", KEYS[1]) or "0")
	if active <= 0 then
		return 0
	end
	return redis.call("DECR", KEYS[1])
`)

// Counter is the durable admission gate.
type Counter interface {
	// Acquire claims one admission slot. Returns ErrAtCapacity when the
	// active count is already at the limit; the counter is unchanged.
	Acquire(ctx context.Context) error
	// Release returns one admission slot.
	Release(ctx context.Context) error
	// Active reports the current active count.
	Active(ctx context.Context) (int64, error)
}

type counter struct {
	client        *redis.Client
	maxConcurrent int64
}

// NewCounter creates a Redis-backed admission counter bounded by
// maxConcurrent.
func NewCounter(client *redis.Client, maxConcurrent int64) Counter {
	return &counter{
		client:        client,
		maxConcurrent: maxConcurrent,
	}
}

func (c *counter) Acquire(ctx context.Context) error {
	n, err := acquireScript.Run(ctx, c.client, []string{counterKey}, c.maxConcurrent).Int64()
	if err != nil {
		return fmt.Errorf("acquire admission slot: %w", err)
	}
	if n == -1 {
		return ErrAtCapacity
	}
	return nil
}

func (c *counter) Release(ctx context.Context) error {
	if _, err := releaseScript.Run(ctx, c.client, []string{counterKey}).Result(); err != nil {
		return fmt.Errorf("release admission slot: %w", err)
	}
	return nil
}

func (c *counter) Active(ctx context.Context) (int64, error) {
	n, err := c.client.Get(ctx, counterKey).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("read admission count: %w", err)
	}
	return n, nil
}
