package push

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisGateway enqueues push messages on a Redis list consumed by the
// device-push service.
type RedisGateway struct {
	client *redis.Client
	queue  string
}

// NewRedisGateway creates a gateway that LPUSHes JSON messages onto queue.
func NewRedisGateway(addr, queue string) *RedisGateway {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	return &RedisGateway{client: rdb, queue: queue}
}

// Ping checks the Redis connection.
func (g *RedisGateway) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

func (g *RedisGateway) Push(ctx context.Context, m Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling push: %w", err)
	}
	if err := g.client.LPush(ctx, g.queue, body).Err(); err != nil {
		return fmt.Errorf("enqueueing push: %w", err)
	}
	return nil
}

func (g *RedisGateway) Close() error {
	return g.client.Close()
}
