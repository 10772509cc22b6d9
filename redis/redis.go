package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis persists analysis cache entries in Redis.
type Redis struct {
	cli *redis.Client
}

// Connect connects to the Redis server and pings the server to ensure the
// connection is working.
func Connect(ctx context.Context, addr string) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{
		cli: cli,
	}, nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.cli.Close()
}

const cachePrefix = "analysis"

// Cache returns the analysis cache stored under namespace. A positive ttl
// expires the whole namespace ttl after its last write.
func (r *Redis) Cache(namespace string, ttl time.Duration) *Cache {
	return &Cache{
		cli: r.cli,
		key: fmt.Sprintf("%s:%s", cachePrefix, namespace),
		ttl: ttl,
	}
}

// Cache is a hash of encoded analysis results.
type Cache struct {
	cli *redis.Client
	key string
	ttl time.Duration
}

// Persist stores value under field key.
func (c *Cache) Persist(ctx context.Context, key string, value []byte) error {
	_, err := c.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, c.key, key, value)
		if c.ttl > 0 {
			pipe.Expire(ctx, c.key, c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("hset: %w", err)
	}
	return nil
}

// Load returns every persisted entry.
func (c *Cache) Load(ctx context.Context) (map[string][]byte, error) {
	vals, err := c.cli.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall: %w", err)
	}
	out := make(map[string][]byte, len(vals))
	for k, v := range vals {
		out[k] = []byte(v)
	}
	return out, nil
}
