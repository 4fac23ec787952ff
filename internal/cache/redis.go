package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marketbrief/marketbrief/internal/logger"
)

// Redis fronts report lookups with a TTL cache. It is strictly
// best-effort: any redis failure degrades to a store read, never to a
// caller-visible error.
type Redis struct {
	client *redis.Client
	log    *logger.Logger
}

// New connects to redis.
func New(addr, password string, db int, log *logger.Logger) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		log: log.With("component", "cache"),
	}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		r.log.Warn("Cache read failed.", "key", key, "error", err)
		return nil, false
	}
	return val, true
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		r.log.Warn("Cache write failed.", "key", key, "error", err)
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
