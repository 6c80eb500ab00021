// internal/cache/redis.go
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis backs the response cache with a shared store so horizontally scaled
// instances see each other's entries. TTL expiry is server-side.
type Redis struct {
	cli *redis.Client
	log *zap.SugaredLogger
}

func NewRedis(cli *redis.Client, log *zap.SugaredLogger) *Redis {
	return &Redis{cli: cli, log: log}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool) {
	v, err := r.cli.Get(ctx, "turn:"+key).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		r.log.Warnw("cache get", "err", err)
		return "", false
	}
	return v, true
}

func (r *Redis) Put(ctx context.Context, key, value string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := r.cli.Set(ctx, "turn:"+key, value, ttl).Err(); err != nil {
		r.log.Warnw("cache put", "err", err)
	}
}

func (r *Redis) Invalidate(ctx context.Context, key string) {
	if err := r.cli.Del(ctx, "turn:"+key).Err(); err != nil {
		r.log.Warnw("cache invalidate", "err", err)
	}
}

func (r *Redis) Flush(ctx context.Context) {
	iter := r.cli.Scan(ctx, 0, "turn:*", 0).Iterator()
	for iter.Next(ctx) {
		_ = r.cli.Del(ctx, iter.Val()).Err()
	}
}
