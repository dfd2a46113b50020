package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is the shared-state limiter for multi-replica ingress: a
// fixed one-second window counted in Redis, so every replica draws from
// the same per-tenant budget.
type RedisLimiter struct {
	client *redis.Client
	limit  int64
	now    func() time.Time
}

// NewRedisLimiter allows limit requests per tenant per second across
// replicas.
func NewRedisLimiter(client *redis.Client, limit int) *RedisLimiter {
	return &RedisLimiter{client: client, limit: int64(limit), now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, tenant string) (bool, error) {
	key := fmt.Sprintf("aurora:ratelimit:%s:%d", tenant, l.now().Unix())
	pipe := l.client.TxPipeline()
	count := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}
	return count.Val() <= l.limit, nil
}
