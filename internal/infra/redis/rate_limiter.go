package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"livequiz-service/internal/domain"
)

// RateLimiter is a fixed-window counter shared by every instance:
// INCR ratelimit:{key}, with the window set as the key's expiry on the first hit.
type RateLimiter struct {
	client *redis.Client
}

func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client}
}

func (l *RateLimiter) Check(ctx context.Context, key string, max int, window time.Duration) (domain.RateLimit, error) {
	rkey := limitKey(key)

	var incr *redis.IntCmd
	var pttl *redis.DurationCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, rkey)
		pttl = pipe.PTTL(ctx, rkey)
		return nil
	})
	if err != nil {
		return domain.RateLimit{}, fmt.Errorf("count %s: %w", key, err)
	}

	count := int(incr.Val())
	left := pttl.Val()
	if count == 1 || left < 0 {
		if err := l.client.PExpire(ctx, rkey, window).Err(); err != nil {
			return domain.RateLimit{}, fmt.Errorf("expire %s: %w", key, err)
		}
		left = window
	}

	resetIn := int((left + time.Second - 1) / time.Second)
	if count > max {
		return domain.RateLimit{Allowed: false, Remaining: 0, ResetIn: resetIn}, nil
	}
	return domain.RateLimit{Allowed: true, Remaining: max - count, ResetIn: resetIn}, nil
}

func (l *RateLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, limitKey(key)).Err()
}

func limitKey(key string) string {
	return "ratelimit:" + key
}
