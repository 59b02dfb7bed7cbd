package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// TimeSource reads the Redis server clock; it anchors phase timestamps.
type TimeSource struct {
	client *redis.Client
}

func NewTimeSource(client *redis.Client) *TimeSource {
	return &TimeSource{client: client}
}

func (s *TimeSource) ServerTime(ctx context.Context) (time.Time, error) {
	return s.client.Time(ctx).Result()
}
