// Package ratelimit paces outbound calls to provider and VPN-server
// APIs so a multi-instance reconciler doesn't collectively exceed a
// remote rate limit.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	redispkg "github.com/vpnpay/core/pkg/redis"
)

// Distributed is a Redis-backed sliding-window limiter: the sorted-set
// score is the request timestamp, so concurrent reconciler instances
// all observe the same window.
type Distributed struct {
	redisClient *redispkg.Client
	limit       int
	window      time.Duration
}

const rateLimitExpireBuffer = time.Minute

func NewDistributed(redisClient *redispkg.Client, limit int, window time.Duration) *Distributed {
	return &Distributed{redisClient: redisClient, limit: limit, window: window}
}

// Allow reports whether the caller may proceed under key's window limit,
// recording the attempt if so.
func (r *Distributed) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now()
	windowStart := now.Add(-r.window)
	redisKey := fmt.Sprintf("ratelimit:%s", key)
	client := r.redisClient.GetClient()

	pipe := client.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart.UnixMilli()))
	countCmd := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return false, fmt.Errorf("ratelimit: check window: %w", err)
	}

	if countCmd.Val() >= int64(r.limit) {
		return false, nil
	}

	pipe2 := client.Pipeline()
	pipe2.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe2.Expire(ctx, redisKey, r.window+rateLimitExpireBuffer)
	if _, err := pipe2.Exec(ctx); err != nil {
		return false, fmt.Errorf("ratelimit: record request: %w", err)
	}

	return true, nil
}
