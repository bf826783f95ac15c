package dedup

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGuard shares the dedup window across replicas via SET NX with a TTL.
// Redis failures fail open: a lost duplicate check is cheaper than refusing
// every dispatch while redis is down.
type RedisGuard struct {
	client *redis.Client
	window time.Duration
	logger *log.Logger
}

func NewRedisGuard(client *redis.Client, window time.Duration) *RedisGuard {
	return &RedisGuard{
		client: client,
		window: window,
		logger: log.New(log.Writer(), "[DEDUP] ", log.LstdFlags),
	}
}

func (g *RedisGuard) Check(ctx context.Context, fingerprint string) (bool, error) {
	ok, err := g.client.SetNX(ctx, "dedup:"+fingerprint, 1, g.window).Result()
	if err != nil {
		g.logger.Printf("redis check failed, allowing dispatch: %v", err)
		return false, nil
	}
	return !ok, nil
}
