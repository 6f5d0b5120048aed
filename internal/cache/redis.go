package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"afterwon/internal/config"
)

// NewRedisClient connects and pings Redis. The client backs the session
// store, the in-flight guard and the persistence stream.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return client, nil
}

// Needed reports whether cfg selects any Redis-backed component.
func Needed(cfg *config.AppConfig) bool {
	return cfg.Generation.SessionStore == config.SessionStoreRedis || cfg.Persist.Mode == config.PersistModeQueue
}
