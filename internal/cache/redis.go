// Package cache owns the shared go-redis client used by the Redis session store and rate limiter.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ledgerguard/backend/internal/logger"
)

const pingTimeout = 5 * time.Second

// RedisClient wraps a go-redis client with startup checks and graceful close.
type RedisClient struct {
	Client *redis.Client
	log    *zap.Logger
}

// NewRedisClient parses a redis:// or rediss:// URL, applies pool limits and verifies connectivity.
func NewRedisClient(ctx context.Context, url string, log *zap.Logger) (*RedisClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	opts.PoolSize = 20
	opts.MinIdleConns = 5
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second
	opts.ConnMaxIdleTime = 5 * time.Minute

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: connect to redis: %w", err)
	}

	log = logger.OrNop(log)
	log.Info("redis client initialized", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return &RedisClient{Client: client, log: log}, nil
}

// HealthCheck pings Redis.
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return nil
	}
	if err := r.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (r *RedisClient) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	if err := r.Client.Close(); err != nil {
		r.log.Error("failed to close redis client", zap.Error(err))
		return err
	}
	r.log.Info("redis client closed")
	return nil
}
