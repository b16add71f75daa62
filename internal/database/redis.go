package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/logger"
)

// NewRedisClient connects the fast lane: question cache, answer snapshots,
// worker queues and status Pub/Sub.
func NewRedisClient(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opt.ClientName = logger.ServiceName
	// BLPop workers hold one connection each; sessions share the rest.
	opt.MinIdleConns = 2
	opt.ReadTimeout = 3 * time.Second

	rdb := redis.NewClient(opt)

	ping := func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	if err := pingWithRetry(ctx, "redis", ping, log); err != nil {
		rdb.Close()
		return nil, err
	}

	log.Info().
		Str("addr", opt.Addr).
		Int("db", opt.DB).
		Int("pool_size", rdb.Options().PoolSize).
		Msg("Redis connected")

	return rdb, nil
}
