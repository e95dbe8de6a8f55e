// Package cache provides the shared redis client used for checkout drafts
// and notification dedupe buckets.
package cache

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/nebulink/vpnbroker/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewRedisClient(cfg config.Config, log *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return client
}

func registerHooks(lc fx.Lifecycle, client *redis.Client, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				// Redis being down degrades drafts and dedupe, it does
				// not block boot.
				log.Warn("redis unreachable", zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
}

var Module = fx.Module("cache",
	fx.Provide(NewRedisClient),
	fx.Invoke(registerHooks),
)
