package utils

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cppla/dailytake/config"
)

// NewRedis returns a client for the configured redis, or nil when no host
// is set. A failed ping is logged but the client is still returned so the
// cache can recover once redis comes back.
func NewRedis(cfg config.AppConfig, log *zap.Logger) *redis.Client {
	addr := cfg.RedisAddr()
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("redis ping failed; prompt cache degraded", zap.String("addr", addr), zap.Error(err))
	}
	return client
}
