package redis

import (
	"context"
	"fmt"
	"time"

	"forgecore/common/config"

	"github.com/go-redis/redis/v8"
)

// defaultPingTimeout 未设置 DialTimeout 时 Ping 的上限
const defaultPingTimeout = 5 * time.Second

// NewRedisClient 按 RedisConfig 创建审计流客户端；零值字段沿用 go-redis 默认值
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
}

// Ping 在 DialTimeout 内确认 Redis 可达
func Ping(ctx context.Context, client *redis.Client) error {
	timeout := client.Options().DialTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis at %s: %w", client.Options().Addr, err)
	}
	return nil
}
