package database

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"teledrive-go/internal/config"
	"teledrive-go/pkg/log"
)

// RDB 在未配置 Redis 时为 nil，调用方需要自行降级。
var RDB *redis.Client

// InitRedis 初始化 Redis 客户端连接。Addr 为空时不做任何事。
func InitRedis(cfg config.RedisConfig) error {
	if cfg.Addr == "" {
		log.Info("未配置 Redis，限流和重试计数使用降级模式")
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	RDB = client
	log.Info("Redis client connected successfully")
	return nil
}
