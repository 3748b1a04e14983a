package driver

import (
	"context"
	"fmt"
	"time"

	"show-messenger/internal/platform/config"
	"show-messenger/internal/platform/logger"

	"github.com/redis/go-redis/v9"
)

var redisClient *redis.Client

// ConnectRedis 連接 Redis（未啟用時為 no-op）.
func ConnectRedis() error {
	cfg := config.Get()
	if cfg == nil {
		return fmt.Errorf("配置未載入")
	}

	if !cfg.Database.Redis.Enabled {
		logger.LogInfof("Redis 未啟用，跨實例廣播與訊息緩存將停用")
		return nil
	}

	return InitRedis(cfg.Database.Redis)
}

// InitRedis 初始化 Redis 連接.
func InitRedis(cfg config.RedisConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	// 測試連接
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}

	redisClient = client

	logger.LogInfof("Redis connected successfully")
	return nil
}

// GetRedisClient 獲取 Redis 客戶端實例（未連接時為 nil）.
func GetRedisClient() *redis.Client {
	return redisClient
}

// IsRedisConnected 檢查 Redis 是否已連接.
func IsRedisConnected() bool {
	return redisClient != nil
}

// CloseRedis 關閉 Redis 連接.
func CloseRedis() error {
	if redisClient != nil {
		return redisClient.Close()
	}
	return nil
}
