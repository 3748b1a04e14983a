package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	recentKeyPrefix = "showmsg:recent:"
	recentKeyTTL    = 24 * time.Hour
)

// RecentMessageCache 最近訊息緩存（Redis List）
// 每個對話保留最近 N 條訊息，開窗時先回緩存再補數據庫
type RecentMessageCache struct {
	client  *redis.Client
	maxSize int64
}

// NewRecentMessageCache 創建最近訊息緩存
// client 為 nil 時所有操作為 no-op
func NewRecentMessageCache(client *redis.Client, maxSize int64) *RecentMessageCache {
	if maxSize <= 0 {
		maxSize = 50
	}
	return &RecentMessageCache{
		client:  client,
		maxSize: maxSize,
	}
}

// Enabled 檢查緩存是否可用
func (c *RecentMessageCache) Enabled() bool {
	return c.client != nil
}

// Push 將訊息加入對話的最近訊息列表
func (c *RecentMessageCache) Push(ctx context.Context, conversationID string, message interface{}) error {
	if c.client == nil {
		return nil
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	key := recentKeyPrefix + conversationID
	pipe := c.client.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, c.maxSize-1)
	pipe.Expire(ctx, key, recentKeyTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// Recent 獲取對話的最近訊息（新的在前）
// dest 為指向 slice 的指針，元素類型需與 Push 時一致
func (c *RecentMessageCache) Recent(ctx context.Context, conversationID string, limit int64, decode func([]byte) error) error {
	if c.client == nil {
		return nil
	}

	if limit <= 0 || limit > c.maxSize {
		limit = c.maxSize
	}

	key := recentKeyPrefix + conversationID
	items, err := c.client.LRange(ctx, key, 0, limit-1).Result()
	if err != nil {
		return err
	}

	for _, item := range items {
		if err := decode([]byte(item)); err != nil {
			return err
		}
	}
	return nil
}

// Invalidate 清除對話的緩存（訊息被管理刪除後調用）
func (c *RecentMessageCache) Invalidate(ctx context.Context, conversationID string) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, recentKeyPrefix+conversationID).Err()
}
