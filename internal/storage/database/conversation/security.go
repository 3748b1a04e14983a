package conversation

import (
	"fmt"
	"regexp"
	"strings"

	"show-messenger/internal/platform/config"
)

var objectIDPattern = regexp.MustCompile("^[a-fA-F0-9]{24}$")

// ValidateObjectID 驗證 MongoDB ObjectID 格式
func ValidateObjectID(id string) error {
	if len(id) != 24 || !objectIDPattern.MatchString(id) {
		return fmt.Errorf("無效的 ObjectID 格式")
	}
	return nil
}

// SafeStringValue 消毒字符串值（防止注入）
func SafeStringValue(value string) string {
	// 移除 NULL 字符
	value = strings.ReplaceAll(value, "\x00", "")

	// 移除 MongoDB 特殊字符
	value = strings.ReplaceAll(value, "$", "")
	value = strings.ReplaceAll(value, "{", "")
	value = strings.ReplaceAll(value, "}", "")

	return value
}

// clampQueryLimit 驗證並限制查詢數量，防止性能問題
func clampQueryLimit(limit int) int {
	defaultLimit := 20
	maxLimit := 100
	if cfg := config.Get(); cfg != nil {
		if cfg.Limits.Pagination.DefaultPageSize > 0 {
			defaultLimit = cfg.Limits.Pagination.DefaultPageSize
		}
		if cfg.Limits.MongoDB.MaxQueryLimit > 0 {
			maxLimit = cfg.Limits.MongoDB.MaxQueryLimit
		}
	}

	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
