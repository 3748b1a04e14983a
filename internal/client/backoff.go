package client

import (
	"time"

	"show-messenger/internal/constants"
)

// Backoff 重連退避：從基準間隔開始指數增長到上限，成功後重置
type Backoff struct {
	current time.Duration
	base    time.Duration
	max     time.Duration
}

// NewBackoff 創建默認退避（1s 起步，上限 30s）
func NewBackoff() *Backoff {
	base := time.Duration(constants.ReconnectBaseDelaySeconds) * time.Second
	max := time.Duration(constants.ReconnectMaxDelaySeconds) * time.Second
	return &Backoff{current: base, base: base, max: max}
}

// Next 返回本次等待間隔並推進到下一檔
func (b *Backoff) Next() time.Duration {
	d := b.current
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

// After 返回按當前間隔觸發的計時通道
func (b *Backoff) After() <-chan time.Time {
	return time.After(b.Next())
}

// Reset 重置回基準間隔
func (b *Backoff) Reset() {
	b.current = b.base
}
