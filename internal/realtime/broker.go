package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"show-messenger/internal/constants"
	"show-messenger/internal/platform/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// 事件類型常數
const (
	EventTypeMessage   = "message"   // 新訊息
	EventTypeRead      = "read"      // 已讀回執
	EventTypeModerated = "moderated" // 訊息被管理刪除
)

// redis 頻道前綴，按對話分頻道
const redisChannelPrefix = "showmsg:events:"

// Event 實時事件
type Event struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id"`
	MessageID      string          `json:"message_id,omitempty"`
	UserID         string          `json:"user_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Subscription 訂閱句柄
// C 關閉表示訂閱已失效（慢消費者或 Broker 關閉），訂閱者需要重新訂閱並補拉歷史
type Subscription struct {
	id             string
	conversationID string
	UserID         string
	C              chan Event

	closeOnce sync.Once
	broker    *Broker
}

// Close 取消訂閱
func (s *Subscription) Close() {
	s.broker.unsubscribe(s)
}

// Broker 實時事件代理
// 本地訂閱表 + 可選的 Redis Pub/Sub 橋接（跨實例廣播）
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[string]*Subscription // conversationID -> subID -> Subscription

	redisClient *redis.Client
	buffer      int

	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// NewBroker 創建事件代理
// redisClient 為 nil 時只做單實例本地廣播
func NewBroker(redisClient *redis.Client, buffer int) *Broker {
	if buffer <= 0 {
		buffer = constants.SubscriberChannelBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		subs:        make(map[string]map[string]*Subscription),
		redisClient: redisClient,
		buffer:      buffer,
		ctx:         ctx,
		cancel:      cancel,
	}

	if redisClient != nil {
		go b.redisLoop()
	}

	return b
}

// Subscribe 訂閱對話的實時事件
func (b *Broker) Subscribe(conversationID, userID string) *Subscription {
	sub := &Subscription{
		id:             uuid.New().String(),
		conversationID: conversationID,
		UserID:         userID,
		C:              make(chan Event, b.buffer),
		broker:         b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(sub.C)
		return sub
	}

	if b.subs[conversationID] == nil {
		b.subs[conversationID] = make(map[string]*Subscription)
	}
	b.subs[conversationID][sub.id] = sub

	return sub
}

// unsubscribe 移除訂閱
func (b *Broker) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	if m, ok := b.subs[sub.conversationID]; ok {
		if _, ok := m[sub.id]; ok {
			delete(m, sub.id)
			if len(m) == 0 {
				delete(b.subs, sub.conversationID)
			}
		}
	}
	b.mu.Unlock()

	sub.closeOnce.Do(func() {
		close(sub.C)
	})
}

// Publish 發佈事件
// 啟用 Redis 時經由 Pub/Sub 廣播（本實例由訂閱循環回送），
// 否則直接投遞給本地訂閱者
func (b *Broker) Publish(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if b.redisClient != nil {
		data, err := json.Marshal(event)
		if err != nil {
			logger.Errorf(ctx, "事件序列化失敗: %v", err)
			return
		}

		channel := redisChannelPrefix + event.ConversationID
		if err := b.redisClient.Publish(ctx, channel, data).Err(); err != nil {
			logger.Warningf(ctx, "Redis 廣播失敗，降級為本地投遞: %v", err)
			b.deliverLocal(event)
		}
		return
	}

	b.deliverLocal(event)
}

// deliverLocal 投遞事件給本地訂閱者
func (b *Broker) deliverLocal(event Event) {
	b.mu.RLock()
	var slow []*Subscription
	for _, sub := range b.subs[event.ConversationID] {
		select {
		case sub.C <- event:
		default:
			// 緩衝已滿，視為慢消費者，斷開讓其重連補拉
			slow = append(slow, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range slow {
		logger.Warning(context.Background(), "訂閱者事件緩衝已滿，斷開連接",
			logger.WithConversationID(sub.conversationID),
			logger.WithUserID(sub.UserID))
		b.unsubscribe(sub)
	}
}

// redisLoop Redis 訂閱循環，斷線後指數退避重連
func (b *Broker) redisLoop() {
	delay := time.Duration(constants.ReconnectBaseDelaySeconds) * time.Second
	maxDelay := time.Duration(constants.ReconnectMaxDelaySeconds) * time.Second

	for {
		select {
		case <-b.ctx.Done():
			return
		default:
		}

		pubsub := b.redisClient.PSubscribe(b.ctx, redisChannelPrefix+"*")
		ch := pubsub.Channel()

		// 成功建立訂閱後重置退避
		delay = time.Duration(constants.ReconnectBaseDelaySeconds) * time.Second

	recv:
		for {
			select {
			case <-b.ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}

				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					logger.Warningf(b.ctx, "無法解析 Redis 事件: %v", err)
					continue
				}
				b.deliverLocal(event)
			}
		}

		pubsub.Close()
		logger.Warningf(b.ctx, "Redis 訂閱中斷，%s 後重連", delay)

		select {
		case <-b.ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// SubscriberCount 獲取對話的本地訂閱者數量
func (b *Broker) SubscriberCount(conversationID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[conversationID])
}

// Close 關閉代理並斷開所有訂閱者
func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	b.closed = true
	all := make([]*Subscription, 0)
	for _, m := range b.subs {
		for _, sub := range m {
			all = append(all, sub)
		}
	}
	b.subs = make(map[string]map[string]*Subscription)
	b.mu.Unlock()

	for _, sub := range all {
		sub.closeOnce.Do(func() {
			close(sub.C)
		})
	}
}
