package client

import (
	"context"
	"sort"
	"strings"
	"sync"

	"show-messenger/internal/constants"
	"show-messenger/internal/messaging"
	"show-messenger/internal/realtime"
	"show-messenger/internal/storage/database/conversation"
)

// EmptyState 列表空狀態
type EmptyState int

const (
	// EmptyStateNone 有內容可顯示
	EmptyStateNone EmptyState = iota
	// EmptyStateNoConversations 完全沒有對話
	EmptyStateNoConversations
	// EmptyStateNoMatches 有對話但搜索無結果
	EmptyStateNoMatches
)

// ConversationList 對話列表
// 持有已加載的對話集合，按最後訊息時間倒序，搜索只在已加載集合上做
type ConversationList struct {
	svc    MessagingService
	userID string

	mu      sync.Mutex
	items   []*messaging.ConversationSummary
	byID    map[string]*messaging.ConversationSummary
	cursor  string
	hasMore bool
	loaded  bool
	query   string
}

// NewConversationList 創建對話列表
func NewConversationList(svc MessagingService, userID string) *ConversationList {
	return &ConversationList{
		svc:    svc,
		userID: userID,
		byID:   make(map[string]*messaging.ConversationSummary),
	}
}

// LoadPage 加載下一頁並合併（按 ID 去重，容忍頁面重疊）
func (l *ConversationList) LoadPage(ctx context.Context) error {
	l.mu.Lock()
	cursor := l.cursor
	loaded := l.loaded
	hasMore := l.hasMore
	l.mu.Unlock()

	if loaded && !hasMore {
		return nil
	}

	page, next, more, err := l.svc.ListConversations(ctx, constants.DefaultPageSize, cursor)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, conv := range page {
		if existing, ok := l.byID[conv.ID]; ok {
			*existing = *conv
			continue
		}
		l.byID[conv.ID] = conv
		l.items = append(l.items, conv)
	}
	l.resortLocked()

	l.cursor = next
	l.hasMore = more
	l.loaded = true
	return nil
}

// resortLocked 按最後訊息時間倒序排列，沒有訊息的對話排最後
func (l *ConversationList) resortLocked() {
	sort.SliceStable(l.items, func(i, j int) bool {
		a, b := l.items[i], l.items[j]
		if a.LastMessageAt.IsZero() {
			return false
		}
		if b.LastMessageAt.IsZero() {
			return true
		}
		return a.LastMessageAt.After(b.LastMessageAt)
	})
}

// SetQuery 更新搜索關鍵字（每次輸入同步重算，不打後端）
func (l *ConversationList) SetQuery(query string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.query = strings.TrimSpace(query)
}

// Visible 獲取當前可見的對話（已應用排序與搜索）
func (l *ConversationList) Visible() []*messaging.ConversationSummary {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.query == "" {
		out := make([]*messaging.ConversationSummary, len(l.items))
		copy(out, l.items)
		return out
	}

	query := strings.ToLower(l.query)
	var out []*messaging.ConversationSummary
	for _, conv := range l.items {
		if matchesQuery(conv, query) {
			out = append(out, conv)
		}
	}
	return out
}

// matchesQuery 大小寫不敏感的子串匹配
// 匹配對話名、成員顯示名，以及非一對一對話的最後訊息內容
func matchesQuery(conv *messaging.ConversationSummary, query string) bool {
	if strings.Contains(strings.ToLower(conv.Name), query) {
		return true
	}
	for _, p := range conv.Participants {
		if strings.Contains(strings.ToLower(p.DisplayName), query) {
			return true
		}
	}
	if conv.Type != conversation.TypeDirect &&
		strings.Contains(strings.ToLower(conv.LastMessage), query) {
		return true
	}
	return false
}

// State 獲取列表空狀態（區分「沒有對話」與「搜索無結果」）
func (l *ConversationList) State() EmptyState {
	visible := l.Visible()

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(visible) > 0 {
		return EmptyStateNone
	}
	if len(l.items) == 0 {
		return EmptyStateNoConversations
	}
	return EmptyStateNoMatches
}

// HasMore 是否還有更多頁
func (l *ConversationList) HasMore() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hasMore
}

// ApplyEvent 將實時事件合併進列表狀態
// 新訊息更新對話快照與未讀數，已讀事件把自己的未讀歸零
func (l *ConversationList) ApplyEvent(event realtime.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	conv, ok := l.byID[event.ConversationID]
	if !ok {
		return
	}

	switch event.Type {
	case realtime.EventTypeMessage:
		if !event.Timestamp.Before(conv.LastMessageAt) {
			conv.LastMessageAt = event.Timestamp
		}
		if event.UserID != l.userID {
			conv.UnreadCount++
		}
		l.resortLocked()
	case realtime.EventTypeRead:
		if event.UserID == l.userID {
			conv.UnreadCount = 0
		}
	}
}

// MarkRead 打開對話後本地歸零未讀（服務端由 Chat Window 標記）
func (l *ConversationList) MarkRead(conversationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if conv, ok := l.byID[conversationID]; ok {
		conv.UnreadCount = 0
	}
}
