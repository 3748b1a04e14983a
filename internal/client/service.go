package client

import (
	"context"

	"show-messenger/internal/messaging"
	"show-messenger/internal/realtime"
)

// MessagingService 客戶端依賴的訊息服務契約
// 由 apiclient 提供 HTTP/SSE 實作，測試中可替換為假實作
type MessagingService interface {
	// GetMessages 獲取對話訊息（升序返回，便於直接渲染時間線）
	GetMessages(ctx context.Context, conversationID string, limit int, cursor string) ([]*messaging.Message, string, bool, error)
	// SendMessage 發送訊息，ConversationID 為空時按 RecipientID 開新對話
	SendMessage(ctx context.Context, req *messaging.SendMessageRequest) (*messaging.Message, error)
	// MarkMessageAsRead 標記單條訊息已讀
	MarkMessageAsRead(ctx context.Context, conversationID, messageID string) error
	// MarkConversationAsRead 標記整個對話已讀並重置未讀計數
	MarkConversationAsRead(ctx context.Context, conversationID string) error
	// ListConversations 列出當前用戶的對話
	ListConversations(ctx context.Context, limit int, cursor string) ([]*messaging.ConversationSummary, string, bool, error)
	// Subscribe 訂閱對話的實時事件
	Subscribe(ctx context.Context, conversationID string) (EventStream, error)
	// ReportMessage 舉報訊息
	ReportMessage(ctx context.Context, req *messaging.ReportRequest) error
	// ModerateMessage 管理刪除訊息
	ModerateMessage(ctx context.Context, messageID, reason string) error
}

// EventStream 實時事件流句柄
// Events 返回的通道關閉表示流已失效，調用方需重新訂閱並補拉歷史
type EventStream interface {
	Events() <-chan realtime.Event
	Close() error
}
