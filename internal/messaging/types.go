package messaging

import (
	"time"

	"show-messenger/internal/storage/database/conversation"
)

// 刪除訊息的佔位文案，客戶端直接顯示
const ModeratedPlaceholder = "此訊息已被管理員移除"

// Message 服務層訊息（內容已解密）
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	ClientRef      string    `json:"client_ref,omitempty"`
	Type           string    `json:"type"`
	CreatedAt      time.Time `json:"created_at"`
	ReadByOther    bool      `json:"read_by_other"`
	Deleted        bool      `json:"deleted"`
}

// ConversationSummary 對話摘要（帶請求者視角的未讀數）
type ConversationSummary struct {
	ID            string                     `json:"id"`
	Type          string                     `json:"type"`
	Name          string                     `json:"name,omitempty"`
	ShowID        string                     `json:"show_id,omitempty"`
	Participants  []conversation.Participant `json:"participants"`
	LastMessage   string                     `json:"last_message"`
	LastMessageAt time.Time                  `json:"last_message_at"`
	UnreadCount   int                        `json:"unread_count"`
}

// SendMessageRequest 發送訊息請求
// ConversationID 為空時按 RecipientID 查找或創建一對一對話
type SendMessageRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	RecipientID    string `json:"recipient_id,omitempty"`
	SenderID       string `json:"-"`
	Content        string `json:"content"`
	ClientRef      string `json:"client_ref,omitempty"`
}

// CreateGroupRequest 創建群組對話請求
type CreateGroupRequest struct {
	OwnerID        string   `json:"-"`
	Name           string   `json:"name"`
	ParticipantIDs []string `json:"participant_ids"`
	ShowID         string   `json:"show_id,omitempty"`
}

// BroadcastRequest 展會廣播請求
type BroadcastRequest struct {
	SenderID  string `json:"-"`
	ShowID    string `json:"show_id"`
	Content   string `json:"content"`
	ClientRef string `json:"client_ref,omitempty"`
}

// ReportRequest 舉報訊息請求
type ReportRequest struct {
	ReporterID string `json:"-"`
	MessageID  string `json:"message_id"`
	Reason     string `json:"reason"`
}
