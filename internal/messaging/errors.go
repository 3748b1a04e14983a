package messaging

import "errors"

// 服務層錯誤，handler 據此映射 HTTP 狀態碼
var (
	// ErrNotParticipant 用戶不是對話成員
	ErrNotParticipant = errors.New("user is not a participant of the conversation")
	// ErrNotAuthorized 用戶沒有執行該操作的權限
	ErrNotAuthorized = errors.New("user is not authorized for this operation")
	// ErrNotFound 資源不存在
	ErrNotFound = errors.New("resource not found")
	// ErrEmptyMessage 訊息內容為空
	ErrEmptyMessage = errors.New("message content is empty")
	// ErrMessageTooLong 訊息內容超過長度限制
	ErrMessageTooLong = errors.New("message content exceeds maximum length")
	// ErrMessageDeleted 訊息已被管理刪除
	ErrMessageDeleted = errors.New("message has been removed by moderation")
	// ErrSelfConversation 不能與自己建立一對一對話
	ErrSelfConversation = errors.New("cannot start a direct conversation with yourself")
)
