package audit

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"show-messenger/internal/platform/middleware"
)

// AuditService 審計服務
type AuditService struct {
	enabled bool
	logger  *log.Logger
}

// NewAuditService 創建審計服務
func NewAuditService(enabled bool) *AuditService {
	return &AuditService{
		enabled: enabled,
		logger:  log.Default(),
	}
}

// AuditEvent 審計事件
type AuditEvent struct {
	Timestamp      time.Time              `json:"timestamp"`
	EventType      string                 `json:"event_type"`
	UserID         string                 `json:"user_id"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	MessageID      string                 `json:"message_id,omitempty"`
	Action         string                 `json:"action"`
	Result         string                 `json:"result"` // success, failure
	Details        map[string]interface{} `json:"details,omitempty"`
	IPAddress      string                 `json:"ip_address,omitempty"`
	UserAgent      string                 `json:"user_agent,omitempty"`
}

// LogConversationCreation 記錄對話創建
func (a *AuditService) LogConversationCreation(ctx context.Context, userID, conversationID, conversationType string) {
	if !a.enabled {
		return
	}

	event := AuditEvent{
		Timestamp:      time.Now(),
		EventType:      "conversation_creation",
		UserID:         userID,
		ConversationID: conversationID,
		Action:         "create_conversation",
		Result:         "success",
		Details: map[string]interface{}{
			"conversation_type": conversationType,
		},
	}

	a.enrichWithMetadata(ctx, &event)
	a.log(event)
}

// LogMessageSent 記錄訊息發送
func (a *AuditService) LogMessageSent(ctx context.Context, userID, conversationID, messageID, messageType string) {
	if !a.enabled {
		return
	}

	event := AuditEvent{
		Timestamp:      time.Now(),
		EventType:      "message_sent",
		UserID:         userID,
		ConversationID: conversationID,
		MessageID:      messageID,
		Action:         "send_message",
		Result:         "success",
		Details: map[string]interface{}{
			"message_type": messageType,
		},
	}

	a.log(event)
}

// LogMessageRead 記錄訊息已讀
func (a *AuditService) LogMessageRead(ctx context.Context, userID, conversationID, messageID string) {
	if !a.enabled {
		return
	}

	event := AuditEvent{
		Timestamp:      time.Now(),
		EventType:      "message_read",
		UserID:         userID,
		ConversationID: conversationID,
		MessageID:      messageID,
		Action:         "mark_as_read",
		Result:         "success",
	}

	a.log(event)
}

// LogMessageReported 記錄訊息舉報
func (a *AuditService) LogMessageReported(ctx context.Context, reporterID, conversationID, messageID, reason string) {
	if !a.enabled {
		return
	}

	event := AuditEvent{
		Timestamp:      time.Now(),
		EventType:      "message_reported",
		UserID:         reporterID,
		ConversationID: conversationID,
		MessageID:      messageID,
		Action:         "report_message",
		Result:         "success",
		Details: map[string]interface{}{
			"reason": reason,
		},
	}

	a.enrichWithMetadata(ctx, &event)
	a.log(event)
}

// LogMessageModerated 記錄訊息管理刪除
func (a *AuditService) LogMessageModerated(ctx context.Context, moderatorID, conversationID, messageID, reason string) {
	if !a.enabled {
		return
	}

	event := AuditEvent{
		Timestamp:      time.Now(),
		EventType:      "message_moderated",
		UserID:         moderatorID,
		ConversationID: conversationID,
		MessageID:      messageID,
		Action:         "moderate_message",
		Result:         "success",
		Details: map[string]interface{}{
			"reason": reason,
		},
	}

	a.enrichWithMetadata(ctx, &event)
	a.log(event)
}

// LogParticipantAdded 記錄添加成員
func (a *AuditService) LogParticipantAdded(ctx context.Context, operatorID, conversationID, participantID string) {
	if !a.enabled {
		return
	}

	event := AuditEvent{
		Timestamp:      time.Now(),
		EventType:      "participant_added",
		UserID:         operatorID,
		ConversationID: conversationID,
		Action:         "add_participant",
		Result:         "success",
		Details: map[string]interface{}{
			"participant_id": participantID,
		},
	}

	a.log(event)
}

// LogParticipantRemoved 記錄移除成員
func (a *AuditService) LogParticipantRemoved(ctx context.Context, operatorID, conversationID, participantID string) {
	if !a.enabled {
		return
	}

	event := AuditEvent{
		Timestamp:      time.Now(),
		EventType:      "participant_removed",
		UserID:         operatorID,
		ConversationID: conversationID,
		Action:         "remove_participant",
		Result:         "success",
		Details: map[string]interface{}{
			"participant_id": participantID,
		},
	}

	a.log(event)
}

// LogAuthenticationFailure 記錄認證失敗
func (a *AuditService) LogAuthenticationFailure(ctx context.Context, userID, reason string) {
	if !a.enabled {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: "authentication",
		UserID:    userID,
		Action:    "authenticate",
		Result:    "failure",
		Details: map[string]interface{}{
			"reason": reason,
		},
	}

	a.log(event)
}

// LogAccessDenied 記錄訪問被拒絕
func (a *AuditService) LogAccessDenied(ctx context.Context, userID, conversationID, reason string) {
	if !a.enabled {
		return
	}

	event := AuditEvent{
		Timestamp:      time.Now(),
		EventType:      "access_denied",
		UserID:         userID,
		ConversationID: conversationID,
		Action:         "access_resource",
		Result:         "denied",
		Details: map[string]interface{}{
			"reason": reason,
		},
	}

	a.log(event)
}

// LogRateLimitExceeded 記錄速率限制超過
func (a *AuditService) LogRateLimitExceeded(ctx context.Context, ipAddress, endpoint string) {
	if !a.enabled {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: "rate_limit",
		Action:    "api_request",
		Result:    "blocked",
		IPAddress: ipAddress,
		Details: map[string]interface{}{
			"endpoint": endpoint,
			"reason":   "rate_limit_exceeded",
		},
	}

	a.log(event)
}

// log 記錄審計事件
func (a *AuditService) log(event AuditEvent) {
	// 轉換為 JSON
	jsonData, err := json.Marshal(event)
	if err != nil {
		a.logger.Printf("[AUDIT-ERROR] Failed to marshal event: %v", err)
		return
	}

	// 記錄到日誌
	a.logger.Printf("[AUDIT] %s", string(jsonData))
}

// IsEnabled 檢查審計是否啟用
func (a *AuditService) IsEnabled() bool {
	return a.enabled
}

// enrichWithMetadata 從 context 提取元數據並豐富審計事件
func (a *AuditService) enrichWithMetadata(ctx context.Context, event *AuditEvent) {
	meta := middleware.GetRequestMetadata(ctx)
	if meta != nil {
		event.IPAddress = meta.IPAddress
		event.UserAgent = meta.UserAgent
	}
}
