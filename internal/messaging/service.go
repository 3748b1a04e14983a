package messaging

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"show-messenger/internal/constants"
	"show-messenger/internal/platform/logger"
	"show-messenger/internal/realtime"
	"show-messenger/internal/security/audit"
	"show-messenger/internal/storage/database/conversation"
)

// Encryptor 訊息靜態加密接口
type Encryptor interface {
	EncryptMessage(content, conversationID string) (string, error)
	DecryptMessage(content, conversationID string) (string, error)
}

// RecentCache 最近訊息緩存接口，cache.RecentMessageCache 實作
type RecentCache interface {
	Enabled() bool
	Push(ctx context.Context, conversationID string, message interface{}) error
	Recent(ctx context.Context, conversationID string, limit int64, decode func([]byte) error) error
	Invalidate(ctx context.Context, conversationID string) error
}

// Service 訊息服務
// 所有操作都做成員資格檢查，未讀計數只在明確標記已讀時重置
type Service struct {
	conversations conversation.ConversationRepository
	messages      conversation.MessageRepository
	reports       conversation.ReportRepository
	encryptor     Encryptor
	auditor       *audit.AuditService
	broker        *realtime.Broker
	recentCache   RecentCache
	maxMessageLen int
}

// Options 服務選項
type Options struct {
	Conversations conversation.ConversationRepository
	Messages      conversation.MessageRepository
	Reports       conversation.ReportRepository
	Encryptor     Encryptor
	Auditor       *audit.AuditService
	Broker        *realtime.Broker
	RecentCache   RecentCache
	MaxMessageLen int
}

// NewService 創建訊息服務
func NewService(opts Options) *Service {
	maxLen := opts.MaxMessageLen
	if maxLen <= 0 {
		maxLen = constants.DefaultMaxMessageLength
	}

	return &Service{
		conversations: opts.Conversations,
		messages:      opts.Messages,
		reports:       opts.Reports,
		encryptor:     opts.Encryptor,
		auditor:       opts.Auditor,
		broker:        opts.Broker,
		recentCache:   opts.RecentCache,
		maxMessageLen: maxLen,
	}
}

// validateContent 驗證訊息內容
func (s *Service) validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	// 按 rune 計數，中文內容不受 UTF-8 編碼長度影響
	if utf8.RuneCountInString(content) > s.maxMessageLen {
		return ErrMessageTooLong
	}
	return nil
}

// generatePreview 生成對話列表的最後訊息預覽（按 rune 截斷）
func generatePreview(content string) string {
	content = strings.ReplaceAll(content, "\n", " ")
	if utf8.RuneCountInString(content) <= constants.PreviewMaxRunes {
		return content
	}

	runes := []rune(content)
	return string(runes[:constants.PreviewMaxRunes]) + "..."
}

// toDTO 轉換存儲模型為服務層訊息（解密、處理刪除佔位）
func (s *Service) toDTO(ctx context.Context, m *conversation.Message) *Message {
	dto := &Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ClientRef:      m.ClientRef,
		Type:           m.Type,
		CreatedAt:      m.CreatedAt,
		ReadByOther:    m.IsReadByOther(),
		Deleted:        m.Deleted,
	}

	// 刪除的訊息不返回原始內容，客戶端顯示佔位文案
	if m.Deleted {
		dto.Content = ModeratedPlaceholder
		return dto
	}

	content := m.Content
	if s.encryptor != nil {
		decrypted, err := s.encryptor.DecryptMessage(content, m.ConversationID)
		if err != nil {
			logger.Error(ctx, "訊息解密失敗",
				logger.WithMessageID(m.ID),
				logger.WithConversationID(m.ConversationID))
			content = ""
		} else {
			content = decrypted
		}
	}
	dto.Content = content

	return dto
}

// requireParticipant 檢查用戶是否為對話成員
func (s *Service) requireParticipant(ctx context.Context, conversationID, userID string) error {
	ok, err := s.conversations.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		if s.auditor != nil {
			s.auditor.LogAccessDenied(ctx, userID, conversationID, "not a participant")
		}
		return ErrNotParticipant
	}
	return nil
}

// GetMessages 獲取對話的訊息（倒序分頁）
// 首頁先查最近訊息緩存，整頁命中時不用回數據庫
func (s *Service) GetMessages(ctx context.Context, userID, conversationID string, limit int, cursor string) ([]*Message, string, bool, error) {
	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, "", false, err
	}

	if cursor == "" && limit > 0 {
		if cached, ok := s.recentPage(ctx, conversationID, limit); ok {
			nextCursor := cached[len(cached)-1].CreatedAt.Format(time.RFC3339)
			return cached, nextCursor, true, nil
		}
	}

	records, nextCursor, hasMore, err := s.messages.GetByConversationID(ctx, conversationID, limit, cursor)
	if err != nil {
		return nil, "", false, err
	}

	messages := make([]*Message, 0, len(records))
	for _, record := range records {
		messages = append(messages, s.toDTO(ctx, record))
	}

	return messages, nextCursor, hasMore, nil
}

// recentPage 嘗試從緩存讀取完整首頁（新的在前）
// 緩存存的是發送時的明文 DTO，命中時無需解密；不足一頁視為未命中
func (s *Service) recentPage(ctx context.Context, conversationID string, limit int) ([]*Message, bool) {
	if s.recentCache == nil || !s.recentCache.Enabled() {
		return nil, false
	}

	cached := make([]*Message, 0, limit)
	err := s.recentCache.Recent(ctx, conversationID, int64(limit), func(data []byte) error {
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		cached = append(cached, &m)
		return nil
	})
	if err != nil {
		logger.Warningf(ctx, "最近訊息緩存讀取失敗: %v", err)
		return nil, false
	}
	if len(cached) < limit {
		return nil, false
	}
	return cached, true
}

// GetRecentMessages 獲取某時間點之後的訊息（斷線重連後補拉）
func (s *Service) GetRecentMessages(ctx context.Context, userID, conversationID string, since time.Time, limit int) ([]*Message, error) {
	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	records, err := s.messages.GetRecentMessages(ctx, conversationID, since, limit)
	if err != nil {
		return nil, err
	}

	messages := make([]*Message, 0, len(records))
	for _, record := range records {
		messages = append(messages, s.toDTO(ctx, record))
	}

	return messages, nil
}

// SendMessage 發送一對一或群組訊息
// ConversationID 為空時按 RecipientID 查找或創建一對一對話
// ClientRef 相同的重送請求返回已存在的訊息，不產生重複
func (s *Service) SendMessage(ctx context.Context, req *SendMessageRequest) (*Message, error) {
	if err := s.validateContent(req.Content); err != nil {
		return nil, err
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conv, err := s.ensureDirectConversation(ctx, req.SenderID, req.RecipientID)
		if err != nil {
			return nil, err
		}
		conversationID = conv.ID
	} else {
		if err := s.requireParticipant(ctx, conversationID, req.SenderID); err != nil {
			return nil, err
		}
	}

	// 重送去重：相同 client_ref 直接返回既有訊息
	if req.ClientRef != "" {
		existing, err := s.messages.FindByClientRef(ctx, conversationID, req.SenderID, req.ClientRef)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return s.toDTO(ctx, existing), nil
		}
	}

	return s.persistAndPublish(ctx, conversationID, req.SenderID, req.Content, req.ClientRef, conversation.MessageTypeText)
}

// persistAndPublish 加密、落庫、更新對話快照並廣播事件
func (s *Service) persistAndPublish(ctx context.Context, conversationID, senderID, content, clientRef, messageType string) (*Message, error) {
	stored := content
	if s.encryptor != nil {
		encrypted, err := s.encryptor.EncryptMessage(content, conversationID)
		if err != nil {
			return nil, err
		}
		stored = encrypted
	}

	record := &conversation.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        stored,
		ClientRef:      clientRef,
		Type:           messageType,
	}

	if err := s.messages.Create(ctx, record); err != nil {
		// 唯一索引衝突表示並發重送，返回已存在的訊息
		if conversation.IsDuplicateClientRef(err) && clientRef != "" {
			existing, findErr := s.messages.FindByClientRef(ctx, conversationID, senderID, clientRef)
			if findErr == nil && existing != nil {
				return s.toDTO(ctx, existing), nil
			}
		}
		return nil, err
	}

	// 更新對話的最後訊息快照並累加其他成員的未讀計數
	preview := generatePreview(content)
	if err := s.conversations.ApplyLastMessage(ctx, conversationID, senderID, preview, record.CreatedAt); err != nil {
		logger.Warningf(ctx, "更新對話快照失敗: %v", err)
	}

	dto := &Message{
		ID:             record.ID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		ClientRef:      clientRef,
		Type:           messageType,
		CreatedAt:      record.CreatedAt,
	}

	// 最近訊息緩存（盡力而為）
	if s.recentCache != nil {
		if err := s.recentCache.Push(ctx, conversationID, dto); err != nil {
			logger.Warningf(ctx, "最近訊息緩存寫入失敗: %v", err)
		}
	}

	if s.auditor != nil {
		s.auditor.LogMessageSent(ctx, senderID, conversationID, record.ID, messageType)
	}

	s.publishEvent(ctx, realtime.Event{
		Type:           realtime.EventTypeMessage,
		ConversationID: conversationID,
		MessageID:      record.ID,
		UserID:         senderID,
		Payload:        marshalPayload(dto),
	})

	logger.Info(ctx, "訊息已發送",
		logger.WithUserID(senderID),
		logger.WithConversationID(conversationID),
		logger.WithMessageID(record.ID))

	return dto, nil
}

// ensureDirectConversation 查找或創建一對一對話
func (s *Service) ensureDirectConversation(ctx context.Context, senderID, recipientID string) (*conversation.Conversation, error) {
	if recipientID == "" || recipientID == senderID {
		return nil, ErrSelfConversation
	}

	existing, err := s.conversations.FindDirectConversation(ctx, senderID, recipientID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now()
	conv := &conversation.Conversation{
		Type:    conversation.TypeDirect,
		OwnerID: senderID,
		Participants: []conversation.Participant{
			{UserID: senderID, JoinedAt: now, LastReadAt: now},
			{UserID: recipientID, JoinedAt: now, LastReadAt: now},
		},
	}

	if err := s.conversations.Create(ctx, conv); err != nil {
		return nil, err
	}

	if s.auditor != nil {
		s.auditor.LogConversationCreation(ctx, senderID, conv.ID, conversation.TypeDirect)
	}

	return conv, nil
}

// CreateGroup 創建群組對話
func (s *Service) CreateGroup(ctx context.Context, req *CreateGroupRequest) (*ConversationSummary, error) {
	now := time.Now()

	// 創建者必須在成員列表中
	participants := []conversation.Participant{
		{UserID: req.OwnerID, JoinedAt: now, LastReadAt: now},
	}
	seen := map[string]bool{req.OwnerID: true}
	for _, id := range req.ParticipantIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		participants = append(participants, conversation.Participant{UserID: id, JoinedAt: now, LastReadAt: now})
	}

	conv := &conversation.Conversation{
		Type:         conversation.TypeGroup,
		Name:         strings.TrimSpace(req.Name),
		ShowID:       req.ShowID,
		OwnerID:      req.OwnerID,
		Participants: participants,
	}

	if err := s.conversations.Create(ctx, conv); err != nil {
		return nil, err
	}

	if s.auditor != nil {
		s.auditor.LogConversationCreation(ctx, req.OwnerID, conv.ID, conversation.TypeGroup)
	}

	return s.summaryFor(conv, req.OwnerID), nil
}

// Broadcast 發送展會廣播
// 廣播頻道不存在時自動創建，調用方負責角色檢查
func (s *Service) Broadcast(ctx context.Context, req *BroadcastRequest) (*Message, error) {
	if err := s.validateContent(req.Content); err != nil {
		return nil, err
	}
	if req.ShowID == "" {
		return nil, ErrNotFound
	}

	conv, err := s.ensureShowChannel(ctx, req.ShowID, req.SenderID)
	if err != nil {
		return nil, err
	}

	if req.ClientRef != "" {
		existing, err := s.messages.FindByClientRef(ctx, conv.ID, req.SenderID, req.ClientRef)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return s.toDTO(ctx, existing), nil
		}
	}

	return s.persistAndPublish(ctx, conv.ID, req.SenderID, req.Content, req.ClientRef, conversation.MessageTypeBroadcast)
}

// ensureShowChannel 查找或創建展會廣播頻道
func (s *Service) ensureShowChannel(ctx context.Context, showID, operatorID string) (*conversation.Conversation, error) {
	// 廣播頻道以 show_id 為唯一標識，不分操作者
	existing, err := s.conversations.FindShowChannel(ctx, showID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		// 其他廣播角色（如管理員）首次廣播時補加入頻道
		joined := false
		for _, p := range existing.Participants {
			if p.UserID == operatorID {
				joined = true
				break
			}
		}
		if !joined {
			now := time.Now()
			participant := &conversation.Participant{
				UserID:     operatorID,
				Role:       constants.RoleShowOrganizer,
				JoinedAt:   now,
				LastReadAt: now,
			}
			if err := s.conversations.AddParticipant(ctx, existing.ID, participant); err != nil {
				return nil, err
			}
			existing.Participants = append(existing.Participants, *participant)
		}
		return existing, nil
	}

	now := time.Now()
	conv := &conversation.Conversation{
		Type:    conversation.TypeShow,
		Name:    "展會公告",
		ShowID:  showID,
		OwnerID: operatorID,
		Participants: []conversation.Participant{
			{UserID: operatorID, Role: constants.RoleShowOrganizer, JoinedAt: now, LastReadAt: now},
		},
	}

	if err := s.conversations.Create(ctx, conv); err != nil {
		return nil, err
	}

	if s.auditor != nil {
		s.auditor.LogConversationCreation(ctx, operatorID, conv.ID, conversation.TypeShow)
	}

	return conv, nil
}

// AddParticipant 添加群組成員（限群主或管理角色）
func (s *Service) AddParticipant(ctx context.Context, operatorID, operatorRole, conversationID, userID string) error {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return ErrNotFound
	}
	if conv.Type == conversation.TypeDirect {
		return ErrNotAuthorized
	}
	if conv.OwnerID != operatorID && !constants.CanModerate(operatorRole) {
		return ErrNotAuthorized
	}

	now := time.Now()
	participant := &conversation.Participant{
		UserID:     userID,
		JoinedAt:   now,
		LastReadAt: now,
	}
	if err := s.conversations.AddParticipant(ctx, conversationID, participant); err != nil {
		return err
	}

	if s.auditor != nil {
		s.auditor.LogParticipantAdded(ctx, operatorID, conversationID, userID)
	}

	return nil
}

// RemoveParticipant 移除群組成員（本人退出，或群主/管理角色移除）
func (s *Service) RemoveParticipant(ctx context.Context, operatorID, operatorRole, conversationID, userID string) error {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return ErrNotFound
	}
	if conv.Type == conversation.TypeDirect {
		return ErrNotAuthorized
	}
	if operatorID != userID && conv.OwnerID != operatorID && !constants.CanModerate(operatorRole) {
		return ErrNotAuthorized
	}

	if err := s.conversations.RemoveParticipant(ctx, conversationID, userID); err != nil {
		return err
	}

	if s.auditor != nil {
		s.auditor.LogParticipantRemoved(ctx, operatorID, conversationID, userID)
	}

	return nil
}

// JoinShowChannel 加入展會廣播頻道（任何用戶都可自行加入）
func (s *Service) JoinShowChannel(ctx context.Context, userID, conversationID string) error {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return ErrNotFound
	}
	if conv.Type != conversation.TypeShow {
		return ErrNotAuthorized
	}

	now := time.Now()
	participant := &conversation.Participant{
		UserID:     userID,
		JoinedAt:   now,
		LastReadAt: now,
	}
	if err := s.conversations.AddParticipant(ctx, conversationID, participant); err != nil {
		return err
	}

	if s.auditor != nil {
		s.auditor.LogParticipantAdded(ctx, userID, conversationID, userID)
	}

	return nil
}

// MarkMessageAsRead 標記單條訊息為已讀
func (s *Service) MarkMessageAsRead(ctx context.Context, userID, conversationID, messageID string) error {
	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return err
	}

	if err := s.messages.MarkAsRead(ctx, conversationID, userID, &messageID); err != nil {
		return err
	}

	if s.auditor != nil {
		s.auditor.LogMessageRead(ctx, userID, conversationID, messageID)
	}

	s.publishEvent(ctx, realtime.Event{
		Type:           realtime.EventTypeRead,
		ConversationID: conversationID,
		MessageID:      messageID,
		UserID:         userID,
	})

	return nil
}

// MarkConversationAsRead 標記整個對話為已讀並重置未讀計數
// 未讀計數只會在這裡歸零，收訊息不會
func (s *Service) MarkConversationAsRead(ctx context.Context, userID, conversationID string) error {
	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return err
	}

	if err := s.messages.MarkAsRead(ctx, conversationID, userID, nil); err != nil {
		return err
	}

	if err := s.conversations.ResetUnread(ctx, conversationID, userID); err != nil {
		return err
	}

	if s.auditor != nil {
		s.auditor.LogMessageRead(ctx, userID, conversationID, "")
	}

	s.publishEvent(ctx, realtime.Event{
		Type:           realtime.EventTypeRead,
		ConversationID: conversationID,
		UserID:         userID,
	})

	return nil
}

// ListConversations 列出用戶的對話（按最後訊息時間倒序，游標分頁）
func (s *Service) ListConversations(ctx context.Context, userID string, limit int, cursor string) ([]*ConversationSummary, string, bool, error) {
	if limit <= 0 {
		limit = constants.DefaultPageSize
	}

	convs, nextCursor, hasMore, err := s.conversations.ListUserConversations(ctx, userID, limit, cursor)
	if err != nil {
		return nil, "", false, err
	}

	summaries := make([]*ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		summaries = append(summaries, s.summaryFor(conv, userID))
	}

	return summaries, nextCursor, hasMore, nil
}

// summaryFor 轉換為請求者視角的對話摘要
func (s *Service) summaryFor(conv *conversation.Conversation, userID string) *ConversationSummary {
	unread := 0
	if conv.UnreadCounts != nil {
		unread = conv.UnreadCounts[userID]
	}

	return &ConversationSummary{
		ID:            conv.ID,
		Type:          conv.Type,
		Name:          conv.Name,
		ShowID:        conv.ShowID,
		Participants:  conv.Participants,
		LastMessage:   conv.LastMessage,
		LastMessageAt: conv.LastMessageAt,
		UnreadCount:   unread,
	}
}

// GetConversation 獲取單個對話摘要
func (s *Service) GetConversation(ctx context.Context, userID, conversationID string) (*ConversationSummary, error) {
	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	return s.summaryFor(conv, userID), nil
}

// Subscribe 訂閱對話的實時事件
func (s *Service) Subscribe(ctx context.Context, userID, conversationID string) (*realtime.Subscription, error) {
	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	if s.broker == nil {
		return nil, ErrNotFound
	}

	return s.broker.Subscribe(conversationID, userID), nil
}

// ReportMessage 舉報訊息
func (s *Service) ReportMessage(ctx context.Context, req *ReportRequest) (*conversation.MessageReport, error) {
	msg, err := s.messages.GetByID(ctx, req.MessageID)
	if err != nil {
		return nil, ErrNotFound
	}

	if err := s.requireParticipant(ctx, msg.ConversationID, req.ReporterID); err != nil {
		return nil, err
	}

	// 舉報僅限群組與展會頻道
	conv, err := s.conversations.GetByID(ctx, msg.ConversationID)
	if err != nil {
		return nil, ErrNotFound
	}
	if conv.Type == conversation.TypeDirect {
		return nil, ErrNotAuthorized
	}

	// 重複舉報冪等：返回已存在的舉報
	if existing, err := s.reports.FindByMessageAndReporter(ctx, msg.ID, req.ReporterID); err == nil && existing != nil {
		return existing, nil
	}

	report := &conversation.MessageReport{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		ReporterID:     req.ReporterID,
		Reason:         strings.TrimSpace(req.Reason),
	}

	if err := s.reports.Create(ctx, report); err != nil {
		// 併發下唯一索引衝突，取回已存在的舉報
		if conversation.IsDuplicateReport(err) {
			if existing, findErr := s.reports.FindByMessageAndReporter(ctx, msg.ID, req.ReporterID); findErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}

	if s.auditor != nil {
		s.auditor.LogMessageReported(ctx, req.ReporterID, msg.ConversationID, msg.ID, report.Reason)
	}

	return report, nil
}

// ListOpenReports 列出未處理的舉報（管理操作）
func (s *Service) ListOpenReports(ctx context.Context, moderatorRole string, limit int) ([]*conversation.MessageReport, error) {
	if !constants.CanModerate(moderatorRole) {
		return nil, ErrNotAuthorized
	}
	return s.reports.ListOpen(ctx, limit)
}

// ModerateMessage 管理刪除訊息（軟刪除，保留審計記錄）
func (s *Service) ModerateMessage(ctx context.Context, moderatorID, moderatorRole, messageID, reason string) error {
	if !constants.CanModerate(moderatorRole) {
		return ErrNotAuthorized
	}

	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return ErrNotFound
	}
	if msg.Deleted {
		return ErrMessageDeleted
	}

	// 一對一對話不受管理操作管轄
	conv, err := s.conversations.GetByID(ctx, msg.ConversationID)
	if err != nil {
		return ErrNotFound
	}
	if conv.Type == conversation.TypeDirect {
		return ErrNotAuthorized
	}

	if err := s.messages.SoftDelete(ctx, messageID, moderatorID, reason); err != nil {
		return err
	}

	// 緩存中仍是原始內容，直接作廢
	if s.recentCache != nil {
		if err := s.recentCache.Invalidate(ctx, msg.ConversationID); err != nil {
			logger.Warningf(ctx, "緩存作廢失敗: %v", err)
		}
	}

	if s.auditor != nil {
		s.auditor.LogMessageModerated(ctx, moderatorID, msg.ConversationID, messageID, reason)
	}

	s.publishEvent(ctx, realtime.Event{
		Type:           realtime.EventTypeModerated,
		ConversationID: msg.ConversationID,
		MessageID:      messageID,
		UserID:         moderatorID,
	})

	return nil
}

// GetUnreadCount 獲取用戶在對話中的未讀訊息數量
func (s *Service) GetUnreadCount(ctx context.Context, userID, conversationID string) (int, error) {
	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return 0, err
	}
	return s.messages.GetUnreadCount(ctx, conversationID, userID)
}

// publishEvent 廣播事件（broker 未配置時跳過）
func (s *Service) publishEvent(ctx context.Context, event realtime.Event) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(ctx, event)
}

// marshalPayload 序列化事件負載
func marshalPayload(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
