package client

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"show-messenger/internal/constants"
	"show-messenger/internal/messaging"
	"show-messenger/internal/platform/logger"
	"show-messenger/internal/realtime"
)

// 客戶端錯誤
var (
	// ErrEmptyBody 訊息內容去除空白後為空
	ErrEmptyBody = errors.New("message body is empty")
	// ErrBodyTooLong 訊息內容超過長度上限
	ErrBodyTooLong = errors.New("message body exceeds maximum length")
	// ErrRetryExhausted 重試次數已達上限，需要用戶重新發送
	ErrRetryExhausted = errors.New("retry limit reached, send as a new message")
	// ErrPendingNotFound 指定的待重試訊息不存在
	ErrPendingNotFound = errors.New("pending send not found")
)

// PendingSend 發送失敗的待重試訊息
// 僅存在於客戶端，重試成功後移除
type PendingSend struct {
	ClientRef  string
	Body       string
	RetryCount int
	Terminal   bool // 達到重試上限，不再自動重試
	LastError  string
}

// ChatWindow 單個對話的訊息時間線
// 打開後訂閱為新訊息的唯一來源，發送成功不本地插入，等事件回送（按 ID 去重）
type ChatWindow struct {
	svc            MessagingService
	userID         string
	conversationID string
	recipientID    string // 首次發訊開新對話時使用

	mu       sync.Mutex
	messages []*messaging.Message
	byID     map[string]int // message ID -> messages 索引
	pending  []*PendingSend

	nearBottom  bool
	unseenCount int
	loadFailed  bool

	stream EventStream
	done   chan struct{}

	maxBodyLen int
	retryLimit int
}

// WindowOption 視窗選項
type WindowOption func(*ChatWindow)

// WithRecipient 指定收件人（尚無對話時首條訊息會開新對話）
func WithRecipient(recipientID string) WindowOption {
	return func(w *ChatWindow) {
		w.recipientID = recipientID
	}
}

// WithMaxBodyLength 覆蓋訊息長度上限
func WithMaxBodyLength(n int) WindowOption {
	return func(w *ChatWindow) {
		if n > 0 {
			w.maxBodyLen = n
		}
	}
}

// NewChatWindow 創建對話視窗
func NewChatWindow(svc MessagingService, userID, conversationID string, opts ...WindowOption) *ChatWindow {
	w := &ChatWindow{
		svc:            svc,
		userID:         userID,
		conversationID: conversationID,
		byID:           make(map[string]int),
		nearBottom:     true,
		maxBodyLen:     constants.DefaultMaxMessageLength,
		retryLimit:     constants.DefaultSendRetryLimit,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Open 打開視窗：拉取歷史、標記已讀、建立訂閱
// 順序固定：先有完整歷史再開始收事件，事件按 ID 去重所以重疊無害
func (w *ChatWindow) Open(ctx context.Context) error {
	if w.conversationID == "" {
		// 尚無對話，首條訊息發出後才會有
		return nil
	}

	if err := w.refreshHistory(ctx); err != nil {
		w.mu.Lock()
		w.loadFailed = true
		w.mu.Unlock()
		return err
	}

	if err := w.svc.MarkConversationAsRead(ctx, w.conversationID); err != nil {
		logger.Warningf(ctx, "標記對話已讀失敗: %v", err)
	}

	stream, err := w.svc.Subscribe(ctx, w.conversationID)
	if err != nil {
		w.mu.Lock()
		w.loadFailed = true
		w.mu.Unlock()
		return err
	}

	w.mu.Lock()
	w.loadFailed = false
	// 重新打開時先停掉舊的事件循環
	if w.done != nil {
		select {
		case <-w.done:
		default:
			close(w.done)
		}
	}
	w.stream = stream
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()

	go w.eventLoop(ctx, stream, done)
	return nil
}

// refreshHistory 重新拉取完整訊息歷史（初次打開與重連後補拉）
func (w *ChatWindow) refreshHistory(ctx context.Context) error {
	var all []*messaging.Message
	cursor := ""
	for {
		page, next, hasMore, err := w.svc.GetMessages(ctx, w.conversationID, constants.DefaultMaxPageSize, cursor)
		if err != nil {
			return err
		}
		all = append(all, page...)
		if !hasMore {
			break
		}
		cursor = next
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	w.mu.Lock()
	w.messages = w.messages[:0]
	w.byID = make(map[string]int, len(all))
	for _, m := range all {
		if _, dup := w.byID[m.ID]; dup {
			continue
		}
		w.byID[m.ID] = len(w.messages)
		w.messages = append(w.messages, m)
	}
	w.mu.Unlock()

	return nil
}

// eventLoop 消費事件流直到流關閉或視窗關閉
// 流關閉時按指數退避重新訂閱並補拉歷史，填補斷線期間的空洞
func (w *ChatWindow) eventLoop(ctx context.Context, stream EventStream, done chan struct{}) {
	backoff := NewBackoff()

	for {
		ch := stream.Events()
	recv:
		for {
			select {
			case <-done:
				stream.Close()
				return
			case event, ok := <-ch:
				if !ok {
					break recv
				}
				backoff.Reset()
				w.HandleEvent(ctx, event)
			}
		}

		stream.Close()

		// 斷線重連
		for {
			select {
			case <-done:
				return
			case <-backoff.After():
			}

			next, err := w.svc.Subscribe(ctx, w.ConversationID())
			if err != nil {
				logger.Warningf(ctx, "重新訂閱失敗，稍後重試: %v", err)
				continue
			}
			stream = next
			w.mu.Lock()
			w.stream = stream
			w.mu.Unlock()

			if err := w.refreshHistory(ctx); err != nil {
				logger.Warningf(ctx, "重連後補拉歷史失敗: %v", err)
			}
			break
		}
	}
}

// Send 發送訊息
// 輸入框在調用前就已清空（樂觀 UX），成功與否不影響
// 失敗進入待重試列表，成功不插入本地列表（等訂閱回送）
func (w *ChatWindow) Send(ctx context.Context, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return ErrEmptyBody
	}
	if utf8.RuneCountInString(body) > w.maxBodyLen {
		return ErrBodyTooLong
	}

	clientRef := uuid.New().String()
	return w.dispatch(ctx, body, clientRef, nil)
}

// dispatch 執行實際發送，失敗時記錄或更新待重試項
func (w *ChatWindow) dispatch(ctx context.Context, body, clientRef string, pending *PendingSend) error {
	w.mu.Lock()
	conversationID := w.conversationID
	w.mu.Unlock()

	msg, err := w.svc.SendMessage(ctx, &messaging.SendMessageRequest{
		ConversationID: conversationID,
		RecipientID:    w.recipientID,
		Content:        body,
		ClientRef:      clientRef,
	})
	if err != nil {
		w.mu.Lock()
		if pending == nil {
			w.pending = append(w.pending, &PendingSend{
				ClientRef: clientRef,
				Body:      body,
				LastError: err.Error(),
			})
		} else {
			pending.RetryCount++
			pending.LastError = err.Error()
			if pending.RetryCount >= w.retryLimit {
				pending.Terminal = true
			}
		}
		w.mu.Unlock()
		return err
	}

	// 首條訊息開了新對話
	if msg != nil && msg.ConversationID != "" {
		w.mu.Lock()
		if w.conversationID == "" {
			w.conversationID = msg.ConversationID
		}
		w.mu.Unlock()
	}

	if pending != nil {
		w.removePending(clientRef)
	}
	return nil
}

// RetryPending 重試一條失敗的訊息（用戶觸發）
func (w *ChatWindow) RetryPending(ctx context.Context, clientRef string) error {
	w.mu.Lock()
	var target *PendingSend
	for _, p := range w.pending {
		if p.ClientRef == clientRef {
			target = p
			break
		}
	}
	w.mu.Unlock()

	if target == nil {
		return ErrPendingNotFound
	}
	if target.Terminal {
		return ErrRetryExhausted
	}

	return w.dispatch(ctx, target.Body, target.ClientRef, target)
}

// removePending 移除待重試項
func (w *ChatWindow) removePending(clientRef string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	kept := w.pending[:0]
	for _, p := range w.pending {
		if p.ClientRef != clientRef {
			kept = append(kept, p)
		}
	}
	w.pending = kept
}

// HandleEvent 處理一條實時事件
func (w *ChatWindow) HandleEvent(ctx context.Context, event realtime.Event) {
	switch event.Type {
	case realtime.EventTypeMessage:
		w.handleMessageEvent(ctx, event)
	case realtime.EventTypeRead:
		w.handleReadEvent(event)
	case realtime.EventTypeModerated:
		w.handleModeratedEvent(event)
	}
}

// handleMessageEvent 處理新訊息事件
func (w *ChatWindow) handleMessageEvent(ctx context.Context, event realtime.Event) {
	var msg messaging.Message
	if len(event.Payload) == 0 {
		return
	}
	if err := json.Unmarshal(event.Payload, &msg); err != nil {
		logger.Warningf(ctx, "無法解析訊息事件: %v", err)
		return
	}

	w.mu.Lock()
	// 按 ID 去重：自己發的訊息會經訂閱回送
	if _, exists := w.byID[msg.ID]; exists {
		w.mu.Unlock()
		return
	}
	w.byID[msg.ID] = len(w.messages)
	w.messages = append(w.messages, &msg)

	// 亂序送達（例如重連補拉前後）時按時間戳歸位
	if n := len(w.messages); n > 1 && msg.CreatedAt.Before(w.messages[n-2].CreatedAt) {
		sort.SliceStable(w.messages, func(i, j int) bool {
			return w.messages[i].CreatedAt.Before(w.messages[j].CreatedAt)
		})
		for i, m := range w.messages {
			w.byID[m.ID] = i
		}
	}

	fromSelf := msg.SenderID == w.userID
	if !fromSelf && !w.nearBottom {
		// 不在底部時不強制滾動，累加未見計數
		w.unseenCount++
	}
	w.mu.Unlock()

	// 收到的訊息在渲染時即視為已讀
	if !fromSelf {
		if err := w.svc.MarkMessageAsRead(ctx, msg.ConversationID, msg.ID); err != nil {
			logger.Warningf(ctx, "標記訊息已讀失敗: %v", err)
		}
	}

	// 服務端確認後清掉對應的待重試項
	if msg.ClientRef != "" && msg.SenderID == w.userID {
		w.removePending(msg.ClientRef)
	}
}

// handleReadEvent 處理已讀回執事件
// 只要有發送者以外的讀者，發出的訊息就顯示為已讀
func (w *ChatWindow) handleReadEvent(event realtime.Event) {
	if event.UserID == w.userID {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if event.MessageID != "" {
		if idx, ok := w.byID[event.MessageID]; ok {
			if w.messages[idx].SenderID != event.UserID {
				w.messages[idx].ReadByOther = true
			}
		}
		return
	}

	// 整個對話已讀
	for _, m := range w.messages {
		if m.SenderID != event.UserID {
			m.ReadByOther = true
		}
	}
}

// handleModeratedEvent 處理管理刪除事件，本地替換為佔位文案
func (w *ChatWindow) handleModeratedEvent(event realtime.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if idx, ok := w.byID[event.MessageID]; ok {
		w.messages[idx].Deleted = true
		w.messages[idx].Content = messaging.ModeratedPlaceholder
	}
}

// Messages 獲取當前訊息時間線（升序）
func (w *ChatWindow) Messages() []*messaging.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*messaging.Message, len(w.messages))
	copy(out, w.messages)
	return out
}

// Pending 獲取待重試的失敗訊息
func (w *ChatWindow) Pending() []*PendingSend {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*PendingSend, len(w.pending))
	copy(out, w.pending)
	return out
}

// UnseenCount 獲取未見新訊息計數（浮動徽章）
func (w *ChatWindow) UnseenCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.unseenCount
}

// SetNearBottom 更新滾動位置狀態，回到底部時清零未見計數
func (w *ChatWindow) SetNearBottom(nearBottom bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nearBottom = nearBottom
	if nearBottom {
		w.unseenCount = 0
	}
}

// Retryable 初始加載是否失敗（可由用戶手動觸發 Reload）
func (w *ChatWindow) Retryable() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loadFailed
}

// Reload 用戶觸發的重新加載，等同重新打開視窗
// 初始加載失敗不自動重試，由界面提供重試入口
func (w *ChatWindow) Reload(ctx context.Context) error {
	return w.Open(ctx)
}

// ConversationID 獲取當前對話 ID（首條訊息發出後才有值）
func (w *ChatWindow) ConversationID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conversationID
}

// Report 舉報一條訊息
func (w *ChatWindow) Report(ctx context.Context, messageID, reason string) error {
	return w.svc.ReportMessage(ctx, &messaging.ReportRequest{
		MessageID: messageID,
		Reason:    reason,
	})
}

// Close 關閉視窗並取消訂閱
func (w *ChatWindow) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		select {
		case <-w.done:
		default:
			close(w.done)
		}
		w.done = nil
	}
}
