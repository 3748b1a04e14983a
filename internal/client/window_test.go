package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"show-messenger/internal/messaging"
	"show-messenger/internal/realtime"
)

// fakeStream 測試用事件流
type fakeStream struct {
	ch     chan realtime.Event
	once   sync.Once
	closed bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{ch: make(chan realtime.Event, 16)}
}

func (s *fakeStream) Events() <-chan realtime.Event { return s.ch }

func (s *fakeStream) Close() error {
	s.once.Do(func() {
		s.closed = true
		close(s.ch)
	})
	return nil
}

// fakeService 測試用訊息服務
type fakeService struct {
	mu sync.Mutex

	history     []*messaging.Message
	historyErr  error
	sendErr     error
	sendErrLeft int // 前 N 次發送失敗，之後成功
	seq         int

	sent          []*messaging.SendMessageRequest
	markedMsgs    []string
	markedConvs   []string
	reported      []*messaging.ReportRequest
	conversations []*messaging.ConversationSummary
	stream        *fakeStream
	subscribeErr  error
}

func newFakeService() *fakeService {
	return &fakeService{stream: newFakeStream()}
}

func (s *fakeService) GetMessages(ctx context.Context, conversationID string, limit int, cursor string) ([]*messaging.Message, string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyErr != nil {
		return nil, "", false, s.historyErr
	}
	out := make([]*messaging.Message, len(s.history))
	copy(out, s.history)
	return out, "", false, nil
}

func (s *fakeService) SendMessage(ctx context.Context, req *messaging.SendMessageRequest) (*messaging.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sendErrLeft > 0 {
		s.sendErrLeft--
		return nil, errors.New("network unreachable")
	}
	if s.sendErr != nil {
		return nil, s.sendErr
	}

	s.seq++
	s.sent = append(s.sent, req)
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = "conv-direct"
	}
	return &messaging.Message{
		ID:             fmt.Sprintf("msg-%d", s.seq),
		ConversationID: conversationID,
		SenderID:       req.SenderID,
		Content:        req.Content,
		ClientRef:      req.ClientRef,
		CreatedAt:      time.Now(),
	}, nil
}

func (s *fakeService) MarkMessageAsRead(ctx context.Context, conversationID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markedMsgs = append(s.markedMsgs, messageID)
	return nil
}

func (s *fakeService) MarkConversationAsRead(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markedConvs = append(s.markedConvs, conversationID)
	return nil
}

func (s *fakeService) ListConversations(ctx context.Context, limit int, cursor string) ([]*messaging.ConversationSummary, string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*messaging.ConversationSummary, len(s.conversations))
	copy(out, s.conversations)
	return out, "", false, nil
}

func (s *fakeService) Subscribe(ctx context.Context, conversationID string) (EventStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribeErr != nil {
		return nil, s.subscribeErr
	}
	return s.stream, nil
}

func (s *fakeService) ReportMessage(ctx context.Context, req *messaging.ReportRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reported = append(s.reported, req)
	return nil
}

func (s *fakeService) ModerateMessage(ctx context.Context, messageID, reason string) error {
	return nil
}

func (s *fakeService) markedMessages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.markedMsgs))
	copy(out, s.markedMsgs)
	return out
}

func messageEvent(t *testing.T, msg *messaging.Message) realtime.Event {
	t.Helper()
	payload, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return realtime.Event{
		Type:           realtime.EventTypeMessage,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		UserID:         msg.SenderID,
		Payload:        payload,
		Timestamp:      msg.CreatedAt,
	}
}

func TestOpenFetchesHistoryAndMarksRead(t *testing.T) {
	svc := newFakeService()
	svc.history = []*messaging.Message{
		{ID: "m1", ConversationID: "c1", SenderID: "bob", Content: "hi", CreatedAt: time.Now().Add(-time.Minute)},
		{ID: "m2", ConversationID: "c1", SenderID: "alice", Content: "hello", CreatedAt: time.Now()},
	}

	w := NewChatWindow(svc, "alice", "c1")
	defer w.Close()

	if err := w.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	msgs := w.Messages()
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Errorf("unexpected timeline: %+v", msgs)
	}
	if len(svc.markedConvs) != 1 || svc.markedConvs[0] != "c1" {
		t.Errorf("expected conversation marked read, got %v", svc.markedConvs)
	}
}

func TestOpenFailureLeavesRetryableState(t *testing.T) {
	svc := newFakeService()
	svc.historyErr = errors.New("network unreachable")

	w := NewChatWindow(svc, "alice", "conv-1")
	defer w.Close()

	if err := w.Open(context.Background()); err == nil {
		t.Fatal("expected open failure")
	}
	if !w.Retryable() {
		t.Error("expected window in retryable state after failed open")
	}

	// 手動重試（無自動重試）
	svc.mu.Lock()
	svc.historyErr = nil
	svc.mu.Unlock()

	if err := w.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if w.Retryable() {
		t.Error("expected retryable state cleared after successful reload")
	}
}

func TestIncomingMessageDeduplicatedByID(t *testing.T) {
	svc := newFakeService()
	w := NewChatWindow(svc, "alice", "c1")
	ctx := context.Background()

	msg := &messaging.Message{ID: "m1", ConversationID: "c1", SenderID: "bob", Content: "hi", CreatedAt: time.Now()}
	event := messageEvent(t, msg)

	w.HandleEvent(ctx, event)
	w.HandleEvent(ctx, event)

	if got := len(w.Messages()); got != 1 {
		t.Errorf("expected 1 message after duplicate event, got %d", got)
	}
}

func TestIncomingMessageMarkedReadWhenFromOther(t *testing.T) {
	svc := newFakeService()
	w := NewChatWindow(svc, "alice", "c1")
	ctx := context.Background()

	w.HandleEvent(ctx, messageEvent(t, &messaging.Message{
		ID: "m1", ConversationID: "c1", SenderID: "bob", Content: "hi", CreatedAt: time.Now(),
	}))
	// 自己的訊息回送不標記已讀
	w.HandleEvent(ctx, messageEvent(t, &messaging.Message{
		ID: "m2", ConversationID: "c1", SenderID: "alice", Content: "yo", CreatedAt: time.Now(),
	}))

	marked := svc.markedMessages()
	if len(marked) != 1 || marked[0] != "m1" {
		t.Errorf("expected only m1 marked read, got %v", marked)
	}
}

func TestUnseenCounterWhenNotNearBottom(t *testing.T) {
	svc := newFakeService()
	w := NewChatWindow(svc, "alice", "c1")
	ctx := context.Background()

	w.SetNearBottom(false)
	for i := 0; i < 3; i++ {
		w.HandleEvent(ctx, messageEvent(t, &messaging.Message{
			ID: fmt.Sprintf("m%d", i), ConversationID: "c1", SenderID: "bob",
			Content: "hi", CreatedAt: time.Now(),
		}))
	}
	if w.UnseenCount() != 3 {
		t.Errorf("expected unseen 3, got %d", w.UnseenCount())
	}

	// 回到底部清零
	w.SetNearBottom(true)
	if w.UnseenCount() != 0 {
		t.Errorf("expected unseen reset to 0, got %d", w.UnseenCount())
	}

	// 在底部時不累加
	w.HandleEvent(ctx, messageEvent(t, &messaging.Message{
		ID: "m9", ConversationID: "c1", SenderID: "bob", Content: "hi", CreatedAt: time.Now(),
	}))
	if w.UnseenCount() != 0 {
		t.Errorf("expected unseen to stay 0 near bottom, got %d", w.UnseenCount())
	}
}

func TestSendValidation(t *testing.T) {
	svc := newFakeService()
	w := NewChatWindow(svc, "alice", "c1", WithMaxBodyLength(10))
	ctx := context.Background()

	if err := w.Send(ctx, "   "); err != ErrEmptyBody {
		t.Errorf("expected ErrEmptyBody, got %v", err)
	}
	if err := w.Send(ctx, "01234567890"); err != ErrBodyTooLong {
		t.Errorf("expected ErrBodyTooLong, got %v", err)
	}
	if err := w.Send(ctx, "a"); err != nil {
		t.Errorf("1-character message should send, got %v", err)
	}
	if len(svc.sent) != 1 {
		t.Errorf("expected exactly 1 dispatched send, got %d", len(svc.sent))
	}
}

func TestSendSuccessDoesNotMutateLocalList(t *testing.T) {
	svc := newFakeService()
	w := NewChatWindow(svc, "alice", "c1")
	ctx := context.Background()

	if err := w.Send(ctx, "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// 成功發送不直接插入，等訂閱回送
	if got := len(w.Messages()); got != 0 {
		t.Errorf("expected empty timeline before subscription echo, got %d", got)
	}
	if got := len(w.Pending()); got != 0 {
		t.Errorf("expected no pending sends, got %d", got)
	}
}

func TestFailedSendEntersPendingAndRetryCap(t *testing.T) {
	svc := newFakeService()
	svc.sendErr = errors.New("backend down")
	w := NewChatWindow(svc, "alice", "c1")
	ctx := context.Background()

	if err := w.Send(ctx, "重要訊息"); err == nil {
		t.Fatal("expected send failure")
	}

	pending := w.Pending()
	if len(pending) != 1 || pending[0].RetryCount != 0 {
		t.Fatalf("expected 1 pending with retry 0, got %+v", pending)
	}
	ref := pending[0].ClientRef

	// 重試到上限
	for i := 1; i <= 3; i++ {
		err := w.RetryPending(ctx, ref)
		if err == nil {
			t.Fatalf("retry %d should fail", i)
		}
		got := w.Pending()[0]
		if got.RetryCount != i {
			t.Errorf("retry %d: count = %d", i, got.RetryCount)
		}
	}

	if !w.Pending()[0].Terminal {
		t.Fatal("expected terminal after retry cap")
	}

	// 達到上限後不再自動重試，即使後端恢復
	svc.sendErr = nil
	if err := w.RetryPending(ctx, ref); err != ErrRetryExhausted {
		t.Errorf("expected ErrRetryExhausted, got %v", err)
	}
	if got := w.Pending()[0].RetryCount; got != 3 {
		t.Errorf("retry count should stay at cap, got %d", got)
	}
}

func TestRetrySuccessRemovesPending(t *testing.T) {
	svc := newFakeService()
	svc.sendErrLeft = 1
	w := NewChatWindow(svc, "alice", "c1")
	ctx := context.Background()

	if err := w.Send(ctx, "再試一次"); err == nil {
		t.Fatal("expected first send to fail")
	}
	ref := w.Pending()[0].ClientRef

	if err := w.RetryPending(ctx, ref); err != nil {
		t.Fatalf("retry should succeed: %v", err)
	}
	if got := len(w.Pending()); got != 0 {
		t.Errorf("expected pending cleared after successful retry, got %d", got)
	}

	// 重試沿用同一個 client_ref，服務端據此去重
	if svc.sent[0].ClientRef != ref {
		t.Errorf("retry should reuse client_ref %s, got %s", ref, svc.sent[0].ClientRef)
	}
}

func TestFirstMessageAdoptsNewConversation(t *testing.T) {
	svc := newFakeService()
	w := NewChatWindow(svc, "alice", "", WithRecipient("bob"))
	ctx := context.Background()

	if err := w.Send(ctx, "初次見面"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if w.ConversationID() != "conv-direct" {
		t.Errorf("expected adopted conversation id, got %q", w.ConversationID())
	}
}

func TestReadEventMarksOwnMessages(t *testing.T) {
	svc := newFakeService()
	w := NewChatWindow(svc, "alice", "c1")
	ctx := context.Background()

	w.HandleEvent(ctx, messageEvent(t, &messaging.Message{
		ID: "m1", ConversationID: "c1", SenderID: "alice", Content: "hi", CreatedAt: time.Now(),
	}))

	// 自己的已讀事件不算
	w.HandleEvent(ctx, realtime.Event{Type: realtime.EventTypeRead, ConversationID: "c1", UserID: "alice"})
	if w.Messages()[0].ReadByOther {
		t.Fatal("own read event must not mark message as read")
	}

	// 任何其他讀者出現即顯示已讀
	w.HandleEvent(ctx, realtime.Event{Type: realtime.EventTypeRead, ConversationID: "c1", UserID: "bob"})
	if !w.Messages()[0].ReadByOther {
		t.Fatal("expected message marked read after other participant's receipt")
	}
}

func TestModeratedEventReplacesContent(t *testing.T) {
	svc := newFakeService()
	w := NewChatWindow(svc, "alice", "c1")
	ctx := context.Background()

	w.HandleEvent(ctx, messageEvent(t, &messaging.Message{
		ID: "m1", ConversationID: "c1", SenderID: "bob", Content: "違規內容", CreatedAt: time.Now(),
	}))
	w.HandleEvent(ctx, realtime.Event{
		Type: realtime.EventTypeModerated, ConversationID: "c1", MessageID: "m1", UserID: "mod",
	})

	msg := w.Messages()[0]
	if !msg.Deleted || msg.Content != messaging.ModeratedPlaceholder {
		t.Errorf("expected moderation placeholder, got %+v", msg)
	}
}

func TestEchoClearsMatchingPending(t *testing.T) {
	svc := newFakeService()
	svc.sendErrLeft = 1
	w := NewChatWindow(svc, "alice", "c1")
	ctx := context.Background()

	if err := w.Send(ctx, "延遲確認"); err == nil {
		t.Fatal("expected send failure")
	}
	ref := w.Pending()[0].ClientRef

	// 實際上服務端已落庫（回應丟失），訂閱回送帶相同 client_ref
	w.HandleEvent(ctx, messageEvent(t, &messaging.Message{
		ID: "m1", ConversationID: "c1", SenderID: "alice",
		Content: "延遲確認", ClientRef: ref, CreatedAt: time.Now(),
	}))

	if got := len(w.Pending()); got != 0 {
		t.Errorf("expected pending cleared by subscription echo, got %d", got)
	}
	if got := len(w.Messages()); got != 1 {
		t.Errorf("expected echoed message in timeline, got %d", got)
	}
}

func TestOutOfOrderEventsReorderedByTimestamp(t *testing.T) {
	svc := newFakeService()
	w := NewChatWindow(svc, "alice", "c1")
	defer w.Close()
	ctx := context.Background()

	base := time.Now()
	newer := &messaging.Message{ID: "m2", ConversationID: "c1", SenderID: "bob", Content: "後到的", CreatedAt: base}
	older := &messaging.Message{ID: "m1", ConversationID: "c1", SenderID: "bob", Content: "先發的", CreatedAt: base.Add(-time.Minute)}

	// 先收到較新的，再收到較舊的
	w.HandleEvent(ctx, messageEvent(t, newer))
	w.HandleEvent(ctx, messageEvent(t, older))

	msgs := w.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Errorf("timeline out of order: %s, %s", msgs[0].ID, msgs[1].ID)
	}

	// 歸位後索引仍然有效：管理刪除事件找到正確的訊息
	w.HandleEvent(ctx, realtime.Event{
		Type:           realtime.EventTypeModerated,
		ConversationID: "c1",
		MessageID:      "m2",
	})
	msgs = w.Messages()
	if msgs[0].Deleted || !msgs[1].Deleted {
		t.Errorf("moderation hit wrong index after reorder: %+v", msgs)
	}
}
