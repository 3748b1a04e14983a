package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"show-messenger/internal/constants"
	"show-messenger/internal/realtime"
	"show-messenger/internal/storage/database/conversation"
)

// ===== 記憶體假存儲 =====

type fakeConversationRepo struct {
	mu    sync.Mutex
	seq   int
	convs map[string]*conversation.Conversation
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{convs: make(map[string]*conversation.Conversation)}
}

func (r *fakeConversationRepo) Create(ctx context.Context, conv *conversation.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	conv.ID = fmt.Sprintf("conv-%d", r.seq)
	conv.CreatedAt = time.Now()
	conv.UpdatedAt = conv.CreatedAt
	if conv.UnreadCounts == nil {
		conv.UnreadCounts = make(map[string]int)
	}
	for _, p := range conv.Participants {
		if _, ok := conv.UnreadCounts[p.UserID]; !ok {
			conv.UnreadCounts[p.UserID] = 0
		}
	}
	r.convs[conv.ID] = conv
	return nil
}

func (r *fakeConversationRepo) GetByID(ctx context.Context, id string) (*conversation.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s not found", id)
	}
	return conv, nil
}

func (r *fakeConversationRepo) Update(ctx context.Context, id string, update map[string]interface{}) error {
	return nil
}

func (r *fakeConversationRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.convs, id)
	return nil
}

func (r *fakeConversationRepo) FindDirectConversation(ctx context.Context, userA, userB string) (*conversation.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conv := range r.convs {
		if conv.Type != conversation.TypeDirect || len(conv.Participants) != 2 {
			continue
		}
		ids := map[string]bool{}
		for _, p := range conv.Participants {
			ids[p.UserID] = true
		}
		if ids[userA] && ids[userB] {
			return conv, nil
		}
	}
	return nil, nil
}

func (r *fakeConversationRepo) FindShowChannel(ctx context.Context, showID string) (*conversation.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conv := range r.convs {
		if conv.Type == conversation.TypeShow && conv.ShowID == showID {
			return conv, nil
		}
	}
	return nil, nil
}

func (r *fakeConversationRepo) ListUserConversations(ctx context.Context, userID string, limit int, cursor string) ([]*conversation.Conversation, string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*conversation.Conversation
	for _, conv := range r.convs {
		for _, p := range conv.Participants {
			if p.UserID == userID {
				out = append(out, conv)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	if limit > 0 && len(out) > limit {
		return out[:limit], out[limit-1].LastMessageAt.Format(time.RFC3339Nano), true, nil
	}
	return out, "", false, nil
}

func (r *fakeConversationRepo) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[conversationID]
	if !ok {
		return false, nil
	}
	for _, p := range conv.Participants {
		if p.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeConversationRepo) AddParticipant(ctx context.Context, conversationID string, participant *conversation.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	for _, p := range conv.Participants {
		if p.UserID == participant.UserID {
			return nil
		}
	}
	conv.Participants = append(conv.Participants, *participant)
	return nil
}

func (r *fakeConversationRepo) RemoveParticipant(ctx context.Context, conversationID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	kept := conv.Participants[:0]
	for _, p := range conv.Participants {
		if p.UserID != userID {
			kept = append(kept, p)
		}
	}
	conv.Participants = kept
	return nil
}

func (r *fakeConversationRepo) GetParticipants(ctx context.Context, conversationID string) ([]conversation.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[conversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %s not found", conversationID)
	}
	return conv.Participants, nil
}

func (r *fakeConversationRepo) ApplyLastMessage(ctx context.Context, conversationID, senderID, preview string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	conv.LastMessage = preview
	conv.LastMessageAt = at
	for _, p := range conv.Participants {
		if p.UserID != senderID {
			conv.UnreadCounts[p.UserID]++
		}
	}
	return nil
}

func (r *fakeConversationRepo) ResetUnread(ctx context.Context, conversationID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	conv.UnreadCounts[userID] = 0
	return nil
}

type fakeMessageRepo struct {
	mu        sync.Mutex
	seq       int
	msgs      map[string]*conversation.Message
	pageCalls int // GetByConversationID 調用次數（緩存命中時應為零）
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{msgs: make(map[string]*conversation.Message)}
}

func (r *fakeMessageRepo) Create(ctx context.Context, m *conversation.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	m.ID = fmt.Sprintf("msg-%d", r.seq)
	m.CreatedAt = time.Now()
	m.UpdatedAt = m.CreatedAt
	m.Status = "sent"
	if m.Type == "" {
		m.Type = conversation.MessageTypeText
	}
	r.msgs[m.ID] = m
	return nil
}

func (r *fakeMessageRepo) GetByID(ctx context.Context, id string) (*conversation.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.msgs[id]
	if !ok {
		return nil, fmt.Errorf("message %s not found", id)
	}
	return m, nil
}

func (r *fakeMessageRepo) FindByClientRef(ctx context.Context, conversationID, senderID, clientRef string) (*conversation.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs {
		if m.ConversationID == conversationID && m.SenderID == senderID && m.ClientRef == clientRef {
			return m, nil
		}
	}
	return nil, nil
}

func (r *fakeMessageRepo) GetByConversationID(ctx context.Context, conversationID string, limit int, cursor string) ([]*conversation.Message, string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pageCalls++
	var out []*conversation.Message
	for _, m := range r.msgs {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		return out[:limit], out[limit-1].CreatedAt.Format(time.RFC3339Nano), true, nil
	}
	return out, "", false, nil
}

func (r *fakeMessageRepo) GetRecentMessages(ctx context.Context, conversationID string, since time.Time, limit int) ([]*conversation.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*conversation.Message
	for _, m := range r.msgs {
		if m.ConversationID == conversationID && m.CreatedAt.After(since) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *fakeMessageRepo) Update(ctx context.Context, id string, update map[string]interface{}) error {
	return nil
}

func (r *fakeMessageRepo) MarkAsRead(ctx context.Context, conversationID, userID string, messageID *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs {
		if m.ConversationID != conversationID {
			continue
		}
		if messageID != nil && m.ID != *messageID {
			continue
		}
		if m.SenderID == userID {
			continue
		}
		already := false
		for _, rb := range m.ReadBy {
			if rb.UserID == userID {
				already = true
				break
			}
		}
		if !already {
			m.ReadBy = append(m.ReadBy, conversation.MessageReadBy{UserID: userID, ReadAt: time.Now()})
		}
	}
	return nil
}

func (r *fakeMessageRepo) GetUnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, m := range r.msgs {
		if m.ConversationID != conversationID || m.SenderID == userID {
			continue
		}
		read := false
		for _, rb := range m.ReadBy {
			if rb.UserID == userID {
				read = true
				break
			}
		}
		if !read {
			count++
		}
	}
	return count, nil
}

func (r *fakeMessageRepo) SoftDelete(ctx context.Context, messageID, moderatorID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.msgs[messageID]
	if !ok {
		return fmt.Errorf("message %s not found", messageID)
	}
	now := time.Now()
	m.Deleted = true
	m.DeletedBy = moderatorID
	m.DeletedAt = &now
	m.DeleteReason = reason
	return nil
}

type fakeReportRepo struct {
	mu      sync.Mutex
	seq     int
	reports map[string]*conversation.MessageReport
}

func newFakeReportRepo() *fakeReportRepo {
	return &fakeReportRepo{reports: make(map[string]*conversation.MessageReport)}
}

func (r *fakeReportRepo) Create(ctx context.Context, report *conversation.MessageReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	report.ID = fmt.Sprintf("report-%d", r.seq)
	report.Status = conversation.ReportStatusOpen
	report.CreatedAt = time.Now()
	r.reports[report.ID] = report
	return nil
}

func (r *fakeReportRepo) GetByID(ctx context.Context, id string) (*conversation.MessageReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.reports[id]
	if !ok {
		return nil, fmt.Errorf("report %s not found", id)
	}
	return rep, nil
}

func (r *fakeReportRepo) FindByMessageAndReporter(ctx context.Context, messageID, reporterID string) (*conversation.MessageReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rep := range r.reports {
		if rep.MessageID == messageID && rep.ReporterID == reporterID {
			return rep, nil
		}
	}
	return nil, nil
}

func (r *fakeReportRepo) ListOpen(ctx context.Context, limit int) ([]*conversation.MessageReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*conversation.MessageReport
	for _, rep := range r.reports {
		if rep.Status == conversation.ReportStatusOpen {
			out = append(out, rep)
		}
	}
	return out, nil
}

func (r *fakeReportRepo) Resolve(ctx context.Context, id, resolverID, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.reports[id]
	if !ok {
		return fmt.Errorf("report %s not found", id)
	}
	now := time.Now()
	rep.Status = status
	rep.ResolvedBy = resolverID
	rep.ResolvedAt = &now
	return nil
}

// fakeRecentCache 記憶體版最近訊息緩存（新的在前）
type fakeRecentCache struct {
	mu      sync.Mutex
	items   map[string][][]byte
	maxSize int
}

func newFakeRecentCache(maxSize int) *fakeRecentCache {
	return &fakeRecentCache{items: make(map[string][][]byte), maxSize: maxSize}
}

func (c *fakeRecentCache) Enabled() bool { return true }

func (c *fakeRecentCache) Push(ctx context.Context, conversationID string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	items := append([][]byte{data}, c.items[conversationID]...)
	if len(items) > c.maxSize {
		items = items[:c.maxSize]
	}
	c.items[conversationID] = items
	return nil
}

func (c *fakeRecentCache) Recent(ctx context.Context, conversationID string, limit int64, decode func([]byte) error) error {
	c.mu.Lock()
	items := c.items[conversationID]
	if int64(len(items)) > limit {
		items = items[:limit]
	}
	c.mu.Unlock()
	for _, item := range items {
		if err := decode(item); err != nil {
			return err
		}
	}
	return nil
}

func (c *fakeRecentCache) Invalidate(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, conversationID)
	return nil
}

// reverseEncryptor 可逆的假加密器，用於驗證加解密路徑有被調用
type reverseEncryptor struct{}

func (reverseEncryptor) EncryptMessage(content, conversationID string) (string, error) {
	return "enc:" + content, nil
}

func (reverseEncryptor) DecryptMessage(content, conversationID string) (string, error) {
	return strings.TrimPrefix(content, "enc:"), nil
}

// ===== 測試輔助 =====

type fixture struct {
	service *Service
	convs   *fakeConversationRepo
	msgs    *fakeMessageRepo
	reports *fakeReportRepo
	cache   *fakeRecentCache
	broker  *realtime.Broker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	convs := newFakeConversationRepo()
	msgs := newFakeMessageRepo()
	reports := newFakeReportRepo()
	recent := newFakeRecentCache(20)
	broker := realtime.NewBroker(nil, 8)
	t.Cleanup(broker.Close)

	svc := NewService(Options{
		Conversations: convs,
		Messages:      msgs,
		Reports:       reports,
		Encryptor:     reverseEncryptor{},
		Broker:        broker,
		RecentCache:   recent,
	})

	return &fixture{service: svc, convs: convs, msgs: msgs, reports: reports, cache: recent, broker: broker}
}

func (f *fixture) seedGroup(t *testing.T, owner string, members ...string) string {
	t.Helper()
	summary, err := f.service.CreateGroup(context.Background(), &CreateGroupRequest{
		OwnerID:        owner,
		Name:           "週末卡展交流",
		ParticipantIDs: members,
	})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	return summary.ID
}

// ===== 測試 =====

func TestSendMessageCreatesDirectConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.service.SendMessage(ctx, &SendMessageRequest{
		SenderID:    "alice",
		RecipientID: "bob",
		Content:     "想收你攤位上那張新人卡",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.ConversationID == "" {
		t.Fatal("expected a conversation to be created")
	}
	if msg.Content != "想收你攤位上那張新人卡" {
		t.Errorf("content mismatch: %q", msg.Content)
	}

	// 第二條訊息應重用同一個對話
	msg2, err := f.service.SendMessage(ctx, &SendMessageRequest{
		SenderID:    "bob",
		RecipientID: "alice",
		Content:     "可以，明天帶來",
	})
	if err != nil {
		t.Fatalf("SendMessage reply: %v", err)
	}
	if msg2.ConversationID != msg.ConversationID {
		t.Errorf("expected same conversation, got %s and %s", msg.ConversationID, msg2.ConversationID)
	}
}

func TestSendMessageSelfConversationRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.SendMessage(context.Background(), &SendMessageRequest{
		SenderID:    "alice",
		RecipientID: "alice",
		Content:     "hello",
	})
	if err != ErrSelfConversation {
		t.Errorf("expected ErrSelfConversation, got %v", err)
	}
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t)
	convID := f.seedGroup(t, "alice", "bob")
	ctx := context.Background()

	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"空白內容", "   ", ErrEmptyMessage},
		{"超過長度上限", strings.Repeat("a", constants.DefaultMaxMessageLength+1), ErrMessageTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.SendMessage(ctx, &SendMessageRequest{
				ConversationID: convID,
				SenderID:       "alice",
				Content:        tt.content,
			})
			if err != tt.wantErr {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSendMessageNonParticipantRejected(t *testing.T) {
	f := newFixture(t)
	convID := f.seedGroup(t, "alice", "bob")

	_, err := f.service.SendMessage(context.Background(), &SendMessageRequest{
		ConversationID: convID,
		SenderID:       "mallory",
		Content:        "hello",
	})
	if err != ErrNotParticipant {
		t.Errorf("expected ErrNotParticipant, got %v", err)
	}
}

func TestSendMessageClientRefIdempotent(t *testing.T) {
	f := newFixture(t)
	convID := f.seedGroup(t, "alice", "bob")
	ctx := context.Background()

	first, err := f.service.SendMessage(ctx, &SendMessageRequest{
		ConversationID: convID,
		SenderID:       "alice",
		Content:        "重送測試",
		ClientRef:      "client-ref-1",
	})
	if err != nil {
		t.Fatalf("first send: %v", err)
	}

	// 相同 client_ref 重送，應返回同一條訊息
	second, err := f.service.SendMessage(ctx, &SendMessageRequest{
		ConversationID: convID,
		SenderID:       "alice",
		Content:        "重送測試",
		ClientRef:      "client-ref-1",
	})
	if err != nil {
		t.Fatalf("retry send: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected deduplicated message %s, got %s", first.ID, second.ID)
	}

	msgs, _, _, err := f.service.GetMessages(ctx, "alice", convID, 10, "")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("expected 1 stored message, got %d", len(msgs))
	}
}

func TestUnreadCountsIncrementAndResetOnlyOnMarkRead(t *testing.T) {
	f := newFixture(t)
	convID := f.seedGroup(t, "alice", "bob", "carol")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.service.SendMessage(ctx, &SendMessageRequest{
			ConversationID: convID,
			SenderID:       "alice",
			Content:        fmt.Sprintf("訊息 %d", i),
		}); err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
	}

	// 讀取訊息列表不會重置未讀
	if _, _, _, err := f.service.GetMessages(ctx, "bob", convID, 10, ""); err != nil {
		t.Fatalf("GetMessages: %v", err)
	}

	summaries, _, _, err := f.service.ListConversations(ctx, "bob", 10, "")
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(summaries) != 1 || summaries[0].UnreadCount != 3 {
		t.Fatalf("expected unread 3 after fetch, got %+v", summaries)
	}

	// 發送者自己的未讀不增加
	aliceSummaries, _, _, _ := f.service.ListConversations(ctx, "alice", 10, "")
	if aliceSummaries[0].UnreadCount != 0 {
		t.Errorf("sender unread should stay 0, got %d", aliceSummaries[0].UnreadCount)
	}

	// 明確標記已讀才歸零
	if err := f.service.MarkConversationAsRead(ctx, "bob", convID); err != nil {
		t.Fatalf("MarkConversationAsRead: %v", err)
	}
	summaries, _, _, _ = f.service.ListConversations(ctx, "bob", 10, "")
	if summaries[0].UnreadCount != 0 {
		t.Errorf("expected unread 0 after mark read, got %d", summaries[0].UnreadCount)
	}

	// carol 沒標記，未讀不受影響
	carolSummaries, _, _, _ := f.service.ListConversations(ctx, "carol", 10, "")
	if carolSummaries[0].UnreadCount != 3 {
		t.Errorf("carol unread should stay 3, got %d", carolSummaries[0].UnreadCount)
	}
}

func TestMarkMessageAsReadSetsReadByOther(t *testing.T) {
	f := newFixture(t)
	convID := f.seedGroup(t, "alice", "bob")
	ctx := context.Background()

	msg, err := f.service.SendMessage(ctx, &SendMessageRequest{
		ConversationID: convID,
		SenderID:       "alice",
		Content:        "已讀測試",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if err := f.service.MarkMessageAsRead(ctx, "bob", convID, msg.ID); err != nil {
		t.Fatalf("MarkMessageAsRead: %v", err)
	}

	msgs, _, _, err := f.service.GetMessages(ctx, "alice", convID, 10, "")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 1 || !msgs[0].ReadByOther {
		t.Errorf("expected read_by_other true, got %+v", msgs)
	}

	count, err := f.service.GetUnreadCount(ctx, "bob", convID)
	if err != nil {
		t.Fatalf("GetUnreadCount: %v", err)
	}
	if count != 0 {
		t.Errorf("expected unread count 0, got %d", count)
	}
}

func TestMessagesStoredEncrypted(t *testing.T) {
	f := newFixture(t)
	convID := f.seedGroup(t, "alice", "bob")
	ctx := context.Background()

	msg, err := f.service.SendMessage(ctx, &SendMessageRequest{
		ConversationID: convID,
		SenderID:       "alice",
		Content:        "機密內容",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	stored, err := f.msgs.GetByID(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Content != "enc:機密內容" {
		t.Errorf("expected encrypted content at rest, got %q", stored.Content)
	}

	msgs, _, _, err := f.service.GetMessages(ctx, "bob", convID, 10, "")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if msgs[0].Content != "機密內容" {
		t.Errorf("expected decrypted content, got %q", msgs[0].Content)
	}
}

func TestModerateMessage(t *testing.T) {
	f := newFixture(t)
	convID := f.seedGroup(t, "alice", "bob")
	ctx := context.Background()

	msg, err := f.service.SendMessage(ctx, &SendMessageRequest{
		ConversationID: convID,
		SenderID:       "alice",
		Content:        "違規內容",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	// 普通成員無權刪除
	if err := f.service.ModerateMessage(ctx, "bob", constants.RoleAttendee, msg.ID, "spam"); err != ErrNotAuthorized {
		t.Errorf("expected ErrNotAuthorized for attendee, got %v", err)
	}

	if err := f.service.ModerateMessage(ctx, "mod", constants.RoleAdmin, msg.ID, "spam"); err != nil {
		t.Fatalf("ModerateMessage: %v", err)
	}

	// 刪除後再刪報錯
	if err := f.service.ModerateMessage(ctx, "mod", constants.RoleAdmin, msg.ID, "spam"); err != ErrMessageDeleted {
		t.Errorf("expected ErrMessageDeleted, got %v", err)
	}

	// 其他成員讀到佔位文案
	msgs, _, _, err := f.service.GetMessages(ctx, "bob", convID, 10, "")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if !msgs[0].Deleted || msgs[0].Content != ModeratedPlaceholder {
		t.Errorf("expected moderation placeholder, got %+v", msgs[0])
	}
}

func TestDirectConversationExemptFromModeration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.service.SendMessage(ctx, &SendMessageRequest{
		SenderID:    "alice",
		RecipientID: "bob",
		Content:     "私人對話",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	// 一對一對話不可管理刪除，也不可舉報
	if err := f.service.ModerateMessage(ctx, "mod", constants.RoleAdmin, msg.ID, "spam"); err != ErrNotAuthorized {
		t.Errorf("expected ErrNotAuthorized for direct conversation, got %v", err)
	}
	if _, err := f.service.ReportMessage(ctx, &ReportRequest{
		ReporterID: "bob",
		MessageID:  msg.ID,
		Reason:     "scam",
	}); err != ErrNotAuthorized {
		t.Errorf("expected ErrNotAuthorized for direct conversation, got %v", err)
	}
}

func TestReportMessage(t *testing.T) {
	f := newFixture(t)
	convID := f.seedGroup(t, "alice", "bob")
	ctx := context.Background()

	msg, err := f.service.SendMessage(ctx, &SendMessageRequest{
		ConversationID: convID,
		SenderID:       "alice",
		Content:        "可疑內容",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	// 非成員不能舉報
	if _, err := f.service.ReportMessage(ctx, &ReportRequest{
		ReporterID: "mallory",
		MessageID:  msg.ID,
		Reason:     "scam",
	}); err != ErrNotParticipant {
		t.Errorf("expected ErrNotParticipant, got %v", err)
	}

	report, err := f.service.ReportMessage(ctx, &ReportRequest{
		ReporterID: "bob",
		MessageID:  msg.ID,
		Reason:     "  疑似詐騙  ",
	})
	if err != nil {
		t.Fatalf("ReportMessage: %v", err)
	}
	if report.Reason != "疑似詐騙" {
		t.Errorf("expected trimmed reason, got %q", report.Reason)
	}

	// 重複舉報冪等：返回原舉報，不產生新行
	again, err := f.service.ReportMessage(ctx, &ReportRequest{
		ReporterID: "bob",
		MessageID:  msg.ID,
		Reason:     "再次舉報",
	})
	if err != nil {
		t.Fatalf("ReportMessage: %v", err)
	}
	if again.ID != report.ID {
		t.Errorf("expected idempotent re-report, got new report %s", again.ID)
	}

	// 只有管理角色能看舉報列表
	if _, err := f.service.ListOpenReports(ctx, constants.RoleDealer, 10); err != ErrNotAuthorized {
		t.Errorf("expected ErrNotAuthorized for dealer, got %v", err)
	}
	open, err := f.service.ListOpenReports(ctx, constants.RoleShowOrganizer, 10)
	if err != nil {
		t.Fatalf("ListOpenReports: %v", err)
	}
	if len(open) != 1 {
		t.Errorf("expected 1 open report, got %d", len(open))
	}
}

func TestBroadcastCreatesShowChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.service.Broadcast(ctx, &BroadcastRequest{
		SenderID: "organizer",
		ShowID:   "show-42",
		Content:  "卡展 14:00 開始入場",
	})
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if msg.Type != conversation.MessageTypeBroadcast {
		t.Errorf("expected broadcast type, got %q", msg.Type)
	}

	// 第二次廣播重用同一個頻道
	msg2, err := f.service.Broadcast(ctx, &BroadcastRequest{
		SenderID: "organizer",
		ShowID:   "show-42",
		Content:  "攤位 B12 有簽名會",
	})
	if err != nil {
		t.Fatalf("second Broadcast: %v", err)
	}
	if msg2.ConversationID != msg.ConversationID {
		t.Errorf("expected same show channel, got %s and %s", msg.ConversationID, msg2.ConversationID)
	}

	// 其他廣播角色（如管理員）也找到同一個頻道，不會分裂出第二個
	msg3, err := f.service.Broadcast(ctx, &BroadcastRequest{
		SenderID: "site-admin",
		ShowID:   "show-42",
		Content:  "場館臨時公告",
	})
	if err != nil {
		t.Fatalf("admin Broadcast: %v", err)
	}
	if msg3.ConversationID != msg.ConversationID {
		t.Errorf("expected shared show channel, got %s and %s", msg.ConversationID, msg3.ConversationID)
	}
	channels := 0
	f.convs.mu.Lock()
	for _, c := range f.convs.convs {
		if c.Type == conversation.TypeShow && c.ShowID == "show-42" {
			channels++
		}
	}
	f.convs.mu.Unlock()
	if channels != 1 {
		t.Fatalf("expected a single show channel, got %d", channels)
	}

	// 參加者加入後能收到未讀
	if err := f.service.JoinShowChannel(ctx, "attendee-1", msg.ConversationID); err != nil {
		t.Fatalf("JoinShowChannel: %v", err)
	}
	if _, err := f.service.Broadcast(ctx, &BroadcastRequest{
		SenderID: "organizer",
		ShowID:   "show-42",
		Content:  "閉館前最後一小時",
	}); err != nil {
		t.Fatalf("third Broadcast: %v", err)
	}
	summaries, _, _, _ := f.service.ListConversations(ctx, "attendee-1", 10, "")
	if len(summaries) != 1 || summaries[0].UnreadCount != 1 {
		t.Fatalf("expected attendee unread 1, got %+v", summaries)
	}
}

func TestSubscribeReceivesMessageEvent(t *testing.T) {
	f := newFixture(t)
	convID := f.seedGroup(t, "alice", "bob")
	ctx := context.Background()

	sub, err := f.service.Subscribe(ctx, "bob", convID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	// 非成員不能訂閱
	if _, err := f.service.Subscribe(ctx, "mallory", convID); err != ErrNotParticipant {
		t.Errorf("expected ErrNotParticipant, got %v", err)
	}

	if _, err := f.service.SendMessage(ctx, &SendMessageRequest{
		ConversationID: convID,
		SenderID:       "alice",
		Content:        "實時測試",
	}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	select {
	case event := <-sub.C:
		if event.Type != realtime.EventTypeMessage {
			t.Errorf("expected message event, got %q", event.Type)
		}
		if event.UserID != "alice" {
			t.Errorf("expected sender alice, got %q", event.UserID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message event")
	}
}

func TestParticipantManagement(t *testing.T) {
	f := newFixture(t)
	convID := f.seedGroup(t, "alice", "bob")
	ctx := context.Background()

	// 非群主普通成員不能加人
	if err := f.service.AddParticipant(ctx, "bob", constants.RoleAttendee, convID, "carol"); err != ErrNotAuthorized {
		t.Errorf("expected ErrNotAuthorized, got %v", err)
	}

	if err := f.service.AddParticipant(ctx, "alice", constants.RoleAttendee, convID, "carol"); err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}
	ok, _ := f.convs.IsParticipant(ctx, convID, "carol")
	if !ok {
		t.Fatal("carol should be a participant")
	}

	// 成員可以自行退出
	if err := f.service.RemoveParticipant(ctx, "carol", constants.RoleAttendee, convID, "carol"); err != nil {
		t.Fatalf("RemoveParticipant self: %v", err)
	}
	ok, _ = f.convs.IsParticipant(ctx, convID, "carol")
	if ok {
		t.Fatal("carol should have left")
	}

	// 普通成員不能踢人
	if err := f.service.RemoveParticipant(ctx, "bob", constants.RoleAttendee, convID, "alice"); err != ErrNotAuthorized {
		t.Errorf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestGeneratePreviewTruncation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"短內容原樣返回", "你好", "你好"},
		{"換行折疊為空格", "第一行\n第二行", "第一行 第二行"},
		{
			"超長內容按 rune 截斷",
			strings.Repeat("卡", constants.PreviewMaxRunes+5),
			strings.Repeat("卡", constants.PreviewMaxRunes) + "...",
		},
		{
			"剛好達到上限不截斷",
			strings.Repeat("a", constants.PreviewMaxRunes),
			strings.Repeat("a", constants.PreviewMaxRunes),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := generatePreview(tt.content); got != tt.want {
				t.Errorf("generatePreview(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestGetMessagesServedFromRecentCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.seedGroup(t, "alice", "bob")

	for i := 0; i < 3; i++ {
		if _, err := f.service.SendMessage(ctx, &SendMessageRequest{
			ConversationID: convID,
			SenderID:       "alice",
			Content:        fmt.Sprintf("訊息 %d", i),
		}); err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
	}

	f.msgs.mu.Lock()
	f.msgs.pageCalls = 0
	f.msgs.mu.Unlock()

	// 整頁命中：首頁從緩存返回，不查數據庫
	msgs, _, hasMore, err := f.service.GetMessages(ctx, "bob", convID, 3, "")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 3 || !hasMore {
		t.Fatalf("expected full cached page, got %d messages hasMore=%v", len(msgs), hasMore)
	}
	if msgs[0].Content != "訊息 2" {
		t.Errorf("expected newest first from cache, got %q", msgs[0].Content)
	}
	f.msgs.mu.Lock()
	calls := f.msgs.pageCalls
	f.msgs.mu.Unlock()
	if calls != 0 {
		t.Errorf("expected cache hit, store was queried %d times", calls)
	}

	// 不足一頁視為未命中，回數據庫
	if _, _, _, err := f.service.GetMessages(ctx, "bob", convID, 10, ""); err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	f.msgs.mu.Lock()
	calls = f.msgs.pageCalls
	f.msgs.mu.Unlock()
	if calls != 1 {
		t.Errorf("expected store fallback on partial cache, got %d calls", calls)
	}

	// 管理刪除作廢緩存後不再命中
	if err := f.service.ModerateMessage(ctx, "mod", constants.RoleAdmin, msgs[0].ID, "spam"); err != nil {
		t.Fatalf("ModerateMessage: %v", err)
	}
	if _, _, _, err := f.service.GetMessages(ctx, "bob", convID, 3, ""); err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	f.msgs.mu.Lock()
	calls = f.msgs.pageCalls
	f.msgs.mu.Unlock()
	if calls != 2 {
		t.Errorf("expected cache invalidated after moderation, got %d calls", calls)
	}
}
