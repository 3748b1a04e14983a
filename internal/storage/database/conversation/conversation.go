package conversation

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// 對話類型常數
const (
	TypeDirect = "direct" // 一對一對話
	TypeGroup  = "group"  // 群組對話
	TypeShow   = "show"   // 展會廣播頻道
)

// ConversationRepository 對話倉儲接口
type ConversationRepository interface {
	Create(ctx context.Context, conv *Conversation) error
	GetByID(ctx context.Context, id string) (*Conversation, error)
	Update(ctx context.Context, id string, update map[string]interface{}) error
	Delete(ctx context.Context, id string) error
	FindDirectConversation(ctx context.Context, userA, userB string) (*Conversation, error)
	FindShowChannel(ctx context.Context, showID string) (*Conversation, error)
	ListUserConversations(ctx context.Context, userID string, limit int, cursor string) ([]*Conversation, string, bool, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	AddParticipant(ctx context.Context, conversationID string, participant *Participant) error
	RemoveParticipant(ctx context.Context, conversationID, userID string) error
	GetParticipants(ctx context.Context, conversationID string) ([]Participant, error)
	ApplyLastMessage(ctx context.Context, conversationID, senderID, preview string, at time.Time) error
	ResetUnread(ctx context.Context, conversationID, userID string) error
}

// Conversation 對話數據模型
type Conversation struct {
	// OID 為 MongoDB 主鍵，必須導出才會被 bson codec 寫入
	OID           bson.ObjectID          `bson:"_id,omitempty" json:"-"`
	ID            string                 `json:"id,omitempty" bson:"id" form:"id"`
	Type          string                 `bson:"type" json:"type"`
	Name          string                 `bson:"name,omitempty" json:"name,omitempty"`
	ShowID        string                 `bson:"show_id,omitempty" json:"show_id,omitempty"`
	OwnerID       string                 `bson:"owner_id" json:"owner_id"`
	Participants  []Participant          `bson:"participants" json:"participants"`
	UnreadCounts  map[string]int         `bson:"unread_counts" json:"unread_counts"`
	LastMessage   string                 `bson:"last_message" json:"last_message"`
	LastMessageAt time.Time              `bson:"last_message_at" json:"last_message_at"`
	CreatedAt     time.Time              `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time              `bson:"updated_at" json:"updated_at"`
	Metadata      map[string]interface{} `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

// NewConversation 創建新的 Conversation 實例
func NewConversation() Conversation {
	_id := bson.NewObjectID()
	now := time.Now().UTC()
	return Conversation{OID: _id, ID: _id.Hex(), CreatedAt: now, UpdatedAt: now}
}

// Participant 對話成員數據模型
type Participant struct {
	UserID      string    `bson:"user_id" json:"user_id"`
	DisplayName string    `bson:"display_name" json:"display_name"`
	AvatarURL   string    `bson:"avatar_url,omitempty" json:"avatar_url,omitempty"`
	Role        string    `bson:"role" json:"role"`
	JoinedAt    time.Time `bson:"joined_at" json:"joined_at"`
	LastReadAt  time.Time `bson:"last_read_at" json:"last_read_at"`
}

// ConversationStore 對話存儲實作
type ConversationStore struct {
	collection *mongo.Collection
}

// NewConversationStore 創建新的對話存儲
func NewConversationStore(db *mongo.Database) *ConversationStore {
	return &ConversationStore{
		collection: db.Collection("conversations"),
	}
}

// Create 創建對話
func (s *ConversationStore) Create(ctx context.Context, conv *Conversation) error {
	_id := bson.NewObjectID()
	conv.OID = _id
	conv.ID = _id.Hex()
	conv.CreatedAt = time.Now()
	conv.UpdatedAt = time.Now()

	// 未讀計數從零開始，只有明確標記已讀才會重置
	if conv.UnreadCounts == nil {
		conv.UnreadCounts = make(map[string]int)
	}
	for _, p := range conv.Participants {
		if _, ok := conv.UnreadCounts[p.UserID]; !ok {
			conv.UnreadCounts[p.UserID] = 0
		}
	}

	_, err := s.collection.InsertOne(ctx, conv)
	return err
}

// GetByID 根據 ID 獲取對話
func (s *ConversationStore) GetByID(ctx context.Context, id string) (*Conversation, error) {
	objectID, err := parseObjectID(id)
	if err != nil {
		return nil, err
	}

	var conv Conversation
	err = s.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// Update 更新對話
func (s *ConversationStore) Update(ctx context.Context, id string, update map[string]interface{}) error {
	update["updated_at"] = time.Now()
	_, err := s.collection.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": update})
	return err
}

// Delete 刪除對話
func (s *ConversationStore) Delete(ctx context.Context, id string) error {
	objectID, err := parseObjectID(id)
	if err != nil {
		return err
	}
	_, err = s.collection.DeleteOne(ctx, bson.M{"_id": objectID})
	return err
}

// parseObjectID 是轉換字符串 ID 為 ObjectID 的輔助函數
func parseObjectID(id string) (bson.ObjectID, error) {
	if err := ValidateObjectID(id); err != nil {
		return bson.ObjectID{}, err
	}
	return bson.ObjectIDFromHex(id)
}

// FindDirectConversation 查找兩個用戶之間已存在的一對一對話
func (s *ConversationStore) FindDirectConversation(ctx context.Context, userA, userB string) (*Conversation, error) {
	filter := bson.M{
		"type": TypeDirect,
		"$and": []bson.M{
			{"participants.user_id": userA},
			{"participants.user_id": userB},
		},
	}

	var conv Conversation
	err := s.collection.FindOne(ctx, filter).Decode(&conv)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &conv, nil
}

// FindShowChannel 查找展會的廣播頻道（show_idx 索引）
// 頻道不分持有人，任何廣播角色都找到同一個頻道
func (s *ConversationStore) FindShowChannel(ctx context.Context, showID string) (*Conversation, error) {
	filter := bson.M{
		"type":    TypeShow,
		"show_id": showID,
	}

	var conv Conversation
	err := s.collection.FindOne(ctx, filter).Decode(&conv)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &conv, nil
}

// ListUserConversations 列出用戶的對話，按最後訊息時間倒序.
func (s *ConversationStore) ListUserConversations(
	ctx context.Context, userID string, limit int, cursor string,
) (
	conversations []*Conversation, nextCursor string, hasMore bool, err error,
) {
	filter := bson.M{
		"participants.user_id": userID,
	}

	opts := options.Find()
	opts.SetLimit(int64(limit + 1)) // 多取一個用於判斷是否有更多
	opts.SetSort(bson.D{{Key: "last_message_at", Value: -1}})

	// 如果有游標，添加游標條件
	if cursor != "" {
		cursorTime, parseErr := time.Parse(time.RFC3339, cursor)
		if parseErr == nil {
			filter["last_message_at"] = bson.M{"$lt": cursorTime}
		}
	}

	cursorResult, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, "", false, err
	}
	defer cursorResult.Close(ctx)

	conversations = []*Conversation{}
	for cursorResult.Next(ctx) {
		var conv Conversation
		if err := cursorResult.Decode(&conv); err != nil {
			return nil, "", false, err
		}
		conversations = append(conversations, &conv)
	}

	// 檢查是否有更多數據
	hasMore = len(conversations) > limit
	if hasMore {
		conversations = conversations[:limit] // 移除多取的那一個
	}

	// 生成下一個游標
	if hasMore && len(conversations) > 0 {
		nextCursor = conversations[len(conversations)-1].LastMessageAt.Format(time.RFC3339)
	}

	return conversations, nextCursor, hasMore, nil
}

// IsParticipant 檢查用戶是否是對話成員
func (s *ConversationStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	count, err := s.collection.CountDocuments(ctx, bson.M{
		"id":                   conversationID,
		"participants.user_id": userID,
	})
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// AddParticipant 添加成員
func (s *ConversationStore) AddParticipant(ctx context.Context, conversationID string, participant *Participant) error {
	participant.JoinedAt = time.Now()
	participant.LastReadAt = time.Now()

	result, err := s.collection.UpdateOne(ctx,
		bson.M{
			"id": conversationID,
			// 避免重複加入
			"participants.user_id": bson.M{"$ne": participant.UserID},
		},
		bson.M{
			"$push": bson.M{"participants": participant},
			"$set": bson.M{
				"updated_at": time.Now(),
				fmt.Sprintf("unread_counts.%s", participant.UserID): 0,
			},
		})

	if err != nil {
		return fmt.Errorf("update failed: %v", err)
	}

	if result.MatchedCount == 0 {
		return fmt.Errorf("conversation not found or user already joined: %s", conversationID)
	}

	return nil
}

// RemoveParticipant 移除成員
func (s *ConversationStore) RemoveParticipant(ctx context.Context, conversationID, userID string) error {
	_, err := s.collection.UpdateOne(ctx, bson.M{"id": conversationID}, bson.M{
		"$pull":  bson.M{"participants": bson.M{"user_id": userID}},
		"$unset": bson.M{fmt.Sprintf("unread_counts.%s", userID): ""},
		"$set":   bson.M{"updated_at": time.Now()},
	})
	return err
}

// GetParticipants 獲取對話成員
func (s *ConversationStore) GetParticipants(ctx context.Context, conversationID string) ([]Participant, error) {
	objectID, err := bson.ObjectIDFromHex(conversationID)
	if err != nil {
		return nil, err
	}

	var conv Conversation
	err = s.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&conv)
	if err != nil {
		return nil, err
	}

	return conv.Participants, nil
}

// ApplyLastMessage 更新最後訊息快照並累加其他成員的未讀計數
func (s *ConversationStore) ApplyLastMessage(ctx context.Context, conversationID, senderID, preview string, at time.Time) error {
	conv, err := s.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}

	inc := bson.M{}
	for _, p := range conv.Participants {
		// 發送者自己的未讀計數不變
		if p.UserID == senderID {
			continue
		}
		inc[fmt.Sprintf("unread_counts.%s", p.UserID)] = 1
	}

	update := bson.M{
		"$set": bson.M{
			"last_message":    preview,
			"last_message_at": at,
			"updated_at":      time.Now(),
		},
	}
	if len(inc) > 0 {
		update["$inc"] = inc
	}

	_, err = s.collection.UpdateOne(ctx, bson.M{"id": conversationID}, update)
	return err
}

// ResetUnread 將用戶在對話中的未讀計數歸零（只在明確標記已讀時調用）
func (s *ConversationStore) ResetUnread(ctx context.Context, conversationID, userID string) error {
	now := time.Now()
	_, err := s.collection.UpdateOne(ctx,
		bson.M{
			"id":                   conversationID,
			"participants.user_id": userID,
		},
		bson.M{
			"$set": bson.M{
				fmt.Sprintf("unread_counts.%s", userID): 0,
				"participants.$.last_read_at":           now,
				"updated_at":                            now,
			},
		})
	return err
}
