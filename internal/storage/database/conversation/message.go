package conversation

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// 訊息類型常數
const (
	MessageTypeText      = "text"
	MessageTypeBroadcast = "broadcast"
	MessageTypeSystem    = "system"
)

// MessageRepository 訊息倉儲接口
type MessageRepository interface {
	Create(ctx context.Context, message *Message) error
	GetByID(ctx context.Context, id string) (*Message, error)
	FindByClientRef(ctx context.Context, conversationID, senderID, clientRef string) (*Message, error)
	GetByConversationID(ctx context.Context, conversationID string, limit int, cursor string) ([]*Message, string, bool, error)
	GetRecentMessages(ctx context.Context, conversationID string, since time.Time, limit int) ([]*Message, error)
	Update(ctx context.Context, id string, update map[string]interface{}) error
	MarkAsRead(ctx context.Context, conversationID, userID string, messageID *string) error
	GetUnreadCount(ctx context.Context, conversationID, userID string) (int, error)
	SoftDelete(ctx context.Context, messageID, moderatorID, reason string) error
}

// Message 訊息數據模型
type Message struct {
	// OID 為 MongoDB 主鍵，必須導出才會被 bson codec 寫入
	OID              bson.ObjectID   `bson:"_id,omitempty" json:"-"`
	ID               string          `json:"id,omitempty" bson:"id" form:"id"`
	ConversationID   string          `bson:"conversation_id" json:"conversation_id"`
	SenderID         string          `bson:"sender_id" json:"sender_id"`
	Content          string          `bson:"content" json:"content"`
	ClientRef        string          `bson:"client_ref,omitempty" json:"client_ref,omitempty"`
	Type             string          `bson:"type" json:"type"`
	Status           string          `bson:"status" json:"status"`
	CreatedAt        time.Time       `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `bson:"updated_at" json:"updated_at"`
	ReadBy           []MessageReadBy `bson:"read_by,omitempty" json:"read_by,omitempty"`
	EncryptionKeyID  string          `bson:"encryption_key_id,omitempty" json:"encryption_key_id,omitempty"`
	EncryptedContent string          `bson:"encrypted_content,omitempty" json:"encrypted_content,omitempty"`
	Deleted          bool            `bson:"deleted" json:"deleted"`
	DeletedBy        string          `bson:"deleted_by,omitempty" json:"deleted_by,omitempty"`
	DeletedAt        *time.Time      `bson:"deleted_at,omitempty" json:"deleted_at,omitempty"`
	DeleteReason     string          `bson:"delete_reason,omitempty" json:"delete_reason,omitempty"`
}

// GetID 獲取 ID 的字符串形式
func (m *Message) GetID() string {
	return m.ID
}

// IsReadByOther 判斷是否已被發送者以外的任何成員讀取
func (m *Message) IsReadByOther() bool {
	for _, r := range m.ReadBy {
		if r.UserID != m.SenderID {
			return true
		}
	}
	return false
}

// NewMessage 創建新的 Message 實例
func NewMessage() Message {
	_id := bson.NewObjectID()
	now := time.Now().UTC()
	return Message{OID: _id, ID: _id.Hex(), CreatedAt: now, UpdatedAt: now}
}

// MessageReadBy 訊息已讀記錄
type MessageReadBy struct {
	UserID    string    `bson:"user_id" json:"user_id"`
	ReadAt    time.Time `bson:"read_at" json:"read_at"`
	IPAddress string    `bson:"ip_address,omitempty" json:"ip_address,omitempty"`
}

// MessageStore 訊息存儲實作
type MessageStore struct {
	collection *mongo.Collection
}

// NewMessageStore 創建新的訊息存儲
func NewMessageStore(db *mongo.Database) *MessageStore {
	return &MessageStore{
		collection: db.Collection("messages"),
	}
}

// Create 創建訊息
func (s *MessageStore) Create(ctx context.Context, message *Message) error {
	_id := bson.NewObjectID()
	message.OID = _id
	message.ID = _id.Hex()
	message.CreatedAt = time.Now()
	message.UpdatedAt = time.Now()
	message.Status = "sent"

	if message.Type == "" {
		message.Type = MessageTypeText
	}

	// 初始化已讀列表
	if message.ReadBy == nil {
		message.ReadBy = []MessageReadBy{}
	}

	_, err := s.collection.InsertOne(ctx, message)
	return err
}

// IsDuplicateClientRef 判斷錯誤是否為 client_ref 唯一索引衝突
func IsDuplicateClientRef(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}

// FindByClientRef 根據客戶端引用查找訊息（重送去重）
func (s *MessageStore) FindByClientRef(ctx context.Context, conversationID, senderID, clientRef string) (*Message, error) {
	if clientRef == "" {
		return nil, nil
	}

	var message Message
	err := s.collection.FindOne(ctx, bson.M{
		"conversation_id": conversationID,
		"sender_id":       senderID,
		"client_ref":      SafeStringValue(clientRef),
	}).Decode(&message)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}

	return &message, nil
}

// GetByID 根據 ID 獲取訊息
func (s *MessageStore) GetByID(ctx context.Context, id string) (*Message, error) {
	objectID, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}

	var message Message
	err = s.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&message)
	if err != nil {
		return nil, err
	}

	return &message, nil
}

// GetByConversationID 根據對話 ID 獲取訊息
func (s *MessageStore) GetByConversationID(ctx context.Context, conversationID string, limit int, cursor string) ([]*Message, string, bool, error) {
	limit = clampQueryLimit(limit)

	filter := bson.M{"conversation_id": conversationID}

	// 如果有游標，添加游標條件（查找比游標時間更早的訊息）
	if cursor != "" {
		cursorTime, err := time.Parse(time.RFC3339, cursor)
		if err == nil {
			filter["created_at"] = bson.M{"$lt": cursorTime}
		}
	}

	opts := options.Find()
	opts.SetLimit(int64(limit + 1))                      // 多取一個用於判斷是否有更多
	opts.SetSort(bson.D{{Key: "created_at", Value: -1}}) // 按創建時間倒序排列（新訊息在前）
	opts.SetProjection(bson.M{                           // 只選擇需要的字段，減少網絡傳輸
		"_id":             1,
		"id":              1,
		"conversation_id": 1,
		"sender_id":       1,
		"content":         1,
		"client_ref":      1,
		"type":            1,
		"status":          1,
		"created_at":      1,
		"updated_at":      1,
		"read_by":         1,
		"deleted":         1,
		"deleted_by":      1,
		"deleted_at":      1,
	})

	cursorResult, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, "", false, err
	}
	defer cursorResult.Close(ctx)

	var messages []*Message
	for cursorResult.Next(ctx) {
		var message Message
		if err := cursorResult.Decode(&message); err != nil {
			return nil, "", false, err
		}
		messages = append(messages, &message)
	}

	// 檢查是否有更多數據
	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit] // 移除多取的那一個
	}

	// 生成下一個游標
	var nextCursor string
	if hasMore && len(messages) > 0 {
		nextCursor = messages[len(messages)-1].CreatedAt.Format(time.RFC3339)
	}

	return messages, nextCursor, hasMore, nil
}

// GetRecentMessages 獲取最近訊息（用於斷線重連後補拉）
func (s *MessageStore) GetRecentMessages(ctx context.Context, conversationID string, since time.Time, limit int) ([]*Message, error) {
	limit = clampQueryLimit(limit)

	filter := bson.M{
		"conversation_id": conversationID,
		"created_at":      bson.M{"$gt": since},
	}

	opts := options.Find()
	opts.SetLimit(int64(limit))
	opts.SetSort(bson.D{{Key: "created_at", Value: 1}}) // 按時間正序排列

	cursorResult, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursorResult.Close(ctx)

	var messages []*Message
	for cursorResult.Next(ctx) {
		var message Message
		if err := cursorResult.Decode(&message); err != nil {
			return nil, err
		}
		messages = append(messages, &message)
	}

	return messages, nil
}

// Update 更新訊息
func (s *MessageStore) Update(ctx context.Context, id string, update map[string]interface{}) error {
	objectID, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return err
	}

	update["updated_at"] = time.Now()
	_, err = s.collection.UpdateOne(ctx, bson.M{"_id": objectID}, bson.M{"$set": update})
	return err
}

// MarkAsRead 標記訊息為已讀
func (s *MessageStore) MarkAsRead(ctx context.Context, conversationID, userID string, messageID *string) error {
	// 只更新那些 read_by 中不包含該 userID 的訊息，
	// 已讀集合只增不減；發送者不計入自己訊息的讀者
	filter := bson.M{
		"conversation_id": conversationID,
		"sender_id":       bson.M{"$ne": userID},
		"read_by.user_id": bson.M{"$ne": userID}, // 只選擇該用戶未讀的訊息
	}

	if messageID != nil {
		objectID, err := bson.ObjectIDFromHex(*messageID)
		if err != nil {
			return err
		}
		filter["_id"] = objectID
	}

	now := time.Now()
	readBy := MessageReadBy{
		UserID: userID,
		ReadAt: now,
	}

	// 使用 $push 添加新記錄
	// 因為 filter 已經排除了已讀的訊息，所以不會產生重複
	update := bson.M{
		"$push": bson.M{"read_by": readBy},
		"$set":  bson.M{"updated_at": now},
	}

	_, err := s.collection.UpdateMany(ctx, filter, update)
	return err
}

// GetUnreadCount 獲取用戶在對話中的未讀訊息數量
func (s *MessageStore) GetUnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	filter := bson.M{
		"conversation_id": conversationID,
		"sender_id":       bson.M{"$ne": userID},
		"read_by.user_id": bson.M{"$ne": userID},
	}

	count, err := s.collection.CountDocuments(ctx, filter)
	return int(count), err
}

// SoftDelete 軟刪除訊息（管理操作，保留原始記錄供審計）
func (s *MessageStore) SoftDelete(ctx context.Context, messageID, moderatorID, reason string) error {
	objectID, err := bson.ObjectIDFromHex(messageID)
	if err != nil {
		return err
	}

	now := time.Now()
	_, err = s.collection.UpdateOne(ctx, bson.M{"_id": objectID}, bson.M{
		"$set": bson.M{
			"deleted":       true,
			"deleted_by":    moderatorID,
			"deleted_at":    now,
			"delete_reason": reason,
			"updated_at":    now,
		},
	})
	return err
}
