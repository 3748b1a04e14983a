package conversation

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// 舉報狀態常數
const (
	ReportStatusOpen     = "open"
	ReportStatusResolved = "resolved"
	ReportStatusRejected = "rejected"
)

// ReportRepository 訊息舉報倉儲接口
type ReportRepository interface {
	Create(ctx context.Context, report *MessageReport) error
	GetByID(ctx context.Context, id string) (*MessageReport, error)
	FindByMessageAndReporter(ctx context.Context, messageID, reporterID string) (*MessageReport, error)
	ListOpen(ctx context.Context, limit int) ([]*MessageReport, error)
	Resolve(ctx context.Context, id, resolverID, status string) error
}

// MessageReport 訊息舉報數據模型
type MessageReport struct {
	// OID 為 MongoDB 主鍵，必須導出才會被 bson codec 寫入
	OID            bson.ObjectID `bson:"_id,omitempty" json:"-"`
	ID             string        `json:"id,omitempty" bson:"id" form:"id"`
	MessageID      string        `bson:"message_id" json:"message_id"`
	ConversationID string        `bson:"conversation_id" json:"conversation_id"`
	ReporterID     string        `bson:"reporter_id" json:"reporter_id"`
	Reason         string        `bson:"reason" json:"reason"`
	Status         string        `bson:"status" json:"status"`
	CreatedAt      time.Time     `bson:"created_at" json:"created_at"`
	ResolvedAt     *time.Time    `bson:"resolved_at,omitempty" json:"resolved_at,omitempty"`
	ResolvedBy     string        `bson:"resolved_by,omitempty" json:"resolved_by,omitempty"`
}

// ReportStore 舉報存儲實作
type ReportStore struct {
	collection *mongo.Collection
}

// NewReportStore 創建新的舉報存儲
func NewReportStore(db *mongo.Database) *ReportStore {
	return &ReportStore{
		collection: db.Collection("message_reports"),
	}
}

// Create 創建舉報
func (s *ReportStore) Create(ctx context.Context, report *MessageReport) error {
	_id := bson.NewObjectID()
	report.OID = _id
	report.ID = _id.Hex()
	report.CreatedAt = time.Now()
	report.Status = ReportStatusOpen

	_, err := s.collection.InsertOne(ctx, report)
	return err
}

// IsDuplicateReport 判斷錯誤是否為 (message_id, reporter_id) 唯一索引衝突
func IsDuplicateReport(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}

// FindByMessageAndReporter 查找某用戶對某訊息已存在的舉報（重複舉報冪等）
func (s *ReportStore) FindByMessageAndReporter(ctx context.Context, messageID, reporterID string) (*MessageReport, error) {
	var report MessageReport
	err := s.collection.FindOne(ctx, bson.M{
		"message_id":  messageID,
		"reporter_id": reporterID,
	}).Decode(&report)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &report, nil
}

// GetByID 根據 ID 獲取舉報
func (s *ReportStore) GetByID(ctx context.Context, id string) (*MessageReport, error) {
	objectID, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}

	var report MessageReport
	err = s.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&report)
	if err != nil {
		return nil, err
	}

	return &report, nil
}

// ListOpen 列出未處理的舉報
func (s *ReportStore) ListOpen(ctx context.Context, limit int) ([]*MessageReport, error) {
	if limit <= 0 {
		limit = 50
	}

	opts := options.Find()
	opts.SetLimit(int64(limit))
	opts.SetSort(bson.D{{Key: "created_at", Value: 1}}) // 先進先出

	cursorResult, err := s.collection.Find(ctx, bson.M{"status": ReportStatusOpen}, opts)
	if err != nil {
		return nil, err
	}
	defer cursorResult.Close(ctx)

	var reports []*MessageReport
	for cursorResult.Next(ctx) {
		var report MessageReport
		if err := cursorResult.Decode(&report); err != nil {
			return nil, err
		}
		reports = append(reports, &report)
	}

	return reports, nil
}

// Resolve 處理舉報
func (s *ReportStore) Resolve(ctx context.Context, id, resolverID, status string) error {
	objectID, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return err
	}

	now := time.Now()
	_, err = s.collection.UpdateOne(ctx, bson.M{"_id": objectID}, bson.M{
		"$set": bson.M{
			"status":      status,
			"resolved_at": now,
			"resolved_by": resolverID,
		},
	})
	return err
}
