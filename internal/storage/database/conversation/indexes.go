package conversation

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CreateIndexes 創建數據庫索引以優化查詢性能
func CreateIndexes(ctx context.Context, db *mongo.Database) error {
	// 訊息集合索引
	messagesCollection := db.Collection("messages")

	// 1. 對話 ID + 創建時間複合索引（最重要的索引）
	conversationTimeIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "conversation_id", Value: 1},
			{Key: "created_at", Value: -1},
		},
		Options: options.Index().SetName("conversation_time_idx"),
	}

	// 2. 發送者 ID + 創建時間索引
	senderTimeIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "sender_id", Value: 1},
			{Key: "created_at", Value: -1},
		},
		Options: options.Index().SetName("sender_time_idx"),
	}

	// 3. 客戶端引用唯一索引（重送去重）
	// 稀疏索引，沒有 client_ref 的歷史訊息不受影響
	clientRefIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "conversation_id", Value: 1},
			{Key: "sender_id", Value: 1},
			{Key: "client_ref", Value: 1},
		},
		Options: options.Index().
			SetName("client_ref_idx").
			SetUnique(true).
			SetSparse(true),
	}

	// 4. 已讀狀態索引
	readStatusIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "read_by.user_id", Value: 1},
			{Key: "created_at", Value: -1},
		},
		Options: options.Index().SetName("read_status_idx"),
	}

	// 創建訊息索引
	messageIndexes := []mongo.IndexModel{
		conversationTimeIndex,
		senderTimeIndex,
		clientRefIndex,
		readStatusIndex,
	}

	_, err := messagesCollection.Indexes().CreateMany(ctx, messageIndexes)
	if err != nil {
		return err
	}

	// 對話集合索引
	conversationsCollection := db.Collection("conversations")

	// 1. 對話類型索引
	conversationTypeIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "type", Value: 1},
		},
		Options: options.Index().SetName("conversation_type_idx"),
	}

	// 2. 展會 ID 索引
	showIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "show_id", Value: 1},
		},
		Options: options.Index().SetName("show_idx").SetSparse(true),
	}

	// 3. 成員用戶 ID 索引
	participantIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "participants.user_id", Value: 1},
		},
		Options: options.Index().SetName("participant_idx"),
	}

	// 4. 最後訊息時間索引
	lastMessageIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "last_message_at", Value: -1},
		},
		Options: options.Index().SetName("last_message_idx"),
	}

	// 創建對話索引
	conversationIndexes := []mongo.IndexModel{
		conversationTypeIndex,
		showIndex,
		participantIndex,
		lastMessageIndex,
	}

	_, err = conversationsCollection.Indexes().CreateMany(ctx, conversationIndexes)
	if err != nil {
		return err
	}

	// 舉報集合索引
	reportsCollection := db.Collection("message_reports")

	reportIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "created_at", Value: 1},
			},
			Options: options.Index().SetName("report_status_idx"),
		},
		{
			Keys: bson.D{
				{Key: "message_id", Value: 1},
			},
			Options: options.Index().SetName("report_message_idx"),
		},
		// 每個用戶對同一條訊息只能有一份舉報，重複舉報冪等
		{
			Keys: bson.D{
				{Key: "message_id", Value: 1},
				{Key: "reporter_id", Value: 1},
			},
			Options: options.Index().
				SetName("report_unique_idx").
				SetUnique(true),
		},
	}

	_, err = reportsCollection.Indexes().CreateMany(ctx, reportIndexes)
	return err
}
