package conversation

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// marshalToDoc 模擬 InsertOne 的序列化
func marshalToDoc(t *testing.T, model interface{}) bson.M {
	t.Helper()
	data, err := bson.Marshal(model)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var doc bson.M
	if err := bson.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	return doc
}

// assertObjectID 檢查文檔帶有與 id 字段一致的 _id 主鍵
// 主鍵必須隨文檔寫入，否則按 _id 過濾的查詢（GetByID、SoftDelete、
// MarkAsRead 單條標記等）永遠匹配不到存儲的行
func assertObjectID(t *testing.T, doc bson.M, wantHex string) {
	t.Helper()
	raw, ok := doc["_id"]
	if !ok {
		t.Fatal("_id missing from marshalled document")
	}
	oid, ok := raw.(bson.ObjectID)
	if !ok {
		t.Fatalf("_id has type %T, want bson.ObjectID", raw)
	}
	if oid.Hex() != wantHex {
		t.Errorf("_id = %s, want %s (id field)", oid.Hex(), wantHex)
	}
}

func TestObjectIDPersistedInDocuments(t *testing.T) {
	t.Run("message", func(t *testing.T) {
		msg := NewMessage()
		msg.ConversationID = "c1"
		msg.SenderID = "alice"
		msg.Content = "hello"

		assertObjectID(t, marshalToDoc(t, &msg), msg.ID)
	})

	t.Run("conversation", func(t *testing.T) {
		conv := NewConversation()
		conv.Type = TypeDirect
		conv.Participants = []Participant{{UserID: "alice"}, {UserID: "bob"}}

		assertObjectID(t, marshalToDoc(t, &conv), conv.ID)
	})

	t.Run("report", func(t *testing.T) {
		_id := bson.NewObjectID()
		report := MessageReport{
			OID:       _id,
			ID:        _id.Hex(),
			MessageID: "m1",
			Status:    ReportStatusOpen,
			CreatedAt: time.Now(),
		}

		assertObjectID(t, marshalToDoc(t, &report), report.ID)
	})
}

func TestObjectIDRoundTripDecode(t *testing.T) {
	msg := NewMessage()
	msg.ConversationID = "c1"

	data, err := bson.Marshal(&msg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded Message
	if err := bson.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.OID != msg.OID {
		t.Errorf("OID = %s, want %s", decoded.OID.Hex(), msg.OID.Hex())
	}
	if decoded.ID != msg.ID {
		t.Errorf("ID = %s, want %s", decoded.ID, msg.ID)
	}
}
