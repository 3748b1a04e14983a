package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"show-messenger/internal/messaging"
	"show-messenger/internal/realtime"
)

func TestSendMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/messages" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("missing auth header, got %q", got)
		}

		var req messaging.SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Content != "hello" || req.ClientRef != "ref-1" {
			t.Errorf("unexpected payload: %+v", req)
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data": &messaging.Message{
				ID: "m1", ConversationID: "c1", Content: "hello", ClientRef: "ref-1",
			},
		})
	}))
	defer server.Close()

	c := New(server.URL, WithToken("test-token"))
	msg, err := c.SendMessage(context.Background(), &messaging.SendMessageRequest{
		ConversationID: "c1", Content: "hello", ClientRef: "ref-1",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.ID != "m1" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestGetMessagesReversesToAscending(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 服務端返回倒序（新的在前）
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data": []*messaging.Message{
				{ID: "m3"}, {ID: "m2"}, {ID: "m1"},
			},
			"next_cursor": "cur",
			"has_more":    true,
		})
	}))
	defer server.Close()

	c := New(server.URL, WithUserID("alice"))
	msgs, cursor, hasMore, err := c.GetMessages(context.Background(), "c1", 20, "")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 3 || msgs[0].ID != "m1" || msgs[2].ID != "m3" {
		t.Errorf("expected ascending order, got %+v", msgs)
	}
	if cursor != "cur" || !hasMore {
		t.Errorf("pagination fields lost: %q %v", cursor, hasMore)
	}
}

func TestDevModeUserIDQueryParam(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("user_id"); got != "alice" {
			t.Errorf("expected user_id=alice, got %q", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": nil})
	}))
	defer server.Close()

	c := New(server.URL, WithUserID("alice"))
	if _, _, _, err := c.ListConversations(context.Background(), 10, ""); err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
}

func TestErrorResponseSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(403)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":      "您不是該對話的成員",
			"success":    false,
			"request_id": "req-123",
		})
	}))
	defer server.Close()

	c := New(server.URL, WithUserID("mallory"))
	_, _, _, err := c.GetMessages(context.Background(), "c1", 10, "")
	if err == nil {
		t.Fatal("expected error")
	}
	want := "您不是該對話的成員 (request_id=req-123)"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestSubscribeParsesSSE(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(200)

		// 控制事件應被丟棄
		fmt.Fprint(w, "event:connected\ndata:{\"status\":\"ok\"}\n\n")
		fmt.Fprint(w, "event:ping\ndata:{\"timestamp\":1}\n\n")

		event := realtime.Event{
			Type:           realtime.EventTypeMessage,
			ConversationID: "c1",
			MessageID:      "m1",
			UserID:         "bob",
		}
		payload, _ := json.Marshal(event)
		fmt.Fprintf(w, "event:message\ndata:%s\n\n", payload)
		flusher.Flush()
	}))
	defer server.Close()

	c := New(server.URL, WithUserID("alice"))
	stream, err := c.Subscribe(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stream.Close()

	select {
	case event, ok := <-stream.Events():
		if !ok {
			t.Fatal("stream closed before delivering event")
		}
		if event.Type != realtime.EventTypeMessage || event.MessageID != "m1" {
			t.Errorf("unexpected event: %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for SSE event")
	}
}
