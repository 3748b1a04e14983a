package apiclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"show-messenger/internal/client"
	"show-messenger/internal/messaging"
	"show-messenger/internal/realtime"
)

// Client HTTP 訊息服務客戶端，實作 client.MessagingService
// 實時事件經 SSE 端點接收
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string // JWT，空字串表示服務端未啟用認證
	userID     string // 認證未啟用時作為 user_id 查詢參數
}

// Option 客戶端選項
type Option func(*Client)

// WithHTTPClient 覆蓋默認 HTTP 客戶端
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithToken 設置認證 token
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithUserID 設置開發模式用戶 ID（服務端未啟用 JWT 時）
func WithUserID(userID string) Option {
	return func(c *Client) {
		c.userID = userID
	}
}

// New 創建客戶端
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiError API 錯誤響應
type apiError struct {
	Message   string `json:"error"`
	RequestID string `json:"request_id"`
}

func (e *apiError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("%s (request_id=%s)", e.Message, e.RequestID)
	}
	return e.Message
}

// do 執行請求並解碼響應
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.buildURL(path, query), reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &apiError{}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// buildURL 組合完整 URL
func (c *Client) buildURL(path string, query url.Values) string {
	u := c.baseURL + path
	if c.token == "" && c.userID != "" {
		if query == nil {
			query = url.Values{}
		}
		query.Set("user_id", c.userID)
	}
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// setAuth 設置認證標頭
func (c *Client) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// GetMessages 獲取對話訊息
// 服務端倒序分頁，這裡反轉為升序便於時間線渲染
func (c *Client) GetMessages(ctx context.Context, conversationID string, limit int, cursor string) ([]*messaging.Message, string, bool, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	var resp struct {
		Data       []*messaging.Message `json:"data"`
		NextCursor string               `json:"next_cursor"`
		HasMore    bool                 `json:"has_more"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/conversations/"+conversationID+"/messages", query, nil, &resp); err != nil {
		return nil, "", false, err
	}

	for i, j := 0, len(resp.Data)-1; i < j; i, j = i+1, j-1 {
		resp.Data[i], resp.Data[j] = resp.Data[j], resp.Data[i]
	}
	return resp.Data, resp.NextCursor, resp.HasMore, nil
}

// SendMessage 發送訊息
func (c *Client) SendMessage(ctx context.Context, req *messaging.SendMessageRequest) (*messaging.Message, error) {
	var resp struct {
		Data *messaging.Message `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/messages", nil, req, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// MarkMessageAsRead 標記單條訊息已讀
func (c *Client) MarkMessageAsRead(ctx context.Context, conversationID, messageID string) error {
	body := map[string]string{"conversation_id": conversationID}
	return c.do(ctx, http.MethodPost, "/api/v1/messages/"+messageID+"/read", nil, body, nil)
}

// MarkConversationAsRead 標記對話已讀
func (c *Client) MarkConversationAsRead(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/conversations/"+conversationID+"/read", nil, struct{}{}, nil)
}

// ListConversations 列出對話
func (c *Client) ListConversations(ctx context.Context, limit int, cursor string) ([]*messaging.ConversationSummary, string, bool, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	var resp struct {
		Data    []*messaging.ConversationSummary `json:"data"`
		Cursor  string                           `json:"cursor"`
		HasMore bool                             `json:"has_more"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/conversations", query, nil, &resp); err != nil {
		return nil, "", false, err
	}
	return resp.Data, resp.Cursor, resp.HasMore, nil
}

// ReportMessage 舉報訊息
func (c *Client) ReportMessage(ctx context.Context, req *messaging.ReportRequest) error {
	body := map[string]string{"reason": req.Reason}
	return c.do(ctx, http.MethodPost, "/api/v1/messages/"+req.MessageID+"/report", nil, body, nil)
}

// ModerateMessage 管理刪除訊息
func (c *Client) ModerateMessage(ctx context.Context, messageID, reason string) error {
	body := map[string]string{"reason": reason}
	return c.do(ctx, http.MethodPost, "/api/v1/messages/"+messageID+"/moderate", nil, body, nil)
}

// CreateGroup 創建群組對話
func (c *Client) CreateGroup(ctx context.Context, name string, participantIDs []string, showID string) (*messaging.ConversationSummary, error) {
	body := map[string]interface{}{
		"name":            name,
		"participant_ids": participantIDs,
	}
	if showID != "" {
		body["show_id"] = showID
	}

	var resp struct {
		Data *messaging.ConversationSummary `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/conversations", nil, body, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Broadcast 發送展會廣播（需要主辦方或管理員角色）
func (c *Client) Broadcast(ctx context.Context, showID, content, clientRef string) (*messaging.Message, error) {
	body := map[string]string{
		"show_id": showID,
		"content": content,
	}
	if clientRef != "" {
		body["client_ref"] = clientRef
	}

	var resp struct {
		Data *messaging.Message `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/broadcasts", nil, body, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Subscribe 建立 SSE 事件流
func (c *Client) Subscribe(ctx context.Context, conversationID string) (client.EventStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.buildURL("/api/v1/conversations/"+conversationID+"/stream", nil), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.setAuth(req)

	// SSE 長連接不能帶客戶端超時
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("stream request failed with status %d", resp.StatusCode)
	}

	stream := &sseStream{
		body:   resp.Body,
		events: make(chan realtime.Event, 16),
		done:   make(chan struct{}),
	}
	go stream.readLoop()
	return stream, nil
}

// sseStream SSE 事件流
type sseStream struct {
	body   io.ReadCloser
	events chan realtime.Event
	done   chan struct{}
}

func (s *sseStream) Events() <-chan realtime.Event {
	return s.events
}

func (s *sseStream) Close() error {
	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
	}
	return s.body.Close()
}

// readLoop 解析 SSE 幀
// 只關心 event/data 欄位，ping 與 connected 事件直接丟棄
func (s *sseStream) readLoop() {
	defer close(s.events)
	defer s.body.Close()

	scanner := bufio.NewScanner(s.body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	eventName := ""
	var dataLines []string

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			// 空行結束一個事件
			s.dispatch(eventName, strings.Join(dataLines, "\n"))
			eventName = ""
			dataLines = dataLines[:0]
			continue
		}

		switch {
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
}

// dispatch 將解析出的事件投遞給消費者
func (s *sseStream) dispatch(eventName, data string) {
	switch eventName {
	case realtime.EventTypeMessage, realtime.EventTypeRead, realtime.EventTypeModerated:
	default:
		// ping、connected、error 等控制事件不投遞
		return
	}

	var event realtime.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return
	}
	if event.Type == "" {
		event.Type = eventName
	}

	select {
	case s.events <- event:
	case <-s.done:
	}
}
