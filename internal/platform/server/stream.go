package server

import (
	"time"

	"show-messenger/internal/constants"
	"show-messenger/internal/platform/config"
	"show-messenger/internal/platform/middleware"
	"show-messenger/internal/realtime"

	"github.com/gin-gonic/gin"
)

// streamEvents 使用 SSE 推送對話的實時事件
func (a *API) streamEvents(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	conversationID := c.Param("id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	sub, err := a.svc.Subscribe(c.Request.Context(), userID, conversationID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	defer sub.Close()

	setupSSEHeaders(c)
	handleSSELoop(c, sub.C)
}

// setupSSEHeaders 設置 SSE headers
func setupSSEHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("connected", gin.H{"status": "ok"})
	c.Writer.Flush()
}

// handleSSELoop 處理 SSE 循環：事件直出加心跳
func handleSSELoop(c *gin.Context, events <-chan realtime.Event) {
	cfg := config.Get()
	heartbeatInterval := constants.DefaultStreamHeartbeatInterval
	if cfg != nil && cfg.Limits.Stream.HeartbeatInterval > 0 {
		heartbeatInterval = cfg.Limits.Stream.HeartbeatInterval
	}

	ticker := time.NewTicker(time.Duration(heartbeatInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return

		case <-ticker.C:
			c.SSEvent("ping", gin.H{"timestamp": time.Now().Unix()})
			c.Writer.Flush()

		case event, open := <-events:
			if !open {
				// 訂閱已失效（慢消費者被斷開或服務關閉），客戶端需重連補拉
				c.SSEvent("error", gin.H{"message": "訂閱已關閉，請重新連接"})
				c.Writer.Flush()
				return
			}
			c.SSEvent(event.Type, event)
			c.Writer.Flush()
		}
	}
}
