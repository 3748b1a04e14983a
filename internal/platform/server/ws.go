package server

import (
	"net/http"
	"time"

	"show-messenger/internal/constants"
	"show-messenger/internal/platform/config"
	"show-messenger/internal/platform/logger"
	"show-messenger/internal/platform/middleware"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	// 寫超時
	wsWriteWait = 10 * time.Second
	// pong 等待時間，超過視為斷線
	wsPongWait = 60 * time.Second
	// ping 間隔，必須小於 pongWait
	wsPingPeriod = (wsPongWait * 9) / 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 瀏覽器端來源在 CORS 中間件已檢查，原生客戶端沒有 Origin
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return origin == "http://localhost:3000" || origin == "http://localhost:8080"
	},
}

// streamWebSocket 使用 WebSocket 推送對話的實時事件
// 只做服務端到客戶端的單向推送，發送訊息仍走 HTTP API
func (a *API) streamWebSocket(c *gin.Context) {
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

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warningf(c.Request.Context(), "WebSocket 升級失敗: %v", err)
		return
	}
	defer conn.Close()

	heartbeat := constants.DefaultStreamHeartbeatInterval
	if cfg := config.Get(); cfg != nil && cfg.Limits.Stream.HeartbeatInterval > 0 {
		heartbeat = cfg.Limits.Stream.HeartbeatInterval
	}
	pingPeriod := time.Duration(heartbeat) * time.Second
	if pingPeriod <= 0 || pingPeriod >= wsPongWait {
		pingPeriod = wsPingPeriod
	}

	// 讀循環只消費控制幀，客戶端發來的數據幀一律忽略
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-c.Request.Context().Done():
			return

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case event, open := <-sub.C:
			if !open {
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription closed"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
