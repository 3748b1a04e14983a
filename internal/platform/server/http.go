package server

import (
	"errors"
	"strconv"
	"time"

	"show-messenger/internal/constants"
	"show-messenger/internal/httputil"
	"show-messenger/internal/messaging"
	"show-messenger/internal/platform/config"
	"show-messenger/internal/platform/health"
	"show-messenger/internal/platform/middleware"

	"github.com/gin-gonic/gin"
)

// API 訊息 API 處理器
type API struct {
	svc *messaging.Service
}

// NewAPI 創建 API 處理器
func NewAPI(svc *messaging.Service) *API {
	return &API{svc: svc}
}

// securityHeadersMiddleware 添加安全標頭
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 防止點擊劫持
		c.Header("X-Frame-Options", "DENY")

		// 防止 MIME 類型嗅探
		c.Header("X-Content-Type-Options", "nosniff")

		// 啟用 XSS 保護
		c.Header("X-XSS-Protection", "1; mode=block")

		// 內容安全策略
		c.Header("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none';")

		// 推薦政策
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		c.Next()
	}
}

// Router 設定路由
func Router(api *API) *gin.Engine {
	r := gin.Default()

	cfg := config.Get()

	// CORS：只允許配置內的來源
	allowedOrigins := map[string]bool{}
	if cfg != nil && len(cfg.Server.AllowedOrigins) > 0 {
		for _, o := range cfg.Server.AllowedOrigins {
			allowedOrigins[o] = true
		}
	} else {
		// 未載入配置時退回本地開發來源
		allowedOrigins["http://localhost:3000"] = true
		allowedOrigins["http://localhost:8080"] = true
	}
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if allowedOrigins[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// 請求 ID 中間件（最優先）
	r.Use(middleware.RequestIDMiddleware())

	// 安全標頭
	r.Use(securityHeadersMiddleware())

	// JWT 認證
	jwtEnabled := false
	jwtSecret := ""
	if cfg != nil {
		jwtEnabled = cfg.Security.Authentication.JWTEnabled
		jwtSecret = cfg.Security.Authentication.JWTSecret
	}
	jwtMiddleware := middleware.NewJWTMiddleware(jwtSecret, jwtEnabled)
	r.Use(jwtMiddleware.GinMiddleware())

	// 請求元數據（IP、User-Agent、已認證用戶）
	r.Use(middleware.RequestMetadataMiddleware())

	// 請求體大小限制
	maxBodySize := int64(constants.DefaultMaxRequestBodySize)
	if cfg != nil && cfg.Limits.Request.MaxBodySize > 0 {
		maxBodySize = cfg.Limits.Request.MaxBodySize
	}
	r.Use(middleware.RequestSizeLimiter(maxBodySize))

	// Rate Limiter
	defaultLimit := constants.DefaultRateLimitPerMinute
	if cfg != nil && cfg.Limits.RateLimiting.DefaultPerMinute > 0 {
		defaultLimit = cfg.Limits.RateLimiting.DefaultPerMinute
	}
	rateLimiter := middleware.NewPerEndpointRateLimiter(defaultLimit, time.Minute)

	if cfg != nil && cfg.Limits.RateLimiting.Enabled {
		if cfg.Limits.RateLimiting.MessagesPerMin > 0 {
			rateLimiter.SetLimit("/api/v1/messages", cfg.Limits.RateLimiting.MessagesPerMin, time.Minute)
		}
		if cfg.Limits.RateLimiting.ConversationsPerMin > 0 {
			rateLimiter.SetLimit("/api/v1/conversations", cfg.Limits.RateLimiting.ConversationsPerMin, time.Minute)
		}
	}
	r.Use(rateLimiter.Middleware())

	// 串流連接限制器（SSE 與 WebSocket 共用）
	streamMaxPerIP := constants.DefaultStreamMaxConnectionsPerIP
	streamInterval := constants.DefaultStreamMinConnectionInterval
	streamMaxTotal := constants.DefaultStreamMaxTotalConnections
	if cfg != nil {
		if cfg.Limits.Stream.MaxConnectionsPerIP > 0 {
			streamMaxPerIP = cfg.Limits.Stream.MaxConnectionsPerIP
		}
		if cfg.Limits.Stream.MinConnectionInterval > 0 {
			streamInterval = cfg.Limits.Stream.MinConnectionInterval
		}
		if cfg.Limits.Stream.MaxTotalConnections > 0 {
			streamMaxTotal = cfg.Limits.Stream.MaxTotalConnections
		}
	}
	streamLimiter := middleware.NewStreamConnectionLimiter(streamMaxPerIP, time.Duration(streamInterval)*time.Second, streamMaxTotal)

	healthHandler := health.NewHealthHandler()

	// health check
	r.GET("/health", healthHandler.HealthCheck)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/conversations", api.createGroup)
		v1.GET("/conversations", api.listConversations)
		v1.GET("/conversations/:id", api.getConversation)
		v1.POST("/conversations/:id/read", api.markConversationAsRead)
		v1.POST("/conversations/:id/join", api.joinShowChannel)
		v1.POST("/conversations/:id/participants", api.addParticipant)
		v1.DELETE("/conversations/:id/participants/:user_id", api.removeParticipant)
		v1.GET("/conversations/:id/messages", api.getMessages)

		v1.POST("/messages", api.sendMessage)
		v1.POST("/messages/:id/read", api.markMessageAsRead)
		v1.POST("/messages/:id/report", api.reportMessage)

		// 管理操作需要主辦方或管理員角色
		v1.POST("/messages/:id/moderate",
			middleware.RequireRoles(constants.RoleShowOrganizer, constants.RoleAdmin), api.moderateMessage)
		v1.GET("/reports",
			middleware.RequireRoles(constants.RoleShowOrganizer, constants.RoleAdmin), api.listOpenReports)
		v1.POST("/broadcasts",
			middleware.RequireRoles(constants.RoleShowOrganizer, constants.RoleAdmin), api.sendBroadcast)

		// 串流端點應用額外的連接限制
		v1.GET("/conversations/:id/stream", streamLimiter.Middleware(), api.streamEvents)
		v1.GET("/conversations/:id/ws", streamLimiter.Middleware(), api.streamWebSocket)
	}

	return r
}

// handleServiceError 將服務層錯誤映射為 HTTP 響應
func handleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, messaging.ErrNotParticipant):
		c.JSON(403, httputil.ErrorWithCode(httputil.ErrorCodeNotParticipant, "您不是該對話的成員"))
	case errors.Is(err, messaging.ErrNotAuthorized):
		httputil.Forbidden(c, "權限不足")
	case errors.Is(err, messaging.ErrNotFound):
		httputil.NotFoundError(c, "")
	case errors.Is(err, messaging.ErrEmptyMessage):
		httputil.BadRequest(c, "訊息內容不能為空")
	case errors.Is(err, messaging.ErrMessageTooLong):
		c.JSON(400, httputil.ErrorWithCode(httputil.ErrorCodeMessageTooLong, "訊息內容超過長度限制"))
	case errors.Is(err, messaging.ErrMessageDeleted):
		httputil.BadRequest(c, "該訊息已被移除")
	case errors.Is(err, messaging.ErrSelfConversation):
		httputil.BadRequest(c, "不能與自己建立對話")
	default:
		httputil.InternalServerError(c, err)
	}
}

// requireUser 獲取已認證用戶，未認證時返回 401
func requireUser(c *gin.Context) (string, bool) {
	userID := middleware.GetAuthenticatedUserID(c)
	if userID == "" {
		httputil.Unauthorized(c, "")
		return "", false
	}
	return userID, true
}

// parseLimit 解析分頁 limit 參數
func parseLimit(c *gin.Context) int {
	cfg := config.Get()
	limit := constants.DefaultPageSize
	maxLimit := constants.DefaultMaxPageSize
	if cfg != nil {
		if cfg.Limits.Pagination.DefaultPageSize > 0 {
			limit = cfg.Limits.Pagination.DefaultPageSize
		}
		if cfg.Limits.Pagination.MaxPageSize > 0 {
			maxLimit = cfg.Limits.Pagination.MaxPageSize
		}
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit
}

// 創建群組對話
func (a *API) createGroup(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req struct {
		Name           string   `json:"name"`
		ParticipantIDs []string `json:"participant_ids"`
		ShowID         string   `json:"show_id,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}

	if err := middleware.ValidateGroupName(req.Name); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	cfg := config.Get()
	maxParticipants := constants.DefaultMaxParticipants
	if cfg != nil && cfg.Limits.Conversation.MaxParticipants > 0 {
		maxParticipants = cfg.Limits.Conversation.MaxParticipants
	}
	if len(req.ParticipantIDs) > maxParticipants {
		httputil.BadRequest(c, "成員數量超過限制")
		return
	}
	for _, id := range req.ParticipantIDs {
		if err := middleware.ValidateUserID(id); err != nil {
			httputil.BadRequest(c, "成員 ID 格式錯誤")
			return
		}
	}

	summary, err := a.svc.CreateGroup(c.Request.Context(), &messaging.CreateGroupRequest{
		OwnerID:        userID,
		Name:           middleware.SanitizeInput(req.Name),
		ParticipantIDs: req.ParticipantIDs,
		ShowID:         req.ShowID,
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success": true,
		"data":    summary,
	})
}

// 列出用戶對話
func (a *API) listConversations(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	summaries, cursor, hasMore, err := a.svc.ListConversations(
		c.Request.Context(), userID, parseLimit(c), c.Query("cursor"))
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success":  true,
		"data":     summaries,
		"cursor":   cursor,
		"has_more": hasMore,
	})
}

// 獲取單個對話
func (a *API) getConversation(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	summary, err := a.svc.GetConversation(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success": true,
		"data":    summary,
	})
}

// 標記對話已讀
func (a *API) markConversationAsRead(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	if err := a.svc.MarkConversationAsRead(c.Request.Context(), userID, c.Param("id")); err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{"success": true})
}

// 加入展會廣播頻道
func (a *API) joinShowChannel(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	if err := a.svc.JoinShowChannel(c.Request.Context(), userID, c.Param("id")); err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{"success": true})
}

// 添加群組成員
func (a *API) addParticipant(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req struct {
		UserID string `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}
	if err := middleware.ValidateUserID(req.UserID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	role := middleware.GetAuthenticatedRole(c)
	if err := a.svc.AddParticipant(c.Request.Context(), userID, role, c.Param("id"), req.UserID); err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{"success": true})
}

// 移除群組成員
func (a *API) removeParticipant(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	role := middleware.GetAuthenticatedRole(c)
	if err := a.svc.RemoveParticipant(c.Request.Context(), userID, role, c.Param("id"), c.Param("user_id")); err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{"success": true})
}

// 獲取對話訊息
func (a *API) getMessages(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	conversationID := c.Param("id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	messages, cursor, hasMore, err := a.svc.GetMessages(
		c.Request.Context(), userID, conversationID, parseLimit(c), c.Query("cursor"))
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success":     true,
		"data":        messages,
		"next_cursor": cursor,
		"has_more":    hasMore,
	})
}

// 發送訊息
func (a *API) sendMessage(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req struct {
		ConversationID string `json:"conversation_id,omitempty"`
		RecipientID    string `json:"recipient_id,omitempty"`
		Content        string `json:"content"`
		ClientRef      string `json:"client_ref,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}

	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	msg, err := a.svc.SendMessage(c.Request.Context(), &messaging.SendMessageRequest{
		ConversationID: req.ConversationID,
		RecipientID:    req.RecipientID,
		SenderID:       userID,
		Content:        middleware.SanitizeInput(req.Content),
		ClientRef:      req.ClientRef,
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success": true,
		"data":    msg,
	})
}

// 標記單條訊息已讀
func (a *API) markMessageAsRead(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}

	if err := a.svc.MarkMessageAsRead(c.Request.Context(), userID, req.ConversationID, c.Param("id")); err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{"success": true})
}

// 舉報訊息
func (a *API) reportMessage(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}
	if err := middleware.ValidateReportReason(req.Reason); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	report, err := a.svc.ReportMessage(c.Request.Context(), &messaging.ReportRequest{
		ReporterID: userID,
		MessageID:  c.Param("id"),
		Reason:     middleware.SanitizeInput(req.Reason),
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success": true,
		"data":    report,
	})
}

// 管理刪除訊息
func (a *API) moderateMessage(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}

	role := middleware.GetAuthenticatedRole(c)
	if err := a.svc.ModerateMessage(c.Request.Context(), userID, role, c.Param("id"), req.Reason); err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{"success": true})
}

// 列出未處理舉報
func (a *API) listOpenReports(c *gin.Context) {
	if _, ok := requireUser(c); !ok {
		return
	}

	role := middleware.GetAuthenticatedRole(c)
	reports, err := a.svc.ListOpenReports(c.Request.Context(), role, parseLimit(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success": true,
		"data":    reports,
	})
}

// 發送展會廣播
func (a *API) sendBroadcast(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req struct {
		ShowID    string `json:"show_id"`
		Content   string `json:"content"`
		ClientRef string `json:"client_ref,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}
	if req.ShowID == "" {
		httputil.BadRequest(c, "缺少 show_id 參數")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	msg, err := a.svc.Broadcast(c.Request.Context(), &messaging.BroadcastRequest{
		SenderID:  userID,
		ShowID:    req.ShowID,
		Content:   middleware.SanitizeInput(req.Content),
		ClientRef: req.ClientRef,
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(200, gin.H{
		"success": true,
		"data":    msg,
	})
}
