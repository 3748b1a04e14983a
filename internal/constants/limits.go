package constants

// HTTP 請求相關常數
const (
	// 默認值（可被配置覆蓋）
	DefaultMaxRequestBodySize = 1 << 20 // 1MB，純文字訊息 API 不需要大請求體
	DefaultRequestTimeout     = 30      // 秒
)

// 分頁相關常數
const (
	DefaultPageSize    = 20
	DefaultMaxPageSize = 100
	MinPageSize        = 1
)

// 對話相關常數
const (
	DefaultMaxParticipants    = 500
	DefaultMaxGroupNameLength = 100
	MinGroupNameLength        = 1
)

// 訊息相關常數
const (
	// 訊息內容上限（字符數），超過即拒絕
	DefaultMaxMessageLength = 1000
	// 客戶端失敗訊息的重試上限，達到後標記為永久失敗
	DefaultSendRetryLimit = 3
	// 訊息預覽截斷長度（rune 數）
	PreviewMaxRunes = 30
	// 未讀徽章顯示上限，超過顯示 "99+"
	UnreadBadgeCap = 99
	// 舉報理由長度上限
	MaxReportReasonLength = 500
)

// Rate Limiting 默認值
const (
	DefaultRateLimitPerMinute    = 100
	DefaultMessageRateLimit      = 30
	DefaultConversationRateLimit = 10
	DefaultStreamRateLimit       = 5
	RateLimitCleanupIntervalMin  = 10 // 分鐘
)

// 串流連接（SSE / WebSocket）相關常數
const (
	DefaultStreamMaxConnectionsPerIP   = 3
	DefaultStreamMaxTotalConnections   = 1000
	DefaultStreamMinConnectionInterval = 10 // 秒
	DefaultStreamHeartbeatInterval     = 15 // 秒
	StreamConnectionCleanupIntervalMin = 10 // 分鐘
	// 單個訂閱者的事件緩衝，寫滿視為慢消費者並斷開
	SubscriberChannelBuffer = 16
)

// 密鑰管理相關常數
const (
	DefaultKeyRotationIntervalHours = 24
	DefaultKeyMaxAgeDays            = 30
	MasterKeyLength                 = 32 // 256 bits
)

// MongoDB 查詢相關常數
const (
	DefaultMongoQueryLimit        = 20
	MaxMongoQueryLimit            = 100
	DefaultUserConversationsLimit = 100
)

// 用戶 ID 相關常數
const (
	MaxUserIDLength = 100
)

// 實時重連相關常數
const (
	// 指數退避的初始與最大間隔（秒）
	ReconnectBaseDelaySeconds = 1
	ReconnectMaxDelaySeconds  = 30
)
