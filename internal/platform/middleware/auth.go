package middleware

import (
	"fmt"
	"strings"
	"time"

	"show-messenger/internal/constants"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// 平台角色常數（見 constants 包）
const (
	RoleAttendee      = constants.RoleAttendee
	RoleDealer        = constants.RoleDealer
	RoleMVPDealer     = constants.RoleMVPDealer
	RoleShowOrganizer = constants.RoleShowOrganizer
	RoleAdmin         = constants.RoleAdmin
)

// Context keys
const (
	AuthUserIDKey = "auth_user_id"
	AuthRoleKey   = "auth_role"
)

// UserClaims JWT 自定義 claims（用戶 ID 放在標準 sub 欄位）
type UserClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTMiddleware JWT 驗證中間件
type JWTMiddleware struct {
	secretKey string
	enabled   bool
}

// NewJWTMiddleware 創建 JWT 中間件
func NewJWTMiddleware(secretKey string, enabled bool) *JWTMiddleware {
	return &JWTMiddleware{
		secretKey: secretKey,
		enabled:   enabled,
	}
}

// GinMiddleware Gin HTTP 中間件
// 使用方式：router.Use(jwtMiddleware.GinMiddleware())
func (m *JWTMiddleware) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 如果未啟用，從查詢參數取得用戶身份（僅開發環境）
		if !m.enabled {
			if userID := c.Query("user_id"); userID != "" {
				c.Set(AuthUserIDKey, userID)
				c.Set(AuthRoleKey, RoleAttendee)
			}
			c.Next()
			return
		}

		// 從 Header 獲取 token（SSE/WebSocket 無法自定義 Header 時退回查詢參數）
		authHeader := c.GetHeader("Authorization")
		tokenString := ""
		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.JSON(401, gin.H{"error": "無效的認證格式"})
				c.Abort()
				return
			}
			tokenString = parts[1]
		} else if qt := c.Query("token"); qt != "" {
			tokenString = qt
		}

		if tokenString == "" {
			c.JSON(401, gin.H{"error": "未提供認證 token"})
			c.Abort()
			return
		}

		claims, err := m.ValidateToken(tokenString)
		if err != nil {
			c.JSON(401, gin.H{"error": "認證失敗"})
			c.Abort()
			return
		}

		// 將用戶身份存入 context
		c.Set(AuthUserIDKey, claims.Subject)
		c.Set(AuthRoleKey, claims.Role)

		c.Next()
	}
}

// ValidateToken 驗證 token 並返回 claims
func (m *JWTMiddleware) ValidateToken(tokenString string) (*UserClaims, error) {
	claims := &UserClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		// 只接受 HMAC 簽名算法
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("非預期的簽名算法: %v", t.Header["alg"])
		}
		return []byte(m.secretKey), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("token 無效")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token 缺少用戶 ID")
	}
	if claims.Role == "" {
		claims.Role = RoleAttendee
	}

	return claims, nil
}

// IssueToken 簽發 token（測試與開發工具使用）
func (m *JWTMiddleware) IssueToken(userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &UserClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.secretKey))
}

// RequireRoles 要求請求者具備指定角色之一
func RequireRoles(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}

	return func(c *gin.Context) {
		role := GetAuthenticatedRole(c)
		if role == "" || !allowed[role] {
			c.JSON(403, gin.H{"error": "權限不足"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetAuthenticatedUserID 從 context 獲取已認證的用戶 ID
func GetAuthenticatedUserID(c *gin.Context) string {
	if v, exists := c.Get(AuthUserIDKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// GetAuthenticatedRole 從 context 獲取已認證的用戶角色
func GetAuthenticatedRole(c *gin.Context) string {
	if v, exists := c.Get(AuthRoleKey); exists {
		if role, ok := v.(string); ok {
			return role
		}
	}
	return ""
}

// CanModerate 判斷角色是否具備管理訊息的權限
func CanModerate(role string) bool {
	return constants.CanModerate(role)
}

// CanBroadcast 判斷角色是否可以發送展會廣播
func CanBroadcast(role string) bool {
	return constants.CanBroadcast(role)
}
