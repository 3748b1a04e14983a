package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"show-messenger/internal/constants"
	"show-messenger/internal/messaging"
	"show-messenger/internal/platform/config"
	"show-messenger/internal/platform/driver"
	"show-messenger/internal/platform/logger"
	"show-messenger/internal/platform/server"
	"show-messenger/internal/realtime"
	"show-messenger/internal/security/audit"
	"show-messenger/internal/security/encryption"
	"show-messenger/internal/security/keymanager"
	"show-messenger/internal/storage/cache"
	"show-messenger/internal/storage/database"
)

func main() {
	if err := mainNoExit(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// loadMasterKey 載入主密鑰
// 從環境變量 MASTER_KEY 讀取 base64 編碼的 32 bytes 密鑰
// 如果未設置，生成臨時隨機密鑰（開發環境）
func loadMasterKey() ([]byte, error) {
	ctx := context.Background()
	masterKeyEnv := os.Getenv("MASTER_KEY")

	if masterKeyEnv != "" {
		masterKey, err := base64.StdEncoding.DecodeString(masterKeyEnv)
		if err != nil {
			logger.Error(ctx, "Master Key 格式錯誤", logger.WithDetails(map[string]interface{}{"error": err.Error()}))
			return nil, fmt.Errorf("invalid master key configuration")
		}

		if len(masterKey) != constants.MasterKeyLength {
			logger.Error(ctx, "Master Key 長度錯誤", logger.WithDetails(map[string]interface{}{
				"expected": constants.MasterKeyLength,
				"got":      len(masterKey),
			}))
			return nil, fmt.Errorf("invalid master key configuration")
		}

		// 遮罩顯示（只顯示前4個字元）
		masked := fmt.Sprintf("%x****", masterKey[:2])
		logger.Info(ctx, "成功從環境變量載入主密鑰", logger.WithDetails(map[string]interface{}{
			"masked": masked,
			"source": "MASTER_KEY environment variable",
		}))
		return masterKey, nil
	}

	// 開發環境：生成臨時隨機密鑰
	masterKey := make([]byte, constants.MasterKeyLength)
	if _, err := rand.Read(masterKey); err != nil {
		return nil, fmt.Errorf("master key initialization failed")
	}

	logger.Info(ctx, "[WARNING] 開發模式：使用臨時主密鑰（重啟後舊訊息將無法解密）")
	logger.Info(ctx, "生成方式：export MASTER_KEY=$(openssl rand -base64 32)")

	return masterKey, nil
}

// mainNoExit 分離主要邏輯以避免 exitAfterDefer 問題，確保 defer 函數正常執行.
func mainNoExit() error {
	// 初始化日誌.
	if err := logger.InitLogger(); err != nil {
		return err
	}
	defer logger.CloseLogger()

	ctx := context.Background()

	// 載入配置.
	if err := config.Load(); err != nil {
		return err
	}
	cfg := config.Get()

	// 連接資料庫.
	if err := driver.ConnectMongo(); err != nil {
		return err
	}
	defer func() {
		if err := driver.CloseMongo(); err != nil {
			logger.Errorf(ctx, "關閉 MongoDB 連接失敗: %v", err)
		}
	}()

	// 連接 Redis（配置未啟用時為 no-op）.
	if err := driver.ConnectRedis(); err != nil {
		return err
	}
	defer func() {
		if err := driver.CloseRedis(); err != nil {
			logger.Errorf(ctx, "關閉 Redis 連接失敗: %v", err)
		}
	}()

	// 設置 MongoDB 連接到 database 包
	database.SetMongoDB(driver.GetMongoDatabase())

	// 初始化 Repository.
	repos := database.NewRepositories(cfg)

	// 初始化訊息加密（帶密鑰持久化）
	var encryptor messaging.Encryptor
	if cfg.Security.Encryption.Enabled {
		masterKey, err := loadMasterKey()
		if err != nil {
			return fmt.Errorf("encryption initialization failed")
		}

		keyManager, err := keymanager.NewKeyManager(masterKey, driver.GetMongoDatabase())
		if err != nil {
			logger.Error(ctx, "密鑰管理器創建失敗", logger.WithDetails(map[string]interface{}{"error": err.Error()}))
			return fmt.Errorf("encryption initialization failed")
		}

		// 啟用自動密鑰輪換（可選）
		if os.Getenv("KEY_ROTATION_ENABLED") == "true" {
			keyManager.StartAutoRotation()
			logger.Info(ctx, "[KeyManager] 自動密鑰輪換已啟用")
		}

		encryptor = encryption.NewMessageEncryption(true, keyManager)
	}

	// 審計服務
	auditor := audit.NewAuditService(cfg.Security.Audit.Enabled)

	// 實時事件代理（Redis 啟用時做跨實例廣播）
	subscriberBuffer := constants.SubscriberChannelBuffer
	if cfg.Limits.Stream.SubscriberBuffer > 0 {
		subscriberBuffer = cfg.Limits.Stream.SubscriberBuffer
	}
	broker := realtime.NewBroker(driver.GetRedisClient(), subscriberBuffer)
	defer broker.Close()

	// 最近訊息緩存（Redis 未啟用時為 no-op）
	recentCache := cache.NewRecentMessageCache(driver.GetRedisClient(), int64(cfg.Limits.MongoDB.DefaultQueryLimit))

	// 訊息服務
	svc := messaging.NewService(messaging.Options{
		Conversations: repos.Conversation,
		Messages:      repos.Message,
		Reports:       repos.Report,
		Encryptor:     encryptor,
		Auditor:       auditor,
		Broker:        broker,
		RecentCache:   recentCache,
		MaxMessageLen: cfg.Limits.Message.MaxLength,
	})

	// 啟動 HTTP 服務器（阻塞到收到關閉信號）
	router := server.Router(server.NewAPI(svc))
	if err := server.Start(router); err != nil {
		return err
	}

	logger.Info(ctx, "服務器已關閉", logger.WithAction("shutdown"))
	return nil
}
