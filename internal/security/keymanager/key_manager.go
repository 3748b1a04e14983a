package keymanager

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

// KeyManager 帶持久化的密鑰管理器
// 每個對話一把獨立密鑰，用 HKDF 從主密鑰衍生的 KEK 加密後存入 MongoDB
type KeyManager struct {
	mu             sync.RWMutex
	keys           map[string]*Key   // conversationID -> 當前密鑰（緩存）
	oldKeys        map[string][]*Key // conversationID -> 歷史密鑰（緩存）
	kek            []byte            // 密鑰加密密鑰（從主密鑰衍生）
	store          *KeyStore         // 持久化存儲
	rotationPolicy RotationPolicy
	stopChan       chan struct{}
	running        bool
}

// NewKeyManager 創建帶持久化的密鑰管理器
func NewKeyManager(masterKey []byte, db *mongo.Database) (*KeyManager, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes (256 bits)")
	}

	// 用 HKDF 從主密鑰衍生 KEK，主密鑰本身不直接用於加密
	kek := make([]byte, 32)
	reader := hkdf.New(sha256.New, masterKey, nil, []byte("show-messenger conversation key encryption"))
	if _, err := io.ReadFull(reader, kek); err != nil {
		return nil, fmt.Errorf("failed to derive KEK: %w", err)
	}

	km := &KeyManager{
		keys:    make(map[string]*Key),
		oldKeys: make(map[string][]*Key),
		kek:     kek,
		store:   NewKeyStore(db),
		rotationPolicy: RotationPolicy{
			Enabled:          false,
			RotationInterval: 24 * time.Hour,
			MaxKeyAge:        30 * 24 * time.Hour,
			KeepOldKeys:      5,
		},
	}

	// 啟動時清理過期密鑰
	go func() {
		count, err := km.store.DeleteExpiredKeys(context.Background())
		if err == nil && count > 0 {
			fmt.Printf("Cleaned up %d expired keys\n", count)
		}
	}()

	return km, nil
}

// GetOrCreateConversationKey 獲取或創建對話密鑰（帶 DB 持久化）
// 使用 Double-Check Locking 防止並發創建
func (km *KeyManager) GetOrCreateConversationKey(conversationID string) ([]byte, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("conversationID cannot be empty")
	}

	// 第一次檢查：使用讀鎖（快速路徑）
	km.mu.RLock()
	key, exists := km.keys[conversationID]
	km.mu.RUnlock()

	if exists && key.Status == KeyStatusActive {
		return key.Value, nil
	}

	// 獲取寫鎖以進行創建或加載（慢速路徑）
	km.mu.Lock()
	defer km.mu.Unlock()

	// 第二次檢查：其他協程可能已經創建了密鑰
	if key, exists := km.keys[conversationID]; exists && key.Status == KeyStatusActive {
		return key.Value, nil
	}

	// 從數據庫加載（在鎖內執行，確保只有一個協程執行）
	ctx := context.Background()
	keyDoc, err := km.store.GetActiveKey(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("key loading error")
	}

	if keyDoc != nil {
		// 解密密鑰
		convKey, err := km.decryptConversationKey(keyDoc.EncryptedKey)
		if err != nil {
			return nil, fmt.Errorf("key decryption error")
		}

		// 加載到緩存
		key := &Key{
			ID:        conversationID,
			Value:     convKey,
			CreatedAt: keyDoc.CreatedAt,
			RotatedAt: keyDoc.RotatedAt,
			Version:   keyDoc.KeyVersion,
			Status:    KeyStatusActive,
		}
		km.keys[conversationID] = key

		return convKey, nil
	}

	// 密鑰不存在，創建新密鑰（已持有寫鎖，安全）
	return km.createConversationKeyUnsafe(conversationID)
}

// createConversationKeyUnsafe 創建新的對話密鑰（不加鎖版本）
// 調用者必須已經持有 km.mu 寫鎖
func (km *KeyManager) createConversationKeyUnsafe(conversationID string) ([]byte, error) {
	// 再次檢查（防止並發創建）
	if key, exists := km.keys[conversationID]; exists && key.Status == KeyStatusActive {
		return key.Value, nil
	}

	// 生成 256-bit 隨機密鑰
	keyValue := make([]byte, 32)
	if _, err := rand.Read(keyValue); err != nil {
		return nil, fmt.Errorf("key generation error")
	}

	// 使用完後清零（安全增強）
	defer func() {
		for i := range keyValue {
			keyValue[i] = 0
		}
	}()

	// 為緩存創建獨立的副本（避免被 defer 清零）
	keyValueForCache := make([]byte, 32)
	copy(keyValueForCache, keyValue)

	now := time.Now()
	key := &Key{
		ID:        conversationID,
		Value:     keyValueForCache, // 使用副本，不會被清零
		CreatedAt: now,
		RotatedAt: now,
		Version:   1,
		Status:    KeyStatusActive,
	}

	// 用 KEK 加密對話密鑰
	encryptedKey, err := km.encryptConversationKey(keyValue)
	if err != nil {
		return nil, fmt.Errorf("key encryption error")
	}

	// 保存到數據庫
	keyDoc := &KeyDocument{
		ConversationID: conversationID,
		KeyVersion:     1,
		EncryptedKey:   encryptedKey,
		CreatedAt:      now,
		RotatedAt:      now,
		IsActive:       true,
		ExpiresAt:      now.Add(km.rotationPolicy.MaxKeyAge),
	}

	ctx := context.Background()
	if err := km.store.SaveKey(ctx, keyDoc); err != nil {
		return nil, fmt.Errorf("key persistence error")
	}

	// 複製密鑰值以返回（安全增強：避免返回內部引用）
	keyValueCopy := make([]byte, len(keyValue))
	copy(keyValueCopy, keyValue)

	// 加載到緩存
	km.keys[conversationID] = key

	return keyValueCopy, nil
}

// rotateKey 輪換密鑰（保存到 DB）
func (km *KeyManager) rotateKey(conversationID string) error {
	km.mu.Lock()
	defer km.mu.Unlock()

	oldKey, exists := km.keys[conversationID]
	if !exists {
		return fmt.Errorf("key not found for conversation %s", conversationID)
	}

	// 生成新密鑰
	newKeyValue := make([]byte, 32)
	if _, err := rand.Read(newKeyValue); err != nil {
		return fmt.Errorf("key generation error")
	}

	now := time.Now()
	newVersion := oldKey.Version + 1

	// 創建新密鑰
	newKey := &Key{
		ID:        conversationID,
		Value:     newKeyValue,
		CreatedAt: oldKey.CreatedAt,
		RotatedAt: now,
		Version:   newVersion,
		Status:    KeyStatusActive,
	}

	// 用 KEK 加密新的對話密鑰
	encryptedKey, err := km.encryptConversationKey(newKeyValue)
	if err != nil {
		return fmt.Errorf("key encryption error")
	}

	// 保存新密鑰到數據庫
	newKeyDoc := &KeyDocument{
		ConversationID: conversationID,
		KeyVersion:     newVersion,
		EncryptedKey:   encryptedKey,
		CreatedAt:      oldKey.CreatedAt,
		RotatedAt:      now,
		IsActive:       true,
		ExpiresAt:      now.Add(km.rotationPolicy.MaxKeyAge),
	}

	ctx := context.Background()
	if err := km.store.SaveKey(ctx, newKeyDoc); err != nil {
		return fmt.Errorf("key persistence error")
	}

	// 歸檔舊密鑰（保留值以解密歷史訊息）
	oldKey.Status = KeyStatusArchived
	if km.oldKeys[conversationID] == nil {
		km.oldKeys[conversationID] = make([]*Key, 0)
	}
	km.oldKeys[conversationID] = append(km.oldKeys[conversationID], oldKey)

	// 清理過舊的密鑰
	km.cleanupOldKeys(conversationID)

	// 更新當前密鑰
	km.keys[conversationID] = newKey

	return nil
}

// encryptConversationKey 用 KEK 加密對話密鑰
func (km *KeyManager) encryptConversationKey(convKey []byte) (string, error) {
	block, err := aes.NewCipher(km.kek)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	// 生成隨機 IV
	ciphertext := make([]byte, aes.BlockSize+len(convKey))
	iv := ciphertext[:aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	// 使用 CTR 模式加密
	// #nosec G407 -- IV is dynamically generated from crypto/rand above, not hardcoded
	stream := cipher.NewCTR(block, iv)
	stream.XORKeyStream(ciphertext[aes.BlockSize:], convKey)

	// Base64 編碼
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decryptConversationKey 用 KEK 解密對話密鑰
func (km *KeyManager) decryptConversationKey(encryptedKey string) ([]byte, error) {
	// Base64 解碼
	ciphertext, err := base64.StdEncoding.DecodeString(encryptedKey)
	if err != nil {
		return nil, fmt.Errorf("decryption error")
	}

	if len(ciphertext) < aes.BlockSize {
		return nil, fmt.Errorf("invalid encrypted data")
	}

	block, err := aes.NewCipher(km.kek)
	if err != nil {
		return nil, fmt.Errorf("decryption error")
	}

	// 提取 IV
	iv := ciphertext[:aes.BlockSize]
	encryptedData := ciphertext[aes.BlockSize:]

	// 使用 CTR 模式解密
	// #nosec G407 -- IV is extracted from encrypted data, not hardcoded
	stream := cipher.NewCTR(block, iv)
	plaintext := make([]byte, len(encryptedData))
	stream.XORKeyStream(plaintext, encryptedData)

	return plaintext, nil
}

// cleanupOldKeys 清理過舊的密鑰
func (km *KeyManager) cleanupOldKeys(conversationID string) {
	oldKeyList := km.oldKeys[conversationID]
	if len(oldKeyList) <= km.rotationPolicy.KeepOldKeys {
		return
	}

	// 只保留最新的 N 個密鑰
	km.oldKeys[conversationID] = oldKeyList[len(oldKeyList)-km.rotationPolicy.KeepOldKeys:]
}

// shouldRotateKey 判斷是否需要輪換密鑰
func (km *KeyManager) shouldRotateKey(key *Key) bool {
	if !km.rotationPolicy.Enabled {
		return false
	}

	now := time.Now()

	// 檢查密鑰年齡
	if km.rotationPolicy.MaxKeyAge > 0 {
		if now.Sub(key.CreatedAt) > km.rotationPolicy.MaxKeyAge {
			return true
		}
	}

	// 檢查輪換間隔
	if km.rotationPolicy.RotationInterval > 0 {
		if now.Sub(key.RotatedAt) > km.rotationPolicy.RotationInterval {
			return true
		}
	}

	return false
}

// GetKeyInfo 獲取密鑰信息（不返回密鑰值）
func (km *KeyManager) GetKeyInfo(conversationID string) (*KeyInfo, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()

	key, exists := km.keys[conversationID]
	if !exists {
		return nil, fmt.Errorf("key not found for conversation %s", conversationID)
	}

	return &KeyInfo{
		ConversationID: key.ID,
		Version:        key.Version,
		CreatedAt:      key.CreatedAt,
		RotatedAt:      key.RotatedAt,
		Status:         key.Status,
		Age:            time.Since(key.CreatedAt),
	}, nil
}

// SetRotationPolicy 設置密鑰輪換策略
func (km *KeyManager) SetRotationPolicy(policy RotationPolicy) {
	km.mu.Lock()
	defer km.mu.Unlock()
	km.rotationPolicy = policy
}

// StartAutoRotation 啟動自動密鑰輪換
func (km *KeyManager) StartAutoRotation() {
	km.mu.Lock()
	defer km.mu.Unlock()

	if km.running {
		return
	}

	km.stopChan = make(chan struct{})
	km.running = true

	go km.autoRotationLoop()
}

// StopAutoRotation 停止自動密鑰輪換
func (km *KeyManager) StopAutoRotation() {
	km.mu.Lock()
	defer km.mu.Unlock()

	if !km.running {
		return
	}

	close(km.stopChan)
	km.running = false
}

// autoRotationLoop 自動輪換循環
func (km *KeyManager) autoRotationLoop() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			km.checkAndRotateKeys()
		case <-km.stopChan:
			return
		}
	}
}

// checkAndRotateKeys 檢查並輪換需要輪換的密鑰
func (km *KeyManager) checkAndRotateKeys() {
	km.mu.RLock()
	keysToRotate := make([]string, 0)

	for conversationID, key := range km.keys {
		if km.shouldRotateKey(key) {
			keysToRotate = append(keysToRotate, conversationID)
		}
	}
	km.mu.RUnlock()

	// 輪換需要輪換的密鑰
	for _, conversationID := range keysToRotate {
		if err := km.rotateKey(conversationID); err != nil {
			fmt.Printf("Failed to rotate key for conversation %s: %v\n", conversationID, err)
		}
	}
}

// Stats 獲取統計信息
func (km *KeyManager) Stats() KeyManagerStats {
	km.mu.RLock()
	defer km.mu.RUnlock()

	stats := KeyManagerStats{
		TotalKeys: len(km.keys),
	}

	for _, key := range km.keys {
		switch key.Status {
		case KeyStatusActive:
			stats.ActiveKeys++
		case KeyStatusRevoked:
			stats.RevokedKeys++
		}
	}

	for _, keyList := range km.oldKeys {
		stats.ArchivedKeys += len(keyList)
	}

	return stats
}
