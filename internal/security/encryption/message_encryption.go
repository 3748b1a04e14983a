package encryption

import (
	"fmt"
	"log"

	"show-messenger/internal/security/keymanager"
)

// MessageEncryption 訊息靜態加密服務
// 使用 AES-256-CTR 加密模式 + 密鑰管理器
type MessageEncryption struct {
	enabled    bool
	keyManager *keymanager.KeyManager
}

// NewMessageEncryption 創建訊息加密服務
func NewMessageEncryption(enabled bool, km *keymanager.KeyManager) *MessageEncryption {
	if km == nil {
		log.Println("[WARNING] KeyManager is nil. Encryption will be disabled.")
		enabled = false
	}

	return &MessageEncryption{
		enabled:    enabled,
		keyManager: km,
	}
}

// EncryptMessage 加密訊息
// 使用 AES-256-CTR 加密模式
func (m *MessageEncryption) EncryptMessage(content string, conversationID string) (string, error) {
	if !m.enabled {
		log.Println("[WARNING] Message encryption is DISABLED. Messages are stored in PLAIN TEXT!")
		return "plaintext:" + content, nil
	}

	if m.keyManager == nil {
		return "", fmt.Errorf("key manager not initialized")
	}

	// 獲取或創建對話密鑰
	key, err := m.keyManager.GetOrCreateConversationKey(conversationID)
	if err != nil {
		return "", fmt.Errorf("failed to get conversation key: %w", err)
	}

	// 創建 AES-256-CTR 加密器
	aesCTR, err := NewAESCTREncryption(key)
	if err != nil {
		return "", fmt.Errorf("failed to create encryptor: %w", err)
	}

	// 加密訊息
	encrypted, err := aesCTR.Encrypt(content)
	if err != nil {
		return "", fmt.Errorf("encryption failed: %w", err)
	}

	return encrypted, nil
}

// DecryptMessage 解密訊息
func (m *MessageEncryption) DecryptMessage(encryptedContent string, conversationID string) (string, error) {
	if !m.enabled {
		// 檢查是否有 plaintext 前綴
		if len(encryptedContent) > 10 && encryptedContent[:10] == "plaintext:" {
			return encryptedContent[10:], nil
		}
		return encryptedContent, nil
	}

	if m.keyManager == nil {
		return "", fmt.Errorf("key manager not initialized")
	}

	// 兼容未加密的歷史格式
	if len(encryptedContent) > 10 && encryptedContent[:10] == "plaintext:" {
		return encryptedContent[10:], nil
	}

	// 獲取對話密鑰
	key, err := m.keyManager.GetOrCreateConversationKey(conversationID)
	if err != nil {
		return "", fmt.Errorf("failed to get conversation key: %w", err)
	}

	// 創建 AES-256-CTR 解密器
	aesCTR, err := NewAESCTREncryption(key)
	if err != nil {
		return "", fmt.Errorf("failed to create decryptor: %w", err)
	}

	// 解密訊息
	decrypted, err := aesCTR.Decrypt(encryptedContent)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}

	return decrypted, nil
}

// IsEncrypted 檢查訊息是否已加密
func (m *MessageEncryption) IsEncrypted(content string) bool {
	return len(content) >= 10 && content[:10] == "aes256ctr:"
}

// GetKeyInfo 獲取密鑰信息（用於調試）
func (m *MessageEncryption) GetKeyInfo(conversationID string) (*keymanager.KeyInfo, error) {
	if m.keyManager == nil {
		return nil, fmt.Errorf("key manager not initialized")
	}

	return m.keyManager.GetKeyInfo(conversationID)
}
