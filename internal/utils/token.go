package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// keySalt is versioned so a future key rotation can re-derive under a new
// salt without ambiguity about which derivation produced a ciphertext.
const keySalt = "prod-staging-sync.token.v1"

// TokenCipher encrypts shop access tokens at rest. The AES key is derived
// from the configured encryption secret with scrypt.
type TokenCipher struct {
	key []byte
}

func NewTokenCipher(secret string) (*TokenCipher, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("encryption secret not set")
	}
	key, err := scrypt.Key([]byte(secret), []byte(keySalt), 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}
	return &TokenCipher{key: key}, nil
}

func (c *TokenCipher) Encrypt(plain string) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(plain), nil)
	return ciphertext, nil
}

func (c *TokenCipher) Decrypt(data []byte) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
