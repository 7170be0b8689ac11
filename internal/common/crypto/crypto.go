// Package crypto 提供敏感字段加密工具
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// 预定义错误
var (
	ErrEmptySecret      = errors.New("empty secret")
	ErrCiphertextShort  = errors.New("ciphertext too short")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// AES AES-256-GCM 加密管理器，密钥由配置的密文经 HKDF 派生
type AES struct {
	aead cipher.AEAD
}

// NewAES 创建加密管理器，info 区分不同用途的派生密钥
func NewAES(secret, info string) (*AES, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(info)), key); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AES{aead: aead}, nil
}

// Encrypt 加密并输出 base64(nonce|ciphertext)
func (a *AES) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, a.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := a.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt 解密
func (a *AES) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}
	ns := a.aead.NonceSize()
	if len(raw) < ns {
		return "", ErrCiphertextShort
	}
	plain, err := a.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

// MaskAccountNo 账号脱敏，保留末四位
func MaskAccountNo(no string) string {
	if len(no) <= 4 {
		return no
	}
	return "****" + no[len(no)-4:]
}
