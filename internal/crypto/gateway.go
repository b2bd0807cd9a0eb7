package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// envelopeSeparator 分隔 nonce 与密文
const envelopeSeparator = ":"

// ErrDecryption 信封格式错误、密钥不匹配或认证失败
var ErrDecryption = errors.New("decryption failed")

// Gateway 对称加解密入口（AES-256-GCM）。
//
// 每次加密都在调用内部生成新的随机 nonce，并与密文一起编码进信封，
// Gateway 本身不保存任何 nonce 状态，可被多个 goroutine 并发使用。
type Gateway struct {
	aead cipher.AEAD
}

// NewGateway 使用派生好的密钥创建 Gateway
func NewGateway(key *Key) (*Gateway, error) {
	if key == nil || len(key.material) != KeySize {
		return nil, fmt.Errorf("invalid key: expected %d bytes", KeySize)
	}

	block, err := aes.NewCipher(key.material)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}

	return &Gateway{aead: aead}, nil
}

// Encrypt 加密明文，返回 "hex(nonce):hex(密文)" 信封
func (g *Gateway) Encrypt(plaintext []byte) (string, error) {
	return g.Seal(plaintext, nil)
}

// Decrypt 解开 Encrypt 生成的信封
func (g *Gateway) Decrypt(envelope string) ([]byte, error) {
	return g.Open(envelope, nil)
}

// Seal 加密并认证附加数据 aad，aad 不写入信封，解密时必须提供相同的值
func (g *Gateway) Seal(plaintext, aad []byte) (string, error) {
	nonce := make([]byte, g.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := g.aead.Seal(nil, nonce, plaintext, aad)

	var b strings.Builder
	b.Grow(hex.EncodedLen(len(nonce)) + len(envelopeSeparator) + hex.EncodedLen(len(sealed)))
	b.WriteString(hex.EncodeToString(nonce))
	b.WriteString(envelopeSeparator)
	b.WriteString(hex.EncodeToString(sealed))
	return b.String(), nil
}

// Open 校验并解密信封
func (g *Gateway) Open(envelope string, aad []byte) ([]byte, error) {
	nonceHex, sealedHex, ok := strings.Cut(envelope, envelopeSeparator)
	if !ok {
		return nil, fmt.Errorf("%w: malformed envelope", ErrDecryption)
	}

	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid nonce encoding", ErrDecryption)
	}
	if len(nonce) != g.aead.NonceSize() {
		return nil, fmt.Errorf("%w: invalid nonce length %d", ErrDecryption, len(nonce))
	}

	sealed, err := hex.DecodeString(sealedHex)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ciphertext encoding", ErrDecryption)
	}
	if len(sealed) < g.aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryption)
	}

	plaintext, err := g.aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrDecryption)
	}

	return plaintext, nil
}
