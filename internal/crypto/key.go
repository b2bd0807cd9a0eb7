package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySize AES-256 密钥长度（字节）
const KeySize = 32

// keyInfo 绑定派生密钥的用途，更换用途时必须修改
const keyInfo = "reportline/report-encryption/v1"

// ErrEmptySecret 未配置密钥来源
var ErrEmptySecret = errors.New("encryption secret is empty")

// Key 进程内持有的对称密钥，启动时派生一次，关闭时销毁。
type Key struct {
	material []byte
}

// DeriveKey 使用 HKDF-SHA256 从配置的密钥来源派生 256 位密钥
//
// 参数:
//   - secret: 配置中的密钥来源，不能为空
//   - salt: 可选的盐值，为空时 HKDF 使用全零盐
func DeriveKey(secret, salt string) (*Key, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	var saltBytes []byte
	if salt != "" {
		saltBytes = []byte(salt)
	}

	reader := hkdf.New(sha256.New, []byte(secret), saltBytes, []byte(keyInfo))
	material := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, material); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	return &Key{material: material}, nil
}

// Destroy 清零密钥内容，之后不能再用于创建 Gateway
func (k *Key) Destroy() {
	if k == nil {
		return
	}
	for i := range k.material {
		k.material[i] = 0
	}
	k.material = nil
}

// String 避免密钥被日志或 fmt 输出
func (k *Key) String() string {
	return "crypto.Key(redacted)"
}

// GoString 同 String
func (k *Key) GoString() string {
	return k.String()
}
