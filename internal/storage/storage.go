package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	// ErrObjectNotFound 对象不存在
	ErrObjectNotFound = errors.New("object not found")
	// ErrObjectExists 对象已存在，写入被拒绝（不会覆盖）
	ErrObjectExists = errors.New("object already exists")
	// ErrInvalidKey 存储键格式非法
	ErrInvalidKey = errors.New("invalid object key")
)

// BlobStore 定义密文对象的存取能力。
//
// 实现必须保证：
//   - Put 对已存在的键返回 ErrObjectExists，绝不覆盖
//   - Put 对读者是原子的，要么完整可见，要么不可见
//   - Get 对不存在的键返回 ErrObjectNotFound
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error // 不存在时返回 nil
}

// Pinger 可选的健康检查能力
type Pinger interface {
	Ping(ctx context.Context) error
}

const (
	reportPrefix     = "reports"
	attachmentPrefix = "attachments"
	objectSuffix     = ".enc"
	maxKeyLength     = 512
)

// ReportKey 举报记录密文的存储键: reports/{trackingID}.enc
func ReportKey(trackingID string) string {
	return reportPrefix + "/" + trackingID + objectSuffix
}

// AttachmentKey 附件密文的存储键: attachments/{trackingID}/{filename}.enc
func AttachmentKey(trackingID, filename string) string {
	return attachmentPrefix + "/" + trackingID + "/" + filename + objectSuffix
}

// ValidateKey 检查存储键，各后端在访问前调用
//
// 规则：
//   - 由 "/" 分隔的非空段组成
//   - 段不能以 "." 开头（保留给临时文件），因此也排除了 "." 与 ".."
//   - 不允许反斜杠和控制字符
func ValidateKey(key string) error {
	if key == "" || len(key) > maxKeyLength {
		return fmt.Errorf("%w: length", ErrInvalidKey)
	}

	for _, segment := range strings.Split(key, "/") {
		if segment == "" {
			return fmt.Errorf("%w: empty segment", ErrInvalidKey)
		}
		if strings.HasPrefix(segment, ".") {
			return fmt.Errorf("%w: dot segment", ErrInvalidKey)
		}
	}

	for _, r := range key {
		if r == '\\' || unicode.IsControl(r) {
			return fmt.Errorf("%w: illegal character", ErrInvalidKey)
		}
	}

	return nil
}
