// Package tracking 生成与校验举报追踪 ID。
//
// 追踪 ID 是提交者唯一持有的凭证，使用 crypto/rand 生成的 UUIDv4，
// 不包含时间戳或计数器等可预测成分。
package tracking

import (
	"fmt"

	"github.com/google/uuid"
)

// Length 规范格式追踪 ID 的长度
const Length = 36

// New 生成新的追踪 ID（小写、带连字符的规范格式）
func New() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate tracking id: %w", err)
	}
	return id.String(), nil
}

// Valid 检查 id 是否为规范格式的 UUIDv4
//
// 只接受 New 产生的形式，大括号、urn 前缀和大写形式一律拒绝。
func Valid(id string) bool {
	if len(id) != Length {
		return false
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return false
	}

	if parsed.Version() != 4 || parsed.Variant() != uuid.RFC4122 {
		return false
	}

	return parsed.String() == id
}
