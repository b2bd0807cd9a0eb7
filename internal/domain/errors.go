package domain

import (
	"errors"
	"sort"
	"strings"
)

// 对外可区分的错误只有三类：校验失败、未找到、通用失败。
var (
	// ErrNotFound 追踪 ID 未知或格式错误，两者不做区分
	ErrNotFound = errors.New("report not found")
	// ErrInternal 解密失败、记录损坏或读取失败
	ErrInternal = errors.New("internal failure")
	// ErrStorage 提交时写入失败，不会签发追踪 ID
	ErrStorage = errors.New("storage failure")
)

// ValidationError 携带字段级别的校验信息，发生时不会有任何写入。
type ValidationError struct {
	Fields map[string]string `json:"fields"`
}

// NewValidationError 创建空的校验错误
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

// Add 记录一个字段错误，同一字段只保留第一条
func (e *ValidationError) Add(field, message string) {
	if _, exists := e.Fields[field]; exists {
		return
	}
	e.Fields[field] = message
}

// HasErrors 是否存在字段错误
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
