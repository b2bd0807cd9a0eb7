package filesystem

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

// PlatformUtils 平台兼容性工具
type PlatformUtils struct{}

// NewPlatformUtils 创建平台工具实例
func NewPlatformUtils() *PlatformUtils {
	return &PlatformUtils{}
}

// ValidatePath 验证根路径是否安全
func (p *PlatformUtils) ValidatePath(path string) error {
	// 1. 不能为空
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("path is empty")
	}

	// 2. 检查路径长度
	if len(path) > p.GetMaxPathLength() {
		return fmt.Errorf("path too long: %d characters", len(path))
	}

	// 3. 检查是否包含路径遍历
	for _, part := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return fmt.Errorf("path traversal detected: %s", path)
		}
	}

	return nil
}

// GetMaxPathLength 获取当前平台根路径的最大长度（为对象键预留空间）
func (p *PlatformUtils) GetMaxPathLength() int {
	switch runtime.GOOS {
	case "windows":
		return 200
	default:
		return 1024
	}
}

// IsCaseSensitive 检查当前文件系统是否大小写敏感
func (p *PlatformUtils) IsCaseSensitive() bool {
	switch runtime.GOOS {
	case "windows":
		return false
	default:
		// 保守假设为大小写敏感
		return true
	}
}

// NormalizePath 标准化路径
func (p *PlatformUtils) NormalizePath(path string) string {
	// 1. 转换为绝对路径
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}

	// 2. 清理路径
	cleanPath := filepath.Clean(absPath)

	// 3. 如果文件系统不区分大小写，转换为小写
	if !p.IsCaseSensitive() {
		cleanPath = strings.ToLower(cleanPath)
	}

	return cleanPath
}
