package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultMaxAttachmentBytes 默认附件大小上限 10MB
const DefaultMaxAttachmentBytes int64 = 10 * 1024 * 1024

// MaxFilenameBytes 清洗后文件名的最大 UTF-8 字节数
//
// 存储层按字节限制：文件系统单个路径段最多 255 字节，且要追加 ".enc" 后缀
const MaxFilenameBytes = 200

// DefaultAllowedExtensions 默认允许的附件扩展名
var DefaultAllowedExtensions = []string{
	".pdf", ".txt", ".png", ".jpg", ".jpeg", ".gif", ".webp",
	".doc", ".docx", ".odt", ".zip", ".csv",
}

// 附件校验错误
var (
	ErrEmptyAttachment     = errors.New("attachment is empty")
	ErrAttachmentTooLarge  = errors.New("attachment exceeds size limit")
	ErrInvalidFilename     = errors.New("attachment filename is invalid")
	ErrExtensionNotAllowed = errors.New("attachment extension is not allowed")
	ErrExecutableContent   = errors.New("attachment content is executable")
)

// executableTypes 即使扩展名合法也拒绝的内容类型，子类型通过 Parent 链匹配
var executableTypes = map[string]bool{
	"application/vnd.microsoft.portable-executable": true,
	"application/x-msdownload":                      true,
	"application/x-elf":                             true,
	"application/x-mach-binary":                     true,
	"application/java-archive":                      true,
	"application/x-ms-installer":                    true,
	"text/x-shellscript":                            true,
}

// AttachmentPolicy 附件安全策略
type AttachmentPolicy struct {
	allowedExtensions map[string]bool
	maxBytes          int64
}

// NewAttachmentPolicy 创建附件策略，extensions 为空时使用默认列表
func NewAttachmentPolicy(maxBytes int64, extensions []string) *AttachmentPolicy {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxAttachmentBytes
	}
	if len(extensions) == 0 {
		extensions = DefaultAllowedExtensions
	}

	allowed := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = true
	}

	return &AttachmentPolicy{
		allowedExtensions: allowed,
		maxBytes:          maxBytes,
	}
}

// MaxBytes 附件大小上限
func (p *AttachmentPolicy) MaxBytes() int64 {
	return p.maxBytes
}

// CheckName 清洗文件名并检查扩展名，返回可用于存储键的文件名
func (p *AttachmentPolicy) CheckName(filename string) (string, error) {
	clean := SanitizeFilename(filename)
	if clean == "" {
		return "", ErrInvalidFilename
	}

	ext := strings.ToLower(filepath.Ext(clean))
	if !p.allowedExtensions[ext] {
		return "", fmt.Errorf("%w: %q", ErrExtensionNotAllowed, ext)
	}
	return clean, nil
}

// CheckSize 检查声明的或实际的大小
func (p *AttachmentPolicy) CheckSize(size int64) error {
	if size <= 0 {
		return ErrEmptyAttachment
	}
	if size > p.maxBytes {
		return ErrAttachmentTooLarge
	}
	return nil
}

// Inspect 嗅探内容类型，拒绝可执行文件
func (p *AttachmentPolicy) Inspect(data []byte) (string, error) {
	if err := p.CheckSize(int64(len(data))); err != nil {
		return "", err
	}

	detected := mimetype.Detect(data)
	for mt := detected; mt != nil; mt = mt.Parent() {
		if executableTypes[mt.String()] {
			return "", fmt.Errorf("%w: %s", ErrExecutableContent, mt.String())
		}
	}
	return detected.String(), nil
}

// Check 依次执行文件名、大小和内容检查
func (p *AttachmentPolicy) Check(filename string, data []byte) (cleanName, contentType string, err error) {
	cleanName, err = p.CheckName(filename)
	if err != nil {
		return "", "", err
	}
	contentType, err = p.Inspect(data)
	if err != nil {
		return "", "", err
	}
	return cleanName, contentType, nil
}

// SanitizeFilename 去掉路径、控制字符和保留字符，限制长度并保留扩展名
func SanitizeFilename(name string) string {
	// 同时处理 Windows 客户端上传的路径
	name = strings.ReplaceAll(name, "\\", "/")
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsControl(r):
			continue
		case strings.ContainsRune(`<>:"|?*`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}

	clean := strings.TrimSpace(b.String())
	clean = strings.TrimLeft(clean, ". ")
	clean = strings.TrimRight(clean, ". ")

	return truncateFilename(clean, MaxFilenameBytes)
}

// truncateFilename 按字节截断文件名，只在字符边界处切分，尽量保留扩展名
func truncateFilename(name string, limit int) string {
	if len(name) <= limit {
		return name
	}

	ext := filepath.Ext(name)
	if len(ext)+utf8.UTFMax > limit {
		return strings.TrimRight(cutAtRune(name, limit), ". ")
	}

	base := strings.TrimSuffix(name, ext)
	base = strings.TrimRight(cutAtRune(base, limit-len(ext)), ". ")
	return base + ext
}

// cutAtRune 返回不超过 limit 字节的最长前缀，不拆分多字节字符
func cutAtRune(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
