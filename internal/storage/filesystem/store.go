package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"reportline/backend/internal/storage"
)

// tempPrefix 未发布的临时文件前缀，存储键的段不允许以 "." 开头，因此不会与正式对象冲突
const tempPrefix = ".tmp-"

// Store 文件系统存储实现
//
// 目录结构:
//
//	{base}/reports/{trackingID}.enc
//	{base}/attachments/{trackingID}/{filename}.enc
type Store struct {
	basePath      string         // 存储根目录
	platformUtils *PlatformUtils // 平台兼容性工具
	log           *zap.Logger
}

// Stats 存储统计信息
type Stats struct {
	TotalSizeBytes  int64  `json:"totalSizeBytes"`
	ReportCount     int    `json:"reportCount"`
	AttachmentCount int    `json:"attachmentCount"`
	PendingTemp     int    `json:"pendingTemp"`
	BasePath        string `json:"basePath"`
}

// NewStore 创建文件系统存储实例
func NewStore(basePath string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	platformUtils := NewPlatformUtils()

	if err := platformUtils.ValidatePath(basePath); err != nil {
		return nil, fmt.Errorf("invalid base path: %w", err)
	}

	normalizedPath := platformUtils.NormalizePath(basePath)

	// 目录只允许服务进程访问
	if err := os.MkdirAll(normalizedPath, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Store{
		basePath:      normalizedPath,
		platformUtils: platformUtils,
		log:           log.Named("filesystem"),
	}, nil
}

// Put 原子写入对象：先写临时文件并 fsync，再以硬链接发布，目标已存在时链接失败
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	if _, err := os.Lstat(path); err == nil {
		return storage.ErrObjectExists
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	// 发布后删除临时名不影响正式对象；失败路径上负责清理
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// 取消发生在发布之前时，对象对读者始终不可见
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Link(tmpName, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return storage.ErrObjectExists
		}
		return fmt.Errorf("failed to publish object: %w", err)
	}

	s.syncDir(dir)
	return nil
}

// Get 读取对象内容
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}

	return content, nil
}

// Exists 检查对象是否存在
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	path, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err = os.Lstat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("failed to stat object: %w", err)
	}
}

// Delete 删除对象，不存在时返回 nil
func (s *Store) Delete(ctx context.Context, key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// Ping 检查根目录可访问
func (s *Store) Ping(ctx context.Context) error {
	info, err := os.Stat(s.basePath)
	if err != nil {
		return fmt.Errorf("storage base path unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage base path is not a directory: %s", s.basePath)
	}
	return nil
}

// CleanupStaleTemp 清理因进程中断遗留的临时文件（基于修改时间）
func (s *Store) CleanupStaleTemp(maxAge time.Duration) (int, error) {
	count := 0
	cutoffTime := time.Now().Add(-maxAge)

	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // 跳过错误，继续遍历
		}
		if d.IsDir() || !strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		if info.ModTime().Before(cutoffTime) {
			if err := os.Remove(path); err == nil {
				count++
			} else {
				s.log.Warn("failed to remove stale temp file", zap.String("file", d.Name()), zap.Error(err))
			}
		}
		return nil
	})

	return count, err
}

// GetStorageStats 获取存储统计信息
func (s *Store) GetStorageStats() (*Stats, error) {
	stats := &Stats{BasePath: s.basePath}

	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		stats.TotalSizeBytes += info.Size()

		rel, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		switch {
		case strings.HasPrefix(d.Name(), tempPrefix):
			stats.PendingTemp++
		case strings.HasPrefix(rel, "reports/"):
			stats.ReportCount++
		case strings.HasPrefix(rel, "attachments/"):
			stats.AttachmentCount++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// ========== 辅助方法 ==========

// resolve 将存储键映射为根目录下的绝对路径
func (s *Store) resolve(key string) (string, error) {
	if err := storage.ValidateKey(key); err != nil {
		return "", err
	}

	path := filepath.Join(s.basePath, filepath.FromSlash(key))
	if !strings.HasPrefix(path, s.basePath+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: escapes base path", storage.ErrInvalidKey)
	}
	if !s.platformUtils.IsCaseSensitive() {
		path = strings.ToLower(path)
	}
	return path, nil
}

// syncDir 刷新目录项，使发布在掉电后依然可见（部分平台不支持，忽略错误）
func (s *Store) syncDir(dir string) {
	f, err := os.Open(dir)
	if err != nil {
		return
	}
	defer f.Close()
	_ = f.Sync()
}
