package memory

import (
	"context"
	"sync"

	"reportline/backend/internal/storage"
)

// Store 使用内存保存密文对象，主要用于开发验证与测试。
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		objects: make(map[string][]byte),
	}
}

// Put 写入对象，键已存在时返回 storage.ErrObjectExists
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// 复制一份，调用方之后修改切片不影响已存对象
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.objects[key]; exists {
		return storage.ErrObjectExists
	}
	s.objects[key] = buf
	return nil
}

// Get 读取对象
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := storage.ValidateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}

	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Exists 检查对象是否存在
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := storage.ValidateKey(key); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.objects[key]
	return ok, nil
}

// Delete 删除对象
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.objects, key)
	return nil
}

// Ping 内存存储始终可用
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Len 当前对象数量
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Overwrite 绕过不覆盖约束直接替换对象内容，仅供测试模拟存储损坏
func (s *Store) Overwrite(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
}
