package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"reportline/backend/internal/config"
	"reportline/backend/internal/storage"
)

// Store 基于 Redis 的对象存储，键格式 {prefix}{objectKey}，不设置过期时间
type Store struct {
	rdb    goredis.UniversalClient
	prefix string
	log    *zap.Logger
}

// New 创建新的 Redis 存储并测试连接
func New(cfg *config.RedisConfig, log *zap.Logger) (*Store, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password.Reveal(),
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 测试连接
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if log == nil {
		log = zap.NewNop()
	}
	log.Info("connected to Redis",
		zap.String("address", cfg.Address),
		zap.Int("db", cfg.DB),
	)

	return NewWithClient(rdb, cfg.Prefix, log), nil
}

// NewWithClient 使用已有客户端创建存储
func NewWithClient(rdb goredis.UniversalClient, prefix string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		rdb:    rdb,
		prefix: prefix,
		log:    log.Named("redis"),
	}
}

// Put 使用 SETNX 写入，键已存在时不覆盖
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}

	ok, err := s.rdb.SetNX(ctx, s.prefix+key, data, 0).Result()
	if err != nil {
		return fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		return storage.ErrObjectExists
	}
	return nil
}

// Get 读取对象
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := storage.ValidateKey(key); err != nil {
		return nil, err
	}

	data, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, storage.ErrObjectNotFound
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}

// Exists 检查对象是否存在
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := storage.ValidateKey(key); err != nil {
		return false, err
	}

	n, err := s.rdb.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}

// Delete 删除对象
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	return s.rdb.Del(ctx, s.prefix+key).Err()
}

// Ping 测试 Redis 连接
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close 关闭 Redis 连接
func (s *Store) Close() error {
	err := s.rdb.Close()
	if err != nil {
		s.log.Error("failed to close Redis connection", zap.Error(err))
		return err
	}
	s.log.Info("Redis connection closed")
	return nil
}
