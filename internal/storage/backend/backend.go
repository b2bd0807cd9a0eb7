// Package backend 按配置创建存储后端
package backend

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"reportline/backend/internal/config"
	"reportline/backend/internal/storage"
	"reportline/backend/internal/storage/filesystem"
	"reportline/backend/internal/storage/memory"
	redisstore "reportline/backend/internal/storage/redis"
	"reportline/backend/internal/storage/s3store"
	sqlstore "reportline/backend/internal/storage/sql"
)

// Store 已打开的存储后端
type Store interface {
	storage.BlobStore
	storage.Pinger
}

// Open 根据 cfg.Storage.Backend 初始化存储
//
// 返回的 Store 若实现了 io.Closer，调用方负责关闭，见 Close
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("storage")

	switch cfg.Storage.Backend {
	case config.BackendFilesystem:
		store, err := filesystem.NewStore(cfg.Storage.Path, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize filesystem storage: %w", err)
		}
		log.Info("using filesystem storage", zap.String("path", cfg.Storage.Path))
		return store, nil

	case config.BackendMemory:
		log.Warn("using memory storage, reports are lost on restart")
		return memory.NewStore(), nil

	case config.BackendRedis:
		store, err := redisstore.New(&cfg.Redis, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis storage: %w", err)
		}
		log.Info("using redis storage", zap.String("address", cfg.Redis.Address))
		return store, nil

	case config.BackendPostgres, config.BackendMySQL:
		store, err := sqlstore.NewStore(cfg.Storage.Backend, &cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database storage: %w", err)
		}
		log.Info("using database storage", zap.String("driver", store.DriverName()))
		return store, nil

	case config.BackendS3:
		store, err := s3store.New(ctx, &cfg.S3, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize s3 storage: %w", err)
		}
		log.Info("using s3 storage",
			zap.String("bucket", cfg.S3.Bucket),
			zap.String("region", cfg.S3.Region),
		)
		return store, nil
	}

	return nil, fmt.Errorf("unsupported storage backend: %q", cfg.Storage.Backend)
}

// Close 关闭持有连接的后端，其它后端直接返回 nil
func Close(store Store) error {
	if closer, ok := store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
