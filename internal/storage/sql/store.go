package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"reportline/backend/internal/config"
	"reportline/backend/internal/storage"
)

// 唯一约束冲突的驱动错误码
const (
	pgUniqueViolation   = "23505"
	mysqlDuplicateEntry = 1062
)

// objectRecord 对象表，只保存存储键与密文
type objectRecord struct {
	ObjectKey string    `gorm:"column:object_key;primaryKey;type:varchar(512)"`
	Data      []byte    `gorm:"column:data;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName 表名
func (objectRecord) TableName() string {
	return "report_objects"
}

// Store SQL 数据库存储实现（支持 MySQL 5.7+ 和 PostgreSQL）
type Store struct {
	db         *gorm.DB
	driverName string // "mysql" or "postgres"
}

// NewStore 创建SQL数据库存储
func NewStore(driverName string, cfg *config.DatabaseConfig) (*Store, error) {
	var dialector gorm.Dialector
	switch driverName {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = gormmysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}

	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	return NewStoreWithDialector(driverName, dialector, cfg)
}

// NewStoreWithDialector 使用指定的GORM dialector创建存储实例
func NewStoreWithDialector(driverName string, dialector gorm.Dialector, cfg *config.DatabaseConfig) (*Store, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // 静默模式
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 配置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// 自动迁移数据库表
	if err := db.AutoMigrate(&objectRecord{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db, driverName: driverName}, nil
}

// Put 插入对象，主键冲突时返回 storage.ErrObjectExists
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}

	record := &objectRecord{ObjectKey: key, Data: data}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		if isDuplicateKey(err) {
			return storage.ErrObjectExists
		}
		return fmt.Errorf("failed to insert object: %w", err)
	}
	return nil
}

// Get 读取对象
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := storage.ValidateKey(key); err != nil {
		return nil, err
	}

	var record objectRecord
	err := s.db.WithContext(ctx).Where("object_key = ?", key).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to query object: %w", err)
	}
	return record.Data, nil
}

// Exists 检查对象是否存在
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := storage.ValidateKey(key); err != nil {
		return false, err
	}

	var count int64
	err := s.db.WithContext(ctx).Model(&objectRecord{}).Where("object_key = ?", key).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to count object: %w", err)
	}
	return count > 0, nil
}

// Delete 删除对象
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Where("object_key = ?", key).Delete(&objectRecord{}).Error
}

// Ping 检查数据库健康状态
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DriverName 当前数据库类型
func (s *Store) DriverName() string {
	return s.driverName
}

// isDuplicateKey 判断是否为唯一约束冲突
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}

	return false
}
