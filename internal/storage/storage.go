package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store 封装 postgres（gorm）与可选的 redis。
// Redis 为 nil 时锁与缓存退化为直通。
type Store struct {
	DB    *gorm.DB
	Redis *redis.Client
	log   *zap.Logger
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		// 每条写入都是单语句，不需要 gorm 默认包的事务
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Warn),
	}
}

// NewStore 连接 postgres 与 redis，并自动迁移表结构
func NewStore(dsn, redisAddr string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.AutoMigrate(&Source{}, &Content{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	var rdb *redis.Client
	if redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:         redisAddr,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis ping failed, continuing without it", zap.Error(err))
			_ = rdb.Close()
			rdb = nil
		}
	}

	return NewStoreWithDB(db, rdb, log), nil
}

// NewStoreWithDB 使用已有连接构造 Store，不做迁移
func NewStoreWithDB(db *gorm.DB, rdb *redis.Client, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{DB: db, Redis: rdb, log: log}
}

// OpenWithDialector 以仓库统一的 gorm 配置打开连接，测试中配合 sqlmock 使用
func OpenWithDialector(d gorm.Dialector) (*gorm.DB, error) {
	return gorm.Open(d, gormConfig())
}

// Ping 检查数据库是否可达
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

// Close 释放数据库与 redis 连接
func (s *Store) Close() error {
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
