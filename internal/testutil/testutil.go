// Package testutil 提供测试用的数据库与共享存储。
package testutil

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/SlpAus/agm-voting-backend/internal/platform/config"
	"github.com/SlpAus/agm-voting-backend/internal/platform/database"
	"github.com/SlpAus/agm-voting-backend/internal/platform/kv"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// OpenDB 在临时目录中创建一个sqlite数据库并迁移给定的模型
func OpenDB(t testing.TB, models ...any) *gorm.DB {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if len(models) > 0 {
		if err := db.AutoMigrate(models...); err != nil {
			t.Fatalf("migrate test db: %v", err)
		}
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// RedisStore 启动一个 miniredis 实例并返回基于它的 kv.Redis
func RedisStore(t testing.TB) (*kv.Redis, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return kv.NewRedis(rdb), mr
}

// Logger 返回一个丢弃所有输出的logger
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
