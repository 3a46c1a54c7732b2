// Package startup 负责启动时的表结构迁移和缓存预热。
package startup

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/SlpAus/agm-voting-backend/internal/audit"
	"github.com/SlpAus/agm-voting-backend/internal/ballot"
	"github.com/SlpAus/agm-voting-backend/internal/event"
	"github.com/SlpAus/agm-voting-backend/internal/identity"
	"github.com/SlpAus/agm-voting-backend/internal/motion"
)

// Models 返回所有需要持久化的模型
func Models() []any {
	var models []any
	models = append(models, event.Models()...)
	models = append(models, identity.Models()...)
	models = append(models, ballot.Models()...)
	models = append(models, audit.Models()...)
	models = append(models, motion.Models()...)
	return models
}

// MigrateDB 自动迁移所有表结构
func MigrateDB(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	slog.Info("数据库表迁移成功")
	return nil
}

// CacheRebuilder 能从数据库重建自己的缓存
type CacheRebuilder interface {
	RebuildCache(ctx context.Context) (int, error)
}

// RebuildCache 重建所有缓存。启动时和Redis重启后都会调用。
func RebuildCache(ctx context.Context, motions CacheRebuilder) error {
	n, err := motions.RebuildCache(ctx)
	if err != nil {
		return fmt.Errorf("重建动议计票缓存失败: %w", err)
	}
	slog.Info("缓存重建完成", "open_motions", n)
	return nil
}

// InitializeApplication 是应用启动时执行的总入口
func InitializeApplication(ctx context.Context, db *gorm.DB, motions CacheRebuilder) error {
	if err := MigrateDB(db); err != nil {
		return err
	}
	return RebuildCache(ctx, motions)
}
