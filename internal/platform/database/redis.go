package database

import (
	"context"
	"log/slog"
	"time"

	"github.com/SlpAus/agm-voting-backend/internal/platform/config"
	"github.com/redis/go-redis/v9"
)

// RDB 是一个全局的Redis客户端实例，Redis未启用时为nil
var RDB *redis.Client

// InitRedis 初始化与Redis数据库的连接
// 与持久化数据库不同，Redis只是加速层，连接失败时系统以降级模式启动而不是退出
func InitRedis(cfg config.RedisConfig) *redis.Client {
	if !cfg.Enabled {
		slog.Info("Redis未启用，计票与在线状态将使用进程内存储")
		UpdateStatus(false, "")
		return nil
	}

	RDB = redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := RDB.Ping(ctx).Err(); err != nil {
		slog.Warn("无法连接到Redis，以降级模式启动", "addr", cfg.Address, "error", err)
		UpdateStatus(false, "")
		return RDB
	}

	slog.Info("Redis 连接成功", "addr", cfg.Address)
	return RDB
}
